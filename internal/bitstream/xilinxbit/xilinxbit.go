// Package xilinxbit parses Xilinx .bit files: a 16-bit big-endian length
// prefix for a misc-header string, followed by typed records a/b/c/d
// (ASCII strings, each preceded by its own 16-bit big-endian length) and a
// final record e (4-byte big-endian payload length) that introduces the raw
// bitstream. Grounded on original_source/src/bitparser.cpp's
// parseHeader()/parse().
package xilinxbit

import (
	"encoding/binary"
	"io"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/bitstream/bitutil"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// File is a parsed Xilinx .bit, exposing the accessors spec.md names
// alongside the common Image.
type File struct {
	bitstream.Image
}

func (f *File) DesignName() string  { return f.Header["design_name"] }
func (f *File) UserID() string      { return f.Header["userID"] }
func (f *File) ToolVersion() string { return f.Header["toolVersion"] }
func (f *File) PartName() string    { return f.Header["part_name"] }
func (f *File) Date() string        { return f.Header["date"] }
func (f *File) Hour() string        { return f.Header["hour"] }

func readU16BE(r io.Reader) (int, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(buf[:])), nil
}

func readString(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Parse reads a Xilinx .bit stream, transparently gunzipping if the input is
// a spiOverJtag_*.bit.gz bridge image. reverseOrder bit-reverses every
// payload byte after parsing (the SPI-over-JTAG bridge bitstreams and raw
// SRAM loads both want this; callers that only need header fields can pass
// false and ignore Data).
func Parse(r io.Reader, reverseOrder bool) (*File, error) {
	src, err := bitstream.OpenMaybeGzip(r)
	if err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: gzip open", err)
	}

	// Field 1: misc header, a length-prefixed string ignored beyond its
	// length (it carries no named fields the original keeps).
	n, err := readU16BE(src)
	if err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: misc header length", err)
	}
	if _, err := readString(src, n); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: misc header body", err)
	}

	// A second 16-bit length field precedes the typed record stream; the
	// original discards its value too (it's always 0x0001 "a").
	if _, err := readU16BE(src); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: record-stream marker", err)
	}

	hdr := map[string]string{}
	for {
		var typeByte [1]byte
		if _, err := io.ReadFull(src, typeByte[:]); err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: record type", err)
		}
		t := typeByte[0]

		var length int
		if t == 'e' {
			var buf [4]byte
			if _, err := io.ReadFull(src, buf[:]); err != nil {
				return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: data length", err)
			}
			bitLen := int(binary.BigEndian.Uint32(buf[:]))

			data, err := io.ReadAll(src)
			if err != nil {
				return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: payload read", err)
			}
			if reverseOrder {
				for i := range data {
					data[i] = bitutil.ReverseByte(data[i])
				}
			}
			return &File{bitstream.Image{Data: data, BitLen: bitLen * 8, Header: hdr}}, nil
		}

		length, err = readU16BE(src)
		if err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: record length", err)
		}
		val, err := readString(src, length)
		if err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: record body", err)
		}

		switch t {
		case 'a':
			parseDesignField(val, hdr)
		case 'b':
			hdr["part_name"] = val
		case 'c':
			hdr["date"] = val
		case 'd':
			hdr["hour"] = val
		default:
			return nil, fpgaerr.New(fpgaerr.KindParse, "xilinxbit: unknown record type", nil)
		}
	}
}

// parseDesignField splits the 'a' record's "<name>;UserID=<id>;Version=<v>"
// packed string, the same three ';'/'=' scan bitparser.cpp's parseHeader
// performs.
func parseDesignField(s string, hdr map[string]string) {
	semi1 := indexOrLen(s, ';', 0)
	hdr["design_name"] = s[:semi1]

	eq1 := indexOrLen(s, '=', semi1)
	semi2 := indexOrLen(s, ';', semi1+1)
	if eq1 < semi2 && eq1+1 <= len(s) {
		hdr["userID"] = s[eq1+1 : semi2]
	}

	eq2 := indexOrLen(s, '=', semi2)
	if eq2+1 <= len(s) {
		hdr["toolVersion"] = s[eq2+1:]
	}
}

func indexOrLen(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return len(s)
}
