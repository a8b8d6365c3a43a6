// Package anlogicbit parses Anlogic bitstreams: ASCII "# key: value" header
// lines (or "# tool-name" when no colon is present) terminated by an empty
// line and a single 0x00 byte, followed by a sequence of
// 16-bit-big-endian-bit-length-prefixed data blocks. Grounded on
// original_source/src/anlogicBitParser.cpp's parseHeader/parse.
package anlogicbit

import (
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/bitstream/bitutil"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Parse reads an Anlogic bitstream already fully buffered in raw.
// reverseOrder bit-reverses every output byte, matching the flag accepted
// by the original family of per-vendor parsers.
func Parse(raw []byte, reverseOrder bool) (*bitstream.Image, error) {
	hdr, endHeader, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}

	pos := endHeader
	var blocks [][]byte
	for {
		if pos+2 > len(raw) {
			return nil, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: truncated block length", nil)
		}
		length := uint16(raw[pos])<<8 | uint16(raw[pos+1])
		pos += 2
		if length&7 != 0 {
			return nil, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: block length is not byte aligned", nil)
		}
		length >>= 3
		if pos+int(length) > len(raw) {
			return nil, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: block exceeds file length", nil)
		}
		blocks = append(blocks, raw[pos:pos+int(length)])
		pos += int(length)
		if pos >= len(raw) {
			break
		}
	}

	var data []byte
	for _, b := range blocks {
		for _, c := range b {
			if reverseOrder {
				c = bitutil.ReverseByte(c)
			}
			data = append(data, c)
		}
	}

	return &bitstream.Image{Data: data, BitLen: len(data) * 8, Header: hdr}, nil
}

// parseHeader reads consecutive "# ..." lines up to the first empty line,
// which must be immediately followed by a single 0x00 byte.
func parseHeader(raw []byte) (map[string]string, int, error) {
	hdr := map[string]string{}
	pos := 0
	for {
		nl := indexByte(raw, pos, '\n')
		if nl < 0 {
			return nil, 0, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: header never terminated", nil)
		}
		line := string(raw[pos:nl])
		pos = nl + 1

		if line == "" {
			break
		}
		if line[0] != '#' {
			return nil, 0, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: header must start with '#'", nil)
		}
		content := ""
		if len(line) > 2 {
			content = line[2:]
		}
		if i := strings.IndexByte(content, ':'); i < 0 {
			hdr["tool"] = content
		} else {
			key := content[:i]
			val := ""
			if i+2 <= len(content) {
				val = content[i+2:]
			}
			hdr[key] = val
		}
	}
	if pos >= len(raw) || raw[pos] != 0x00 {
		return nil, 0, fpgaerr.New(fpgaerr.KindParse, "anlogicbit: header must end with 0x00", nil)
	}
	return hdr, pos + 1, nil
}

func indexByte(b []byte, from int, c byte) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}
