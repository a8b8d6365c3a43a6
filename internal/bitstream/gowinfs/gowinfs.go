// Package gowinfs parses Gowin .fs bitstreams: ASCII text, '//'-prefixed
// "key: value" comment lines forming the header, followed by one line per
// configuration row of '0'/'1' characters. Grounded on spec.md §4.6/§9's
// description of the format and on jed.Parse's ASCII-bit-to-byte packing,
// the closest sibling format in this pack.
package gowinfs

import (
	"bufio"
	"io"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// File is a parsed Gowin .fs image.
type File struct {
	bitstream.Image
	Checksum       uint16 // computed over Data
	HeaderChecksum uint16 // header's "Checksum" field, 0 if absent
}

func (f *File) IDCODE() string { return f.Header["IDCODE"] }

// Parse reads a .fs stream.
func Parse(r io.Reader) (*File, error) {
	src, err := bitstream.OpenMaybeGzip(r)
	if err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "gowinfs: gzip open", err)
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	hdr := map[string]string{}
	var bits []byte
	var nbits int

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "//") {
			body := strings.TrimSpace(strings.TrimPrefix(line, "//"))
			if i := strings.IndexByte(body, ':'); i >= 0 {
				key := strings.TrimSpace(body[:i])
				val := strings.TrimSpace(body[i+1:])
				hdr[key] = val
			}
			continue
		}
		for i := 0; i < len(line); i++ {
			c := line[i]
			if c != '0' && c != '1' {
				continue
			}
			if nbits%8 == 0 {
				bits = append(bits, 0)
			}
			if c == '1' {
				bits[len(bits)-1] |= 1 << uint(7-nbits%8)
			}
			nbits++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "gowinfs: scan", err)
	}

	var checksum uint16
	for _, b := range bits {
		checksum += uint16(b)
	}

	f := &File{
		Image:    bitstream.Image{Data: bits, BitLen: nbits, Header: hdr},
		Checksum: checksum,
	}
	if v, ok := hdr["Checksum"]; ok {
		if n, ok2 := parseHex16(v); ok2 {
			f.HeaderChecksum = n
			if n != checksum {
				return f, fpgaerr.New(fpgaerr.KindChecksumMismatch, "gowinfs: header checksum does not match computed checksum", nil)
			}
		}
	}
	return f, nil
}

func parseHex16(s string) (uint16, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var v uint16
	for _, c := range s {
		var d uint16
		switch {
		case c >= '0' && c <= '9':
			d = uint16(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint16(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint16(c-'A') + 10
		default:
			return 0, false
		}
		v = v<<4 | d
	}
	return v, true
}
