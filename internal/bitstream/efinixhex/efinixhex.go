// Package efinixhex parses Efinix .hex bitstreams: one ASCII hex byte value
// per line for the entire file, including a leading human-readable comment
// section (itself encoded byte-by-byte, terminated once a "PADDED_BITS"
// marker line has been seen and a blank line follows) carrying Mode/Width/
// Device header fields. Grounded on
// original_source/src/efinixHexParser.cpp's parseHeader/parse.
package efinixhex

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Parse reads an Efinix .hex stream.
func Parse(r io.Reader) (*bitstream.Image, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "efinixhex: scan", err)
	}

	var headerText strings.Builder
	foundPaddedBits := false
	for _, line := range lines {
		if line != "0A" {
			if v, err := strconv.ParseUint(line, 16, 8); err == nil {
				headerText.WriteByte(byte(v))
			}
		} else {
			headerText.WriteByte('\n')
			if foundPaddedBits {
				break
			}
		}
		if strings.Contains(headerText.String(), "PADDED_BITS") {
			foundPaddedBits = true
		}
	}

	hdr := map[string]string{}
	text := headerText.String()
	extractField(text, "Mode: ", "mode", hdr)
	extractField(text, "Width: ", "width", hdr)
	extractField(text, "Device: ", "device", hdr)

	data := make([]byte, 0, len(lines))
	for _, line := range lines {
		v, err := strconv.ParseUint(line, 16, 8)
		if err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "efinixhex: malformed hex byte "+line, err)
		}
		data = append(data, byte(v))
	}

	return &bitstream.Image{Data: data, BitLen: len(data) * 8, Header: hdr}, nil
}

func extractField(text, marker, key string, hdr map[string]string) {
	pos := strings.Index(text, marker)
	if pos < 0 {
		return
	}
	start := pos + len(marker)
	end := strings.IndexByte(text[start:], '\n')
	if end < 0 {
		hdr[key] = text[start:]
		return
	}
	hdr[key] = text[start : start+end]
}
