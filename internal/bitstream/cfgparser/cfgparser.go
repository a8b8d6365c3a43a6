// Package cfgparser parses Cologne Chip GateMate .cfg bitstreams: plain
// ASCII text, one hex byte value per line, with "//" trailing comments and
// whitespace stripped before parsing. Grounded on
// original_source/src/colognechipCfgParser.cpp's parse().
package cfgparser

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Parse reads a .cfg stream, producing one output byte per non-empty line.
func Parse(r io.Reader) (*bitstream.Image, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	var data []byte
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		line = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' || r == '\r' {
				return -1
			}
			return r
		}, line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "cfgparser: malformed hex value "+line, err)
		}
		data = append(data, byte(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "cfgparser: scan", err)
	}
	return &bitstream.Image{Data: data, BitLen: len(data) * 8, Header: map[string]string{}}, nil
}
