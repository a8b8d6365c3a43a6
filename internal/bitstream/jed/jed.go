// Package jed parses JEDEC JESD3-C .jed fuse maps: an STX (0x02) lead byte,
// a sequence of '*'-terminated text fields (N notes, QF/QP counts, G
// security, F default-fuse-state, C checksum, E feature row/feabits, L fuse
// data areas, U usercode), an ETX (0x03), and a trailing checksum. Grounded
// on original_source/jedParser.cpp's readJEDLine/parse/parseEField/
// parseLField.
package jed

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Area is one 'L'-prefixed fuse data region: a bit offset and the packed
// bytes (8 ASCII '0'/'1' fuses per byte, LSB-first as buildDataArray packs
// them).
type Area struct {
	Offset int
	Data   []byte
	Note   string
}

// File is a parsed .jed fuse map.
type File struct {
	bitstream.Image
	FuseCount        int
	PinCount         int
	FeaturesRow      uint32
	Feabits          uint32
	Checksum         uint16
	UserCode         uint32
	SecuritySettings uint8
	DefaultFuseState uint8
	Areas            []Area
}

// Parse reads a .jed stream.
func Parse(r io.Reader) (*File, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)

	first := true
	f := &File{}
	var note string

	for {
		lines, ok := readJEDLines(sc)
		if !ok {
			break
		}
		if len(lines) == 0 {
			continue
		}
		if first {
			first = false
			if len(lines[0]) == 0 || lines[0][0] != 0x02 {
				return nil, fpgaerr.New(fpgaerr.KindParse, "jed: missing STX lead byte", nil)
			}
			lines[0] = lines[0][1:]
			if len(lines[0]) == 0 {
				continue
			}
		}

		switch lines[0][0] {
		case 'N':
			if len(lines[0]) > 5 {
				note = lines[0][5:]
			}
		case 'Q':
			if len(lines[0]) < 2 {
				return nil, fpgaerr.New(fpgaerr.KindParse, "jed: malformed Q field", nil)
			}
			count, err := strconv.Atoi(strings.TrimSpace(lines[0][2:]))
			if err != nil {
				return nil, fpgaerr.New(fpgaerr.KindParse, "jed: Q field count", err)
			}
			switch lines[0][1] {
			case 'F':
				f.FuseCount = count
			case 'P':
				f.PinCount = count
			default:
				return nil, fpgaerr.New(fpgaerr.KindParse, "jed: unknown Q qualifier", nil)
			}
		case 'G':
			if len(lines[0]) > 1 {
				f.SecuritySettings = lines[0][1] - '0'
			}
		case 'F':
			if len(lines[0]) > 1 {
				f.DefaultFuseState = lines[0][1] - '0'
			}
		case 'C':
			v, err := strconv.ParseUint(strings.TrimSpace(lines[0][1:]), 16, 16)
			if err != nil {
				return nil, fpgaerr.New(fpgaerr.KindParse, "jed: checksum field", err)
			}
			f.Checksum = uint16(v)
		case 0x03:
			// end marker; trailing file checksum (if present) is not
			// re-verified here.
		case 'E':
			parseEField(lines, f)
		case 'L':
			area, err := parseLField(lines)
			if err != nil {
				return nil, err
			}
			area.Note = note
			f.Areas = append(f.Areas, area)
		case 'U':
			if err := parseUField(lines[0], f); err != nil {
				return nil, err
			}
		default:
			return nil, fpgaerr.New(fpgaerr.KindParse, fmt.Sprintf("jed: unknown field type %q", lines[0][0]), nil)
		}
		if lines[0][0] == 0x03 {
			break
		}
	}

	var size int
	for _, a := range f.Areas {
		size += len(a.Data) * 8
	}
	if f.FuseCount != 0 && f.FuseCount != size {
		return nil, fpgaerr.New(fpgaerr.KindParse, "jed: not all fuses are programmed", nil)
	}
	if len(f.Areas) > 0 {
		var checksum uint16
		for _, b := range f.Areas[0].Data {
			checksum += uint16(b)
		}
		if f.Checksum != 0 && f.Checksum != checksum {
			return nil, fpgaerr.New(fpgaerr.KindChecksumMismatch, "jed: fuse data checksum mismatch", nil)
		}
		f.Data = f.Areas[0].Data
		f.BitLen = len(f.Areas[0].Data) * 8
	}
	f.Header = map[string]string{}
	return f, nil
}

// readJEDLines reads consecutive lines until one ends with '*' (the field
// terminator), stripping the '*'.
func readJEDLines(sc *bufio.Scanner) ([]string, bool) {
	var lines []string
	for {
		if !sc.Scan() {
			return lines, len(lines) > 0
		}
		line := sc.Text()
		if len(line) == 0 {
			return lines, len(lines) > 0
		}
		terminal := line[len(line)-1] == '*'
		if terminal {
			line = line[:len(line)-1]
		}
		lines = append(lines, line)
		if terminal {
			return lines, true
		}
	}
}

func parseEField(content []string, f *File) {
	if len(content) < 2 {
		return
	}
	row := content[0][1:]
	var fr uint32
	for i := 0; i < len(row); i++ {
		fr |= uint32(row[i]-'0') << uint(i)
	}
	f.FeaturesRow = fr

	var fb uint32
	for i := 0; i < len(content[1]); i++ {
		fb |= uint32(content[1][i]-'0') << uint(i)
	}
	f.Feabits = fb
}

func parseLField(content []string) (Area, error) {
	offset, err := strconv.Atoi(strings.TrimSpace(content[0][1:]))
	if err != nil {
		return Area{}, fpgaerr.New(fpgaerr.KindParse, "jed: L field offset", err)
	}
	a := Area{Offset: offset}
	for _, line := range content[1:] {
		if line == "" {
			continue
		}
		data, err := buildDataArray(line)
		if err != nil {
			return Area{}, err
		}
		a.Data = append(a.Data, data...)
	}
	return a, nil
}

func parseUField(line string, f *File) error {
	if len(line) < 2 {
		return fpgaerr.New(fpgaerr.KindParse, "jed: malformed U field", nil)
	}
	switch line[1] {
	case 'H':
		v, err := strconv.ParseUint(strings.TrimSpace(line[2:]), 16, 32)
		if err != nil {
			return fpgaerr.New(fpgaerr.KindParse, "jed: hex usercode", err)
		}
		f.UserCode = uint32(v)
	case 'A':
		v, err := strconv.Atoi(strings.TrimSpace(line[2:]))
		if err != nil {
			return fpgaerr.New(fpgaerr.KindParse, "jed: ascii usercode", err)
		}
		f.UserCode = uint32(v)
	default:
		var code uint32
		for i := 1; i < len(line); i++ {
			code = (code << 1) | uint32(line[i]-'0')
		}
		f.UserCode = code
	}
	return nil
}

// buildDataArray packs a run of ASCII '0'/'1' fuse characters into bytes,
// 8 fuses per byte, bit i of byte n taken from fuse n*8+i (LSB-first), same
// as JedParser::buildDataArray.
func buildDataArray(content string) ([]byte, error) {
	out := make([]byte, (len(content)+7)/8)
	for i := 0; i < len(content); i++ {
		if content[i] != '0' && content[i] != '1' {
			return nil, fpgaerr.New(fpgaerr.KindParse, "jed: non-binary fuse character", nil)
		}
		if content[i] == '1' {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}
