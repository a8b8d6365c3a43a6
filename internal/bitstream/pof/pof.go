// Package pof parses Intel/Altera .pof programming object files: a "POF\0"
// magic, two 32-bit fields (first-section offset, packet count), then a
// stream of packets each {uint16 flag, uint32 size, payload}. Grounded on
// original_source/src/pofParser.cpp's parse()/parseSection()/parseFlag26().
package pof

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

const (
	flagTool       = 0x01
	flagPartName   = 0x02
	flagDesignName = 0x03
	flagMaybeCRC   = 0x08
	flagCfgData    = 0x11
	flagFlashMap   = 0x1a
)

// Section is one named memory region (CFM0, UFM, ICB, ...) described by the
// 0x1a flash-map packet, with Data sliced from the 0x11 cfg-data payload at
// Offset (bits) and Len (bits), Offset counted after the payload's leading
// 12 bytes.
type Section struct {
	ID     byte
	Name   string
	Offset uint32 // bit offset into the cfg data payload, past its first 12 bytes
	Len    uint32 // length in bits
	Data   []byte
}

// File is a parsed .pof image.
type File struct {
	bitstream.Image
	Sections map[string]Section
}

func (f *File) Section(name string) ([]byte, bool) {
	s, ok := f.Sections[name]
	return s.Data, ok
}

// Parse reads a .pof stream.
func Parse(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "pof: read", err)
	}
	if len(raw) < 12 || string(raw[:3]) != "POF" {
		return nil, fpgaerr.New(fpgaerr.KindParse, "pof: missing POF magic", nil)
	}
	pos := uint32(12) // magic(4) + unknown(4) + packet count(4)

	hdr := map[string]string{}
	f := &File{Sections: map[string]Section{}}

	for pos < uint32(len(raw)) {
		if pos+6 > uint32(len(raw)) {
			return nil, fpgaerr.New(fpgaerr.KindParse, "pof: truncated packet header", nil)
		}
		flag := binary.LittleEndian.Uint16(raw[pos:])
		pos += 2
		size := binary.LittleEndian.Uint32(raw[pos:])
		pos += 4
		if pos+size > uint32(len(raw)) {
			return nil, fpgaerr.New(fpgaerr.KindParse, "pof: packet exceeds file length", nil)
		}
		payload := raw[pos : pos+size]

		switch flag {
		case flagTool:
			hdr["tool"] = string(payload)
		case flagPartName:
			hdr["part_name"] = string(payload)
		case flagDesignName:
			hdr["design_name"] = string(payload)
		case flagMaybeCRC:
			if len(payload) >= 2 {
				hdr["maybeCRC"] = strconv.Itoa(int(binary.LittleEndian.Uint16(payload)))
			}
		case flagCfgData:
			f.Data = append([]byte(nil), payload...)
			f.BitLen = len(payload) * 8
		case flagFlashMap:
			if err := parseFlashMap(payload, f.Sections); err != nil {
				return nil, err
			}
		}
		pos += size
	}

	for name, s := range f.Sections {
		start := s.Offset + 0x0C*8
		end := start + s.Len
		if end/8 <= uint32(len(f.Data)) {
			s.Data = f.Data[start/8 : end/8]
			f.Sections[name] = s
		}
	}

	f.Header = hdr
	return f, nil
}

// parseFlashMap reads the 0x1a packet's ';'-separated section list, each
// entry "<1-byte id><name> <hex start> <hex length>", skipping the packet's
// leading 12 unknown bytes.
func parseFlashMap(payload []byte, out map[string]Section) error {
	if len(payload) < 12 {
		return fpgaerr.New(fpgaerr.KindParse, "pof: flash map packet too short", nil)
	}
	for _, word := range strings.Split(string(payload[12:]), ";") {
		word = strings.TrimRight(word, "\x00")
		if word == "" {
			continue
		}
		fields := strings.Fields(word)
		if len(fields) != 3 {
			return fpgaerr.New(fpgaerr.KindParse, fmt.Sprintf("pof: malformed flash map entry %q", word), nil)
		}
		if len(fields[0]) < 1 {
			return fpgaerr.New(fpgaerr.KindParse, "pof: empty flash map section id/name", nil)
		}
		id := fields[0][0]
		name := fields[0][1:]
		start, err := strconv.ParseUint(fields[1], 16, 32)
		if err != nil {
			return fpgaerr.New(fpgaerr.KindParse, "pof: flash map start offset", err)
		}
		length, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			return fpgaerr.New(fpgaerr.KindParse, "pof: flash map length", err)
		}
		out[name] = Section{ID: id, Name: name, Offset: uint32(start), Len: uint32(length)}
	}
	return nil
}
