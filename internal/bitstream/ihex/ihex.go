// Package ihex parses generic Intel HEX records (types 00 data, 01 EOF, 04
// extended linear address), reused for FX2 firmware images, Efinix .hex
// bridges, and as the base mcs builds its Xilinx/Intel .mcs variant on.
package ihex

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/bitstream/bitutil"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

const (
	recData               = 0x00
	recEOF                = 0x01
	recExtendedLinearAddr = 0x04
)

// Parse reads Intel HEX text from r, assembling a flat byte image addressed
// from the lowest record's address. reverseOrder bit-reverses every data
// byte as it is appended (some flows need MSB-first, others LSB-first).
func Parse(r io.Reader, reverseOrder bool) (*bitstream.Image, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)

	type chunk struct {
		addr uint32
		data []byte
	}
	var chunks []chunk
	var extAddr uint32
	done := false

	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] != ':' {
			return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: record missing ':' marker", nil)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: malformed hex digits", err)
		}
		if len(raw) < 5 {
			return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: record too short", nil)
		}
		n := int(raw[0])
		addr := uint32(raw[1])<<8 | uint32(raw[2])
		typ := raw[3]
		if len(raw) < 5+n {
			return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: declared length exceeds record", nil)
		}
		payload := raw[4 : 4+n]

		switch typ {
		case recData:
			if reverseOrder {
				rev := make([]byte, len(payload))
				for i, b := range payload {
					rev[i] = bitutil.ReverseByte(b)
				}
				payload = rev
			}
			chunks = append(chunks, chunk{addr: extAddr<<16 | addr, data: append([]byte(nil), payload...)})
		case recEOF:
			done = true
		case recExtendedLinearAddr:
			if len(payload) != 2 {
				return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: bad extended linear address record", nil)
			}
			extAddr = uint32(payload[0])<<8 | uint32(payload[1])
		}
		if done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: scan", err)
	}
	if !done {
		return nil, fpgaerr.New(fpgaerr.KindParse, "ihex: missing EOF record", nil)
	}
	if len(chunks) == 0 {
		return &bitstream.Image{Header: map[string]string{}}, nil
	}

	lo, hi := chunks[0].addr, chunks[0].addr+uint32(len(chunks[0].data))
	for _, c := range chunks[1:] {
		if c.addr < lo {
			lo = c.addr
		}
		if end := c.addr + uint32(len(c.data)); end > hi {
			hi = end
		}
	}
	out := make([]byte, hi-lo)
	for i := range out {
		out[i] = 0xFF
	}
	for _, c := range chunks {
		copy(out[c.addr-lo:], c.data)
	}
	hdr := map[string]string{"base_address": strconv.FormatUint(uint64(lo), 16)}
	return &bitstream.Image{Data: out, BitLen: len(out) * 8, Header: hdr}, nil
}
