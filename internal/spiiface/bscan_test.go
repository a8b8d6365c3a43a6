package spiiface

import (
	"context"
	"testing"

	"github.com/fpgaflash/fpgaflash/internal/jtag"
	"github.com/fpgaflash/fpgaflash/internal/transport"
)

func idcodeOf(idcode jtag.IDCODE) (jtag.FPGAModel, bool) {
	if idcode == 0x12345678 {
		return jtag.FPGAModel{IRLen: 6}, true
	}
	return jtag.FPGAModel{}, false
}

// P6: bscan's byte-reversal + one-bit pipeline realignment recovers the
// plaintext byte a captured raw response encodes, per spec.md §4.3's
// out[i] = reverse(raw[i]>>1) | (raw[i+1]&1) rule. 0xA5's bit pattern is a
// palindrome (reverseByte(0xA5) == 0xA5), which keeps the arithmetic in
// this test easy to hand-verify: decode(raw[1]=0x4A, raw[2]=0x01) must
// yield 0xA5.
func TestBscanPipelineRealignment(t *testing.T) {
	m := transport.NewMock()
	chain := jtag.New(m, idcodeOf)
	chain.InsertFirst(0x12345678, 6)
	if err := chain.DeviceSelect(0); err != nil {
		t.Fatal(err)
	}

	profile := BscanProfile{IR: 0x3A, IRLen: 6, Preamble: []byte{0xFE, 0x68}}
	b := NewBscan(chain, profile)

	// rdo = preamble capture (2 bytes, ignored) ++ raw[0] (cmd's own
	// response, ignored) ++ raw[1], raw[2] (the data byte's pipeline pair).
	raw := []byte{0xFE, 0x68, 0x00, 0x4A, 0x01}
	nbits := len(raw) * 8
	bits := make([]bool, nbits)
	for i := 0; i < nbits; i++ {
		bits[i] = raw[i>>3]&(1<<uint(i&7)) != 0
	}
	m.Responses = [][]bool{bits}

	rx := make([]byte, 1)
	if err := b.Put(context.Background(), 0x9F, nil, rx); err != nil {
		t.Fatal(err)
	}
	if rx[0] != 0xA5 {
		t.Fatalf("decoded rx = 0x%02x, want 0xa5", rx[0])
	}
}
