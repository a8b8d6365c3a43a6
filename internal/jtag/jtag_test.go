package jtag

import (
	"context"
	"testing"

	"github.com/fpgaflash/fpgaflash/internal/transport"
)

func idcodeTable(idcode IDCODE) (FPGAModel, bool) {
	switch idcode {
	case 0x0362C093:
		return FPGAModel{Manufacturer: "Xilinx", Model: "XC7A50T", IRLen: 6}, true
	case 0x4BA00477:
		return FPGAModel{Manufacturer: "ARM", Model: "Cortex-debug", IRLen: 4}, true
	default:
		return FPGAModel{}, false
	}
}

// S1: chain scan with two devices.
func TestDetectChainTwoDevices(t *testing.T) {
	m := transport.NewMock()
	m.Responses = [][]bool{
		bitsLE(0x0362C093, 32),
		bitsLE(0x4BA00477, 32),
		bitsLE(0xFFFFFFFF, 32),
	}
	c := New(m, idcodeTable)
	if err := c.DetectChain(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	devs := c.Devices()
	if len(devs) != 2 || devs[0] != 0x0362C093 || devs[1] != 0x4BA00477 {
		t.Fatalf("unexpected chain: %v", devs)
	}
	irs := c.IRLengths()
	if irs[0] != 6 || irs[1] != 4 {
		t.Fatalf("unexpected ir lengths: %v", irs)
	}

	if err := c.DeviceSelect(0); err != nil {
		t.Fatal(err)
	}
	before, after := c.drBeforeAfter()
	if before != 1 || after != 0 {
		t.Fatalf("device 0 dr padding = before=%d after=%d, want before=1 after=0", before, after)
	}
	irBefore, irAfter := c.irBeforeAfter()
	if irBefore != 0 || irAfter != 4 {
		t.Fatalf("device 0 ir padding = before=%d after=%d, want before=0 after=4", irBefore, irAfter)
	}
}

func bitsLE(v uint32, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (v>>uint(i))&1 != 0
	}
	return out
}

// P2: single tabulated IDCODE is reported with its IR length.
func TestDetectChainSingleDevice(t *testing.T) {
	m := transport.NewMock()
	m.Responses = [][]bool{bitsLE(0x0362C093, 32), bitsLE(0x00000000, 32)}
	c := New(m, idcodeTable)
	if err := c.DetectChain(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if len(c.Devices()) != 1 || c.Devices()[0] != 0x0362C093 {
		t.Fatalf("expected single device, got %v", c.Devices())
	}
	if c.IRLengths()[0] != 6 {
		t.Fatalf("expected IR length 6, got %d", c.IRLengths()[0])
	}
}

// P1: open/close idempotent, repeated detect_chain is stable.
func TestDetectChainIdempotent(t *testing.T) {
	m := transport.NewMock()
	m.Responses = [][]bool{bitsLE(0x0362C093, 32), bitsLE(0xFFFFFFFF, 32)}
	c := New(m, idcodeTable)
	if err := c.DetectChain(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	first := c.Devices()

	m.Responses = [][]bool{bitsLE(0x0362C093, 32), bitsLE(0xFFFFFFFF, 32)}
	if err := c.DetectChain(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	second := c.Devices()
	if len(first) != len(second) || first[0] != second[0] {
		t.Fatalf("detect_chain not idempotent: %v vs %v", first, second)
	}
}

// P3: shift_ir on a 3-device chain produces ones_after ++ bits ++ ones_before
// with the final TMS=1 on the last bit.
func TestShiftIRPadding(t *testing.T) {
	m := transport.NewMock()
	c := New(m, idcodeTable)
	c.devices = []IDCODE{1, 2, 3}
	c.irLengths = []int{3, 4, 5}
	c.state = RunTestIdle
	if err := c.DeviceSelect(1); err != nil {
		t.Fatal(err)
	}
	// target bits: 0b101 (5), 4 bits
	payload := []byte{0x0A} // 1010 LSB-first across 4 bits -> 0,1,0,1
	if err := c.ShiftIR(context.Background(), payload, 4, RunTestIdle); err != nil {
		t.Fatal(err)
	}
	if len(m.TDILog) != 1 {
		t.Fatalf("expected exactly one WriteTDI call, got %d", len(m.TDILog))
	}
	got := m.TDILog[0]
	// after=irLengths[2]=5 ones, then 4 payload bits, then before=irLengths[0]=3 ones
	wantLen := 5 + 4 + 3
	if len(got) != wantLen {
		t.Fatalf("shift length = %d, want %d", len(got), wantLen)
	}
	for i := 0; i < 5; i++ {
		if !got[i] {
			t.Fatalf("expected bypass-after bit %d to be 1", i)
		}
	}
	wantPayload := bitsLE(0x0A, 4)
	for i := 0; i < 4; i++ {
		if got[5+i] != wantPayload[i] {
			t.Fatalf("payload bit %d = %v, want %v", i, got[5+i], wantPayload[i])
		}
	}
	for i := 0; i < 3; i++ {
		if !got[9+i] {
			t.Fatalf("expected bypass-before bit %d to be 1", i)
		}
	}
}

func TestShiftIRRejectsEndInShiftWithTrailingDevices(t *testing.T) {
	m := transport.NewMock()
	c := New(m, idcodeTable)
	c.devices = []IDCODE{1, 2}
	c.irLengths = []int{3, 3}
	c.state = RunTestIdle
	if err := c.DeviceSelect(0); err != nil {
		t.Fatal(err)
	}
	if err := c.ShiftIR(context.Background(), []byte{0}, 3, ShiftIR); err == nil {
		t.Fatal("expected error ending in SHIFT_IR with a trailing device")
	}
}
