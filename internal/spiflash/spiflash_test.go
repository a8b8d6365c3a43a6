package spiflash

import (
	"context"
	"testing"
	"time"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// fakeIface is a tiny in-memory SPI NOR model good enough to exercise
// Flash's command framing and control flow without a real bus.
type fakeIface struct {
	mem    []byte
	status byte
	wel    bool
	calls  []byte // cmd bytes seen, in order
}

func newFakeIface(size int) *fakeIface {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &fakeIface{mem: mem}
}

func (f *fakeIface) Put(ctx context.Context, cmd byte, tx, rx []byte) error {
	f.calls = append(f.calls, cmd)
	switch cmd {
	case cmdRDID:
		copy(rx, []byte{0xEF, 0x40, 0x18})
	case cmdRDSR:
		rx[0] = f.status
	case cmdWREN:
		f.wel = true
		f.status |= 1 << 1
	case cmdWRSR:
		f.status = (f.status &^ 0xFC) | (tx[0] &^ 0x03)
		f.wel = false
	case cmdSE, cmdSSE, cmdBE:
		addr := int(tx[0])<<16 | int(tx[1])<<8 | int(tx[2])
		size := 4 << 10
		if cmd == cmdSE {
			size = 64 << 10
		}
		for i := addr; i < addr+size && i < len(f.mem); i++ {
			f.mem[i] = 0xFF
		}
		f.wel = false
	}
	return nil
}

func (f *fakeIface) PutRaw(ctx context.Context, tx, rx []byte) error {
	if len(tx) == 0 {
		return nil
	}
	switch tx[0] {
	case cmdRead:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		n := len(rx) - 4
		copy(rx[4:], f.mem[addr:addr+n])
	case cmdPP:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		copy(f.mem[addr:], tx[4:])
		f.wel = false
	}
	return nil
}

func (f *fakeIface) Wait(ctx context.Context, cmd byte, mask, cond byte, timeout time.Duration) error {
	return nil // fake completes every operation synchronously
}

func TestReadID(t *testing.T) {
	f := New(newFakeIface(1<<20), func(id [3]byte) (Descriptor, bool) {
		if id == [3]byte{0xEF, 0x40, 0x18} {
			return Descriptor{Manufacturer: "Winbond", Model: "W25Q128", Supports64KErase: true, Supports4KErase: true}, true
		}
		return Descriptor{}, false
	})
	id, err := f.ReadID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != [3]byte{0xEF, 0x40, 0x18} {
		t.Fatalf("id = %v", id)
	}
	if f.desc == nil || f.desc.Manufacturer != "Winbond" {
		t.Fatalf("descriptor not resolved: %+v", f.desc)
	}
}

func TestStatusRegisterAccessors(t *testing.T) {
	sr := StatusRegister(0b10101111)
	if !sr.Busy() {
		t.Error("expected Busy")
	}
	if !sr.WriteEnabled() {
		t.Error("expected WriteEnabled")
	}
	if bp := sr.BlockProtect(); bp != 0b1011 {
		t.Errorf("BlockProtect = %#x, want 0xb", bp)
	}
	if !sr.SectorProtect() {
		t.Error("expected SectorProtect")
	}
	if sr.TopBottom() {
		t.Error("did not expect TopBottom")
	}
	if sr.WriteProtect() {
		t.Error("did not expect WriteProtect")
	}
}

// P7: EraseAndProgram followed by Verify must detect a single corrupted
// byte as a KindVerifyMismatch at the exact offset.
func TestVerifyDetectsMismatch(t *testing.T) {
	fi := newFakeIface(1 << 16)
	f := New(fi, nil)
	f.SetUnprotect(true)

	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	if err := f.EraseAndProgram(context.Background(), 0, data); err != nil {
		t.Fatal(err)
	}
	if err := f.Verify(context.Background(), 0, data, 64); err != nil {
		t.Fatalf("verify of freshly written data failed: %v", err)
	}

	fi.mem[200] ^= 0xFF // corrupt one byte directly in the backing store
	err := f.Verify(context.Background(), 0, data, 64)
	if err == nil {
		t.Fatal("expected verify mismatch")
	}
	fe, ok := err.(*fpgaerr.Error)
	if !ok {
		t.Fatalf("error is not *fpgaerr.Error: %v", err)
	}
	if fe.Offset != 200 {
		t.Fatalf("mismatch offset = %d, want 200", fe.Offset)
	}
}

func TestDisableProtectionRefusedByPolicy(t *testing.T) {
	fi := newFakeIface(1 << 16)
	fi.status = 0b00001100 // BP bits set
	f := New(fi, nil)
	// f.unprotect defaults to false
	if err := f.DisableProtection(context.Background()); err == nil {
		t.Fatal("expected policy refusal")
	}
}

func TestEraseAndProgramRoundTrip(t *testing.T) {
	fi := newFakeIface(256 << 10)
	f := New(fi, func(id [3]byte) (Descriptor, bool) {
		return Descriptor{Supports64KErase: true, Supports4KErase: true}, true
	})
	f.SetUnprotect(true)
	if _, err := f.ReadID(context.Background()); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 70<<10) // spans a 64K and a 4K sector
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := f.EraseAndProgram(context.Background(), 1000, data); err != nil {
		t.Fatal(err)
	}
	got, err := f.Read(context.Background(), 1000, len(data))
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], data[i])
		}
	}
}
