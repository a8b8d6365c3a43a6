package svf

import (
	"context"
	"strings"
	"testing"

	"github.com/fpgaflash/fpgaflash/internal/jtag"
)

type recordedShift struct {
	isIR  bool
	tdi   []byte
	nbits int
	end   jtag.State
}

type fakePlayer struct {
	shifts    []recordedShift
	states    []jtag.State
	rawBits   []int
	resetCalls int
	rdo       []byte // canned capture for the next ShiftDR
}

func (f *fakePlayer) ShiftIR(ctx context.Context, tdi []byte, nbits int, end jtag.State) error {
	f.shifts = append(f.shifts, recordedShift{true, append([]byte(nil), tdi...), nbits, end})
	return nil
}

func (f *fakePlayer) ShiftDR(ctx context.Context, tdi, rdo []byte, nbits int, end jtag.State) error {
	f.shifts = append(f.shifts, recordedShift{false, append([]byte(nil), tdi...), nbits, end})
	if rdo != nil && f.rdo != nil {
		copy(rdo, f.rdo)
	}
	return nil
}

func (f *fakePlayer) SetState(ctx context.Context, s jtag.State) error {
	f.states = append(f.states, s)
	return nil
}

func (f *fakePlayer) GoTestLogicReset(ctx context.Context) error {
	f.resetCalls++
	return nil
}

func (f *fakePlayer) ShiftRaw(ctx context.Context, tdi, tms, tdo []byte, nbits int) error {
	f.rawBits = append(f.rawBits, nbits)
	return nil
}

func newInterp(t *testing.T, p *fakePlayer) *Interpreter {
	t.Helper()
	it, err := NewInterpreter(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func TestNewInterpreterResetsChain(t *testing.T) {
	p := &fakePlayer{}
	newInterp(t, p)
	if p.resetCalls != 1 {
		t.Fatalf("resetCalls = %d, want 1", p.resetCalls)
	}
}

func TestPlaySIRShiftsInstructionRegister(t *testing.T) {
	p := &fakePlayer{}
	it := newInterp(t, p)

	script := "SIR 8 TDI (FE);\n"
	if err := it.Play(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	if len(p.shifts) != 1 || !p.shifts[0].isIR {
		t.Fatalf("expected one IR shift, got %+v", p.shifts)
	}
	if p.shifts[0].nbits != 8 || p.shifts[0].tdi[0] != 0xFE {
		t.Fatalf("unexpected shift: %+v", p.shifts[0])
	}
}

func TestPlaySDRDetectsTDOMismatch(t *testing.T) {
	p := &fakePlayer{rdo: []byte{0x00}}
	it := newInterp(t, p)

	script := "SDR 8 TDI (00) TDO (FF);\n"
	if err := it.Play(context.Background(), strings.NewReader(script)); err == nil {
		t.Fatal("expected a TDO verify mismatch error")
	}
}

func TestPlaySDRAcceptsMatchingTDO(t *testing.T) {
	p := &fakePlayer{rdo: []byte{0xAB}}
	it := newInterp(t, p)

	script := "SDR 8 TDI (00) TDO (AB);\n"
	if err := it.Play(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
}

func TestRuntestDrivesStateAndClocks(t *testing.T) {
	p := &fakePlayer{}
	it := newInterp(t, p)

	script := "RUNTEST IDLE 100 TCK ENDSTATE IDLE;\n"
	if err := it.Play(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	if len(p.rawBits) != 1 || p.rawBits[0] != 100 {
		t.Fatalf("rawBits = %v, want [100]", p.rawBits)
	}
}

func TestPlayRejectsUnknownInstruction(t *testing.T) {
	p := &fakePlayer{}
	it := newInterp(t, p)

	if err := it.Play(context.Background(), strings.NewReader("BOGUS 1 2 3;\n")); err == nil {
		t.Fatal("expected an unhandled-instruction error")
	}
}

func TestSkipsCommentAndBlankLines(t *testing.T) {
	p := &fakePlayer{}
	it := newInterp(t, p)

	script := "! a comment\n\nSTATE IDLE;\n"
	if err := it.Play(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatal(err)
	}
	if len(p.states) != 1 || p.states[0] != jtag.RunTestIdle {
		t.Fatalf("states = %v, want [RunTestIdle]", p.states)
	}
}
