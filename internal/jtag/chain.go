package jtag

import (
	"context"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
	"github.com/fpgaflash/fpgaflash/internal/transport"
)

// IDCODE is a raw 32-bit JTAG identification code.
type IDCODE uint32

// FPGAModel is one row of the static IDCODE -> part lookup table.
type FPGAModel struct {
	Manufacturer string
	Family       string
	Model        string
	IRLen        int
}

// gateMateVsEfinixDiscriminator is the one IDCODE value detectChain must
// keep in full instead of masking off the top nibble: Cologne Chip GateMate
// and Efinix Trion T4/T8 both land in that nibble range, and this exact
// value is how the original tells them apart.
const gateMateVsEfinixDiscriminator IDCODE = 0x20000001

// Chain owns the scanned device list, their IR lengths, the TAP's believed
// current state, the selected target device, a bit-packed pending-TMS
// buffer, and the transport it drives.
type Chain struct {
	devices   []IDCODE
	irLengths []int
	state     State
	target    int

	tmsBits  []bool
	tr       transport.Transport
	idcodeOf func(IDCODE) (FPGAModel, bool)
}

// New creates a Chain bound to tr. idcodeOf resolves a scanned IDCODE to its
// table row (FPGA table, then misc-device table, per spec); passing nil
// means callers intend to populate devices manually via InsertFirst/DeviceSelect.
func New(tr transport.Transport, idcodeOf func(IDCODE) (FPGAModel, bool)) *Chain {
	return &Chain{state: TestLogicReset, tr: tr, idcodeOf: idcodeOf}
}

// Devices returns the scanned IDCODE list, index 0 nearest TDO.
func (c *Chain) Devices() []IDCODE { return append([]IDCODE(nil), c.devices...) }

// IRLengths returns the IR length table parallel to Devices().
func (c *Chain) IRLengths() []int { return append([]int(nil), c.irLengths...) }

// State returns the TAP's believed current state.
func (c *Chain) State() State { return c.state }

// Target returns the index of the currently selected device.
func (c *Chain) Target() int { return c.target }

// DeviceSelect sets the target device index used by ShiftIR/ShiftDR padding.
func (c *Chain) DeviceSelect(index int) error {
	if index < 0 || index >= len(c.devices) {
		return fpgaerr.New(fpgaerr.KindStateMachineMisuse, "device index out of range", nil)
	}
	c.target = index
	return nil
}

// InsertFirst prepends a synthetic device entry, used when a device is
// known to be present but doesn't surface distinctly in a BYPASS-only scan.
func (c *Chain) InsertFirst(idcode IDCODE, irlen int) {
	c.devices = append([]IDCODE{idcode}, c.devices...)
	c.irLengths = append([]int{irlen}, c.irLengths...)
}

// GoTestLogicReset unconditionally emits 6 TMS=1 bits, per spec.
func (c *Chain) GoTestLogicReset(ctx context.Context) error {
	for i := 0; i < 6; i++ {
		c.tmsBits = append(c.tmsBits, true)
	}
	c.state = TestLogicReset
	return c.FlushTMS(ctx, true)
}

// SetState computes the TMS bits to walk from the current state to target
// along the shortest legal path and appends one bit per step to the pending
// buffer (auto-flushing is the caller's responsibility via FlushTMS).
func (c *Chain) SetState(ctx context.Context, target State) error {
	for c.state != target {
		bit := pathBit[c.state][target]
		next := pathNext[c.state][target]
		if bit < 0 {
			break
		}
		c.tmsBits = append(c.tmsBits, bit != 0)
		c.state = next
	}
	return nil
}

// FlushTMS emits any buffered TMS bits via the transport and clears the
// buffer. force mirrors flush_tms(force) in the original: when false, very
// small buffers may still be held back by the transport's own batching, but
// this Go port always sends immediately since transport.WriteTMS has no
// internal queue of its own.
func (c *Chain) FlushTMS(ctx context.Context, force bool) error {
	if len(c.tmsBits) == 0 {
		return nil
	}
	buf := boolsToBytes(c.tmsBits)
	n := len(c.tmsBits)
	c.tmsBits = nil
	if err := c.tr.WriteTMS(ctx, true, buf, n); err != nil {
		return fpgaerr.New(fpgaerr.KindTransport, "write tms", err)
	}
	return c.tr.Flush(ctx)
}

// ShiftRaw drives nbits simultaneous TMS/TDI cycles straight through the
// transport, bypassing target selection and bypass padding entirely. It
// exists for passthrough callers (the XVC server) that already carry a
// foreign TMS vector of their own and must not have this chain's bypass
// logic re-interpret it. Transport.WriteTDI only exposes a single combined
// TMS=1 exit bit per call, so each requested TMS=1 cycle is issued as its
// own one-bit shift; runs of TMS=0 cycles are coalesced into one call.
func (c *Chain) ShiftRaw(ctx context.Context, tdi, tms, tdo []byte, nbits int) error {
	i := 0
	for i < nbits {
		bit := tms[i>>3]&(1<<uint(i&7)) != 0
		if bit {
			var rbuf []byte
			if tdo != nil {
				rbuf = make([]byte, 1)
			}
			wbit := getBit(tdi, i)
			wbuf := []byte{0}
			if wbit {
				wbuf[0] = 1
			}
			if err := c.tr.WriteTDI(ctx, wbuf, rbuf, 1, true); err != nil {
				return fpgaerr.New(fpgaerr.KindTransport, "shift raw", err)
			}
			if tdo != nil {
				setBit(tdo, i, rbuf[0]&1 != 0)
			}
			i++
			continue
		}
		start := i
		for i < nbits && tms[i>>3]&(1<<uint(i&7)) == 0 {
			i++
		}
		run := i - start
		wbuf := make([]byte, (run+7)/8)
		for j := 0; j < run; j++ {
			setBit(wbuf, j, getBit(tdi, start+j))
		}
		var rbuf []byte
		if tdo != nil {
			rbuf = make([]byte, len(wbuf))
		}
		if err := c.tr.WriteTDI(ctx, wbuf, rbuf, run, false); err != nil {
			return fpgaerr.New(fpgaerr.KindTransport, "shift raw", err)
		}
		if tdo != nil {
			for j := 0; j < run; j++ {
				setBit(tdo, start+j, getBit(rbuf, j))
			}
		}
	}
	return nil
}

func boolsToBytes(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i>>3] |= 1 << uint(i&7)
		}
	}
	return out
}

// DetectChain walks TLR -> SHIFT-DR and shifts 32-bit all-ones words,
// recording IDCODEs until max_devices reads or a 0x00000000/0xFFFFFFFF read.
func (c *Chain) DetectChain(ctx context.Context, maxDevices int) error {
	c.devices = nil
	c.irLengths = nil

	if err := c.GoTestLogicReset(ctx); err != nil {
		return err
	}
	if err := c.SetState(ctx, ShiftDR); err != nil {
		return err
	}
	if err := c.FlushTMS(ctx, true); err != nil {
		return err
	}

	ones := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	var found []IDCODE
	for i := 0; i < maxDevices; i++ {
		rx := make([]byte, 4)
		if err := c.tr.WriteTDI(ctx, ones, rx, 32, false); err != nil {
			return fpgaerr.New(fpgaerr.KindTransport, "detect chain shift", err)
		}
		raw := IDCODE(uint32(rx[0]) | uint32(rx[1])<<8 | uint32(rx[2])<<16 | uint32(rx[3])<<24)
		if raw == 0x00000000 || raw == 0xFFFFFFFF {
			break
		}
		if raw != gateMateVsEfinixDiscriminator {
			raw &= 0x0FFFFFFF
		}
		found = append(found, raw)
	}
	c.state = ShiftDR

	for _, idcode := range found {
		irlen := 0
		if c.idcodeOf != nil {
			model, ok := c.idcodeOf(idcode)
			if !ok {
				return fpgaerr.UnsupportedDevice(uint32(idcode))
			}
			irlen = model.IRLen
		}
		c.devices = append(c.devices, idcode)
		c.irLengths = append(c.irLengths, irlen)
	}
	return nil
}
