package jtag

import (
	"context"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// drBeforeAfter and irBeforeAfter compute, for the currently selected target
// device, the padding around the target's own shift; the after padding is
// shifted first. For DR, after is one bypass bit per device nearer TDO (lower
// index) and before one bit per device nearer TDI. For IR, after is the sum
// of the IR lengths of the devices nearer TDI (higher index) and before the
// sum for the devices nearer TDO.
func (c *Chain) drBeforeAfter() (before, after int) {
	after = c.target
	before = len(c.devices) - c.target - 1
	return
}

func (c *Chain) irBeforeAfter() (before, after int) {
	for i := c.target + 1; i < len(c.irLengths); i++ {
		after += c.irLengths[i]
	}
	for i := 0; i < c.target; i++ {
		before += c.irLengths[i]
	}
	return
}

// ShiftIR shifts nbits of tdiBits into the target device's IR, padding with
// 1 bits (BYPASS) for devices before and after it in the chain, and leaves
// the TAP in endState.
func (c *Chain) ShiftIR(ctx context.Context, tdiBits []byte, nbits int, endState State) error {
	before, after := c.irBeforeAfter()
	if endState == ShiftIR && after > 0 {
		return fpgaerr.New(fpgaerr.KindStateMachineMisuse,
			"cannot end in SHIFT_IR with non-target devices after the selected one", nil)
	}
	if err := c.SetState(ctx, ShiftIR); err != nil {
		return err
	}
	if err := c.FlushTMS(ctx, true); err != nil {
		return err
	}
	total := after + nbits + before
	buf := make([]byte, (total+7)/8)
	pos := 0
	for i := 0; i < after; i++ {
		setBit(buf, pos, true)
		pos++
	}
	for i := 0; i < nbits; i++ {
		setBit(buf, pos, getBit(tdiBits, i))
		pos++
	}
	for i := 0; i < before; i++ {
		setBit(buf, pos, true)
		pos++
	}
	last := endState != ShiftIR
	if err := c.tr.WriteTDI(ctx, buf, nil, total, last); err != nil {
		return fpgaerr.New(fpgaerr.KindTransport, "shift ir", err)
	}
	if last {
		c.state = Exit1IR
	}
	return c.SetState(ctx, endState)
}

// ShiftIRCapture is ShiftIR with the target device's own TDO response
// captured into rdo (may be nil to discard it), for instructions whose
// capture value reports status on first shift rather than returning IDCODE
// on a following DR (e.g. polling BYPASS's captured bit during JPROGRAM).
func (c *Chain) ShiftIRCapture(ctx context.Context, tdiBits, rdo []byte, nbits int, endState State) error {
	before, after := c.irBeforeAfter()
	if endState == ShiftIR && after > 0 {
		return fpgaerr.New(fpgaerr.KindStateMachineMisuse,
			"cannot end in SHIFT_IR with non-target devices after the selected one", nil)
	}
	if err := c.SetState(ctx, ShiftIR); err != nil {
		return err
	}
	if err := c.FlushTMS(ctx, true); err != nil {
		return err
	}
	total := after + nbits + before
	buf := make([]byte, (total+7)/8)
	pos := 0
	for i := 0; i < after; i++ {
		setBit(buf, pos, true)
		pos++
	}
	for i := 0; i < nbits; i++ {
		setBit(buf, pos, getBit(tdiBits, i))
		pos++
	}
	for i := 0; i < before; i++ {
		setBit(buf, pos, true)
		pos++
	}
	var rbuf []byte
	if rdo != nil {
		rbuf = make([]byte, (total+7)/8)
	}
	last := endState != ShiftIR
	if err := c.tr.WriteTDI(ctx, buf, rbuf, total, last); err != nil {
		return fpgaerr.New(fpgaerr.KindTransport, "shift ir capture", err)
	}
	if rdo != nil {
		for i := 0; i < nbits; i++ {
			setBit(rdo, i, getBit(rbuf, after+i))
		}
	}
	if last {
		c.state = Exit1IR
	}
	return c.SetState(ctx, endState)
}

// ShiftDR shifts nbits of tdi into the target device's DR, padding with 0
// bits for the non-target devices before and after it, capturing the
// target's own response into rdo (rdo may be nil to discard it).
func (c *Chain) ShiftDR(ctx context.Context, tdi, rdo []byte, nbits int, endState State) error {
	before, after := c.drBeforeAfter()
	if endState == ShiftDR && after > 0 {
		return fpgaerr.New(fpgaerr.KindStateMachineMisuse,
			"cannot end in SHIFT_DR with non-target devices after the selected one", nil)
	}
	if err := c.SetState(ctx, ShiftDR); err != nil {
		return err
	}
	if err := c.FlushTMS(ctx, true); err != nil {
		return err
	}
	total := after + nbits + before
	var wbuf []byte
	if tdi != nil {
		wbuf = make([]byte, (total+7)/8)
		pos := after
		for i := 0; i < nbits; i++ {
			setBit(wbuf, pos, getBit(tdi, i))
			pos++
		}
	}
	var rbuf []byte
	if rdo != nil {
		rbuf = make([]byte, (total+7)/8)
	}
	last := endState != ShiftDR
	if err := c.tr.WriteTDI(ctx, wbuf, rbuf, total, last); err != nil {
		return fpgaerr.New(fpgaerr.KindTransport, "shift dr", err)
	}
	if rdo != nil {
		for i := 0; i < nbits; i++ {
			setBit(rdo, i, getBit(rbuf, after+i))
		}
	}
	if last {
		c.state = Exit1DR
	}
	return c.SetState(ctx, endState)
}

func setBit(buf []byte, n int, v bool) {
	if v {
		buf[n>>3] |= 1 << uint(n&7)
	} else {
		buf[n>>3] &^= 1 << uint(n&7)
	}
}

func getBit(buf []byte, n int) bool {
	if buf == nil {
		return false
	}
	return buf[n>>3]&(1<<uint(n&7)) != 0
}
