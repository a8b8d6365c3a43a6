package spiiface

import (
	"context"
	"time"

	"github.com/fpgaflash/fpgaflash/internal/bitstream/bitutil"
	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
	"github.com/fpgaflash/fpgaflash/internal/jtag"
)

// BscanProfile parameterizes the JTAG bscan SPI tunnel per vendor, as named
// in spec.md §4.3: the USER-register IR value/length to select, and an
// optional DR preamble shifted ahead of every payload (Lattice's 0xFE 0x68,
// Cologne Chip's JTAG_SPI_BYPASS framing, Anlogic's 0x60 opcode prefix).
type BscanProfile struct {
	IR     uint32
	IRLen  int
	IRBits []byte // packed little-endian override; nil derives from IR/IRLen

	Preamble []byte

	// TwoStage selects Altera's indirect virtual-JTAG addressing: a
	// separate USER1 IR carries a VIR address/length before each USER0
	// payload shift, rather than shifting straight into the chosen IR.
	TwoStage   bool
	VirUserIR  uint32
	VirUserLen int
	VdrUserIR  uint32
	VdrUserLen int
}

// Bscan is the SPI-over-JTAG tunnel provider. Every byte crossing the wire
// is bit-reversed (the tunnel's bscan shift register is LSB-first while the
// SPI flash itself is MSB-first) and the captured response stream is
// re-aligned by bscan's one-bit pipeline delay: out[i] =
// reverse(raw[i]>>1) | (raw[i+1]&1), i.e. each output byte takes seven bits
// from its own captured byte and its least significant bit from bit 0 of
// the byte captured next.
type Bscan struct {
	chain   *jtag.Chain
	profile BscanProfile
	irSent  bool
}

// NewBscan binds a Bscan tunnel to chain using profile. The target IR is
// sent lazily on first use so repeated Put calls within one session don't
// re-select it.
func NewBscan(chain *jtag.Chain, profile BscanProfile) *Bscan {
	return &Bscan{chain: chain, profile: profile}
}

func (b *Bscan) selectIR(ctx context.Context) error {
	if b.irSent {
		return nil
	}
	irBits := b.profile.IRBits
	if irBits == nil {
		irBits = littleEndianBits(b.profile.IR, b.profile.IRLen)
	}
	if err := b.chain.ShiftIR(ctx, irBits, b.profile.IRLen, jtag.RunTestIdle); err != nil {
		return err
	}
	b.irSent = true
	return nil
}

func littleEndianBits(v uint32, nbits int) []byte {
	buf := make([]byte, (nbits+7)/8)
	for i := 0; i < nbits; i++ {
		if v&(1<<uint(i)) != 0 {
			buf[i>>3] |= 1 << uint(i&7)
		}
	}
	return buf
}

// shiftBscan sends the preamble followed by the bit-reversed tx byte stream
// through DR, captures the same length of response, un-reverses and
// pipeline-realigns it into rx.
func (b *Bscan) shiftBscan(ctx context.Context, tx, rx []byte) error {
	if err := b.selectIR(ctx); err != nil {
		return err
	}
	payload := make([]byte, 0, len(b.profile.Preamble)+len(tx)+1)
	payload = append(payload, b.profile.Preamble...)
	for _, t := range tx {
		payload = append(payload, bitutil.ReverseByte(t))
	}
	if rx != nil {
		// The pipeline delay means the last real byte's top bit only
		// surfaces in the *next* cycle's capture; without this trailing
		// flush byte that bit would be unrecoverable.
		payload = append(payload, 0)
	}
	total := len(payload)
	var rdo []byte
	if rx != nil {
		rdo = make([]byte, total)
	}
	if err := b.chain.ShiftDR(ctx, payload, rdo, total*8, jtag.RunTestIdle); err != nil {
		return fpgaerr.New(fpgaerr.KindTransport, "bscan shift", err)
	}
	if rx == nil {
		return nil
	}
	preLen := len(b.profile.Preamble)
	// Drop the preamble's captured bytes, then undo the one-bit pipeline
	// delay across what remains: rx[i] = reverse(raw[i]>>1) | (raw[i+1] & 1).
	raw := rdo[preLen:]
	for i := 0; i < len(tx); i++ {
		rx[i] = bitutil.ReverseByte(raw[i]>>1) | (raw[i+1] & 1)
	}
	return nil
}

func (b *Bscan) Put(ctx context.Context, cmd byte, tx, rx []byte) error {
	dataLen := len(tx)
	if rx != nil && len(rx) > dataLen {
		dataLen = len(rx)
	}
	full := make([]byte, 1+dataLen)
	full[0] = cmd
	copy(full[1:], tx)
	var fullRx []byte
	if rx != nil {
		fullRx = make([]byte, len(full))
	}
	if err := b.shiftBscan(ctx, full, fullRx); err != nil {
		return err
	}
	if rx != nil {
		copy(rx, fullRx[1:])
	}
	return nil
}

func (b *Bscan) PutRaw(ctx context.Context, tx, rx []byte) error {
	return b.shiftBscan(ctx, tx, rx)
}

func (b *Bscan) Wait(ctx context.Context, cmd byte, mask, cond byte, timeout time.Duration) error {
	return WaitLoop(ctx, func() (byte, error) {
		rx := make([]byte, 1)
		if err := b.Put(ctx, cmd, nil, rx); err != nil {
			return 0, err
		}
		return rx[0], nil
	}, mask, cond, timeout)
}
