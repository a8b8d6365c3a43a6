package transport

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// DirtyJTAG command opcodes, grounded on spec.md §4.1's description of the
// byte-oriented CMD_XFER protocol.
const (
	djCmdStop       byte = 0x00
	djCmdInfo       byte = 0x01
	djCmdFreq       byte = 0x02
	djCmdXfer       byte = 0x03
	djCmdSetSig     byte = 0x04
	djCmdGetSig     byte = 0x05
	djCmdClk        byte = 0x06
	djCmdSetVoltage byte = 0x07

	djXferTMS    byte = 0x01
	djXferTDI    byte = 0x02
	djXferNoRead byte = 0x04

	djSigTCK byte = 0x01
	djSigTDI byte = 0x02
	djSigTDO byte = 0x04
	djSigTMS byte = 0x08
)

// DirtyJTAG drives a DJTAG-firmware probe (a CH55x-class microcontroller
// running the "DirtyJTAG" protocol) over bulk USB via gousb, grounded on
// bbnote-gostlink's gousb-based debug-probe transport for the Context/
// Device/Endpoint plumbing.
type DirtyJTAG struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint
	maxBits int // per-chunk XFER limit: 240, 496 or 4000 depending on firmware version
}

// OpenDirtyJTAG opens the first device matching vid/pid and claims its
// single bulk interface.
func OpenDirtyJTAG(vid, pid gousb.ID) (*DirtyJTAG, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: dirtyjtag open %s:%s: %w", vid, pid, err)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: dirtyjtag claim interface: %w", err)
	}
	out, err := intf.OutEndpoint(1)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	in, err := intf.InEndpoint(2)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return &DirtyJTAG{ctx: ctx, dev: dev, intf: intf, done: done, out: out, in: in, maxBits: 496}, nil
}

func (d *DirtyJTAG) roundTrip(cmd []byte, readLen int) ([]byte, error) {
	if _, err := d.out.Write(cmd); err != nil {
		return nil, fmt.Errorf("transport: dirtyjtag write: %w", err)
	}
	if readLen == 0 {
		return nil, nil
	}
	buf := make([]byte, readLen)
	n, err := d.in.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: dirtyjtag read: %w", err)
	}
	return buf[:n], nil
}

func (d *DirtyJTAG) SetClock(hz uint32) (uint32, error) {
	khz := hz / 1000
	if khz == 0 {
		khz = 1
	}
	cmd := []byte{djCmdFreq, byte(khz), byte(khz >> 8)}
	if _, err := d.roundTrip(cmd, 0); err != nil {
		return 0, err
	}
	return khz * 1000, nil
}

// xferChunk issues one CMD_XFER covering at most d.maxBits bits.
func (d *DirtyJTAG) xferChunk(tdi, tms []byte, nbits int, needRead bool) ([]byte, error) {
	flags := byte(0)
	if !needRead {
		flags |= djXferNoRead
	}
	payload := make([]byte, 0, 3+2*((nbits+7)/8))
	payload = append(payload, djCmdXfer, flags, byte(nbits))
	for i := 0; i < (nbits+7)/8; i++ {
		var t, m byte
		if tdi != nil {
			t = tdi[i]
		}
		if tms != nil {
			m = tms[i]
		}
		payload = append(payload, t, m)
	}
	readLen := 0
	if needRead {
		readLen = (nbits + 7) / 8
	}
	return d.roundTrip(payload, readLen)
}

func (d *DirtyJTAG) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	tdiBytes := make([]byte, (nbits+7)/8)
	if tdi {
		for i := range tdiBytes {
			tdiBytes[i] = 0xFF
		}
	}
	for off := 0; off < nbits; off += d.maxBits {
		n := nbits - off
		if n > d.maxBits {
			n = d.maxBits
		}
		if _, err := d.xferChunk(sliceBits(tdiBytes, off, n), sliceBits(tms, off, n), n, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *DirtyJTAG) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	tms := make([]byte, (nbits+7)/8)
	if lastTMS {
		setBitBuf(tms, nbits-1, true)
	}
	for off := 0; off < nbits; off += d.maxBits {
		n := nbits - off
		if n > d.maxBits {
			n = d.maxBits
		}
		reply, err := d.xferChunk(sliceBits(w, off, n), sliceBits(tms, off, n), n, r != nil)
		if err != nil {
			return err
		}
		if r != nil {
			copyBitsInto(r, off, reply, n)
		}
	}
	return nil
}

func (d *DirtyJTAG) ToggleClock(ctx context.Context, cycles int) error {
	zeros := make([]byte, (cycles+7)/8)
	for off := 0; off < cycles; off += d.maxBits {
		n := cycles - off
		if n > d.maxBits {
			n = d.maxBits
		}
		if _, err := d.xferChunk(zeros[:((n+7)/8)], zeros[:((n+7)/8)], n, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *DirtyJTAG) Flush(ctx context.Context) error { return nil }

func (d *DirtyJTAG) BufferSize() int { return d.maxBits }

func (d *DirtyJTAG) Close() error {
	d.done()
	cerr := d.dev.Close()
	d.ctx.Close()
	return cerr
}

// sliceBits extracts a byte-packed sub-range [off, off+n) bits, byte-aligned
// at off (off is always a multiple of d.maxBits's byte count in practice).
func sliceBits(buf []byte, off, n int) []byte {
	if buf == nil {
		return nil
	}
	byteOff := off / 8
	byteLen := (n + 7) / 8
	if byteOff+byteLen > len(buf) {
		byteLen = len(buf) - byteOff
	}
	return buf[byteOff : byteOff+byteLen]
}

func setBitBuf(buf []byte, n int, v bool) {
	if v {
		buf[n>>3] |= 1 << uint(n&7)
	} else {
		buf[n>>3] &^= 1 << uint(n&7)
	}
}

func copyBitsInto(dst []byte, off int, src []byte, n int) {
	byteOff := off / 8
	for i := 0; i < (n+7)/8 && byteOff+i < len(dst) && i < len(src); i++ {
		dst[byteOff+i] = src[i]
	}
}
