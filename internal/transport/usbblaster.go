package transport

import (
	"context"
	"fmt"

	"github.com/google/gousb"
)

// USB-Blaster bit-bang byte format, grounded on spec.md §4.1: "packages
// bit-bang bytes with bit 6 = read-enable and bit 7 = shift-mode". In
// bit-bang mode each byte drives one TCK cycle; in shift mode a byte of TDI
// is auto-clocked by the adapter without touching TMS, used to push whole
// bytes through SHIFT-DR/SHIFT-IR efficiently.
const (
	ubTCK       byte = 1 << 0
	ubTMS       byte = 1 << 1
	ubTDI       byte = 1 << 4
	ubReadEna   byte = 1 << 6
	ubShiftMode byte = 1 << 7
)

// UsbBlaster drives Altera's USB-Blaster I/II bit-bang protocol over gousb.
type UsbBlaster struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint
}

// OpenUsbBlaster opens the first device matching vid/pid (0x09FB:0x6001 for
// USB-Blaster I, 0x09FB:0x6010/0x6810 for II) and claims its bulk interface.
func OpenUsbBlaster(vid, pid gousb.ID) (*UsbBlaster, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: usbblaster open %s:%s: %w", vid, pid, err)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: usbblaster claim interface: %w", err)
	}
	out, err := intf.OutEndpoint(2)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	in, err := intf.InEndpoint(1)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return &UsbBlaster{ctx: ctx, dev: dev, intf: intf, done: done, out: out, in: in}, nil
}

func (u *UsbBlaster) SetClock(hz uint32) (uint32, error) {
	// USB-Blaster I runs a fixed ~6MHz bit-bang rate; there is no runtime
	// divisor to program, so this only reports the nominal ceiling.
	const nominal = 6000000
	if hz > nominal {
		hz = nominal
	}
	return hz, nil
}

func (u *UsbBlaster) writeBytes(buf []byte) error {
	const chunk = 64
	for off := 0; off < len(buf); off += chunk {
		end := off + chunk
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := u.out.Write(buf[off:end]); err != nil {
			return fmt.Errorf("transport: usbblaster write: %w", err)
		}
	}
	return nil
}

func (u *UsbBlaster) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := u.in.Read(buf[got:])
		if err != nil {
			return nil, fmt.Errorf("transport: usbblaster read: %w", err)
		}
		if m == 0 {
			break
		}
		got += m
	}
	return buf[:got], nil
}

func (u *UsbBlaster) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	tdiBit := byte(0)
	if tdi {
		tdiBit = ubTDI
	}
	waveform := make([]byte, 0, nbits*2)
	for i := 0; i < nbits; i++ {
		base := tdiBit
		if tms[i>>3]&(1<<uint(i&7)) != 0 {
			base |= ubTMS
		}
		waveform = append(waveform, base, base|ubTCK)
	}
	return u.writeBytes(waveform)
}

func (u *UsbBlaster) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	// Whole bytes move through shift mode (hardware-clocked, TMS held low);
	// any residual bits and the lastTMS-combined final bit fall back to
	// per-bit bit-bang mode.
	nBytes := nbits / 8
	if lastTMS {
		// The final bit always needs an explicit TMS transition, so it can
		// never be folded into a whole shifted byte.
		if nbits%8 == 0 {
			nBytes--
		}
	}
	if nBytes < 0 {
		nBytes = 0
	}
	var reply []byte
	if nBytes > 0 {
		shiftBuf := make([]byte, nBytes)
		for i := 0; i < nBytes; i++ {
			b := byte(0)
			if w != nil {
				b = w[i]
			}
			shiftBuf[i] = b | ubShiftMode
			if r != nil {
				shiftBuf[i] |= ubReadEna
			}
		}
		if err := u.writeBytes(shiftBuf); err != nil {
			return err
		}
		if r != nil {
			var err error
			reply, err = u.readBytes(nBytes)
			if err != nil {
				return err
			}
			copy(r[:nBytes], reply)
		}
	}
	residualStart := nBytes * 8
	residual := nbits - residualStart
	if residual <= 0 {
		return nil
	}
	waveform := make([]byte, 0, residual*2)
	for i := 0; i < residual; i++ {
		bitIdx := residualStart + i
		base := byte(0)
		if w != nil && w[bitIdx>>3]&(1<<uint(bitIdx&7)) != 0 {
			base = ubTDI
		}
		if lastTMS && i == residual-1 {
			base |= ubTMS
		}
		if r != nil {
			base |= ubReadEna
		}
		waveform = append(waveform, base, base|ubTCK)
	}
	if err := u.writeBytes(waveform); err != nil {
		return err
	}
	if r != nil {
		rx, err := u.readBytes(residual)
		if err != nil {
			return err
		}
		for i := 0; i < residual && i < len(rx); i++ {
			bitIdx := residualStart + i
			if rx[i]&1 != 0 {
				r[bitIdx>>3] |= 1 << uint(bitIdx&7)
			} else {
				r[bitIdx>>3] &^= 1 << uint(bitIdx&7)
			}
		}
	}
	return nil
}

func (u *UsbBlaster) ToggleClock(ctx context.Context, cycles int) error {
	waveform := make([]byte, 0, cycles*2)
	for i := 0; i < cycles; i++ {
		waveform = append(waveform, 0, ubTCK)
	}
	return u.writeBytes(waveform)
}

func (u *UsbBlaster) Flush(ctx context.Context) error { return nil }

func (u *UsbBlaster) BufferSize() int { return 64 }

func (u *UsbBlaster) Close() error {
	u.done()
	cerr := u.dev.Close()
	u.ctx.Close()
	return cerr
}
