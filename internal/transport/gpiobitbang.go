package transport

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpioreg"
)

// GPIOBitbang drives JTAG directly over four Linux GPIO chardev lines
// (TCK/TMS/TDI/TDO), resolved by name through periph's gpioreg registry,
// which periph.io/x/host/v3's host.Init() populates from /dev/gpiochip* at
// startup — the periph-native equivalent of the original's raw
// libgpiod/sysfs pin toggling.
type GPIOBitbang struct {
	tck, tms, tdi gpio.PinOut
	tdo           gpio.PinIn
	clockHalfNs   int
}

// NewGPIOBitbang resolves tckName/tmsName/tdiName/tdoName via gpioreg.ByName
// and configures them as a JTAG bit-bang link.
func NewGPIOBitbang(tckName, tmsName, tdiName, tdoName string) (*GPIOBitbang, error) {
	tck := gpioreg.ByName(tckName)
	tms := gpioreg.ByName(tmsName)
	tdi := gpioreg.ByName(tdiName)
	tdo := gpioreg.ByName(tdoName)
	if tck == nil || tms == nil || tdi == nil || tdo == nil {
		return nil, fmt.Errorf("transport: gpio bitbang: one of %s/%s/%s/%s not found in gpioreg", tckName, tmsName, tdiName, tdoName)
	}
	tckOut, ok := tck.(gpio.PinOut)
	if !ok {
		return nil, fmt.Errorf("transport: gpio bitbang: %s is not an output pin", tckName)
	}
	tmsOut, ok := tms.(gpio.PinOut)
	if !ok {
		return nil, fmt.Errorf("transport: gpio bitbang: %s is not an output pin", tmsName)
	}
	tdiOut, ok := tdi.(gpio.PinOut)
	if !ok {
		return nil, fmt.Errorf("transport: gpio bitbang: %s is not an output pin", tdiName)
	}
	tdoIn, ok := tdo.(gpio.PinIn)
	if !ok {
		return nil, fmt.Errorf("transport: gpio bitbang: %s is not an input pin", tdoName)
	}
	if err := tdoIn.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("transport: gpio bitbang: configure %s as input: %w", tdoName, err)
	}
	return &GPIOBitbang{tck: tckOut, tms: tmsOut, tdi: tdiOut, tdo: tdoIn}, nil
}

func (g *GPIOBitbang) SetClock(hz uint32) (uint32, error) {
	// Pure GPIO toggling through the kernel chardev ioctl has no fixed
	// clock; callers that need a specific rate must pace their own calls.
	return hz, nil
}

func (g *GPIOBitbang) clockCycle(tms, tdi bool) (bool, error) {
	if err := g.tms.Out(gpio.Level(tms)); err != nil {
		return false, err
	}
	if err := g.tdi.Out(gpio.Level(tdi)); err != nil {
		return false, err
	}
	if err := g.tck.Out(gpio.High); err != nil {
		return false, err
	}
	bit := g.tdo.Read()
	if err := g.tck.Out(gpio.Low); err != nil {
		return false, err
	}
	return bool(bit), nil
}

func (g *GPIOBitbang) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	for i := 0; i < nbits; i++ {
		bit := tms[i>>3]&(1<<uint(i&7)) != 0
		if _, err := g.clockCycle(bit, tdi); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOBitbang) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	for i := 0; i < nbits; i++ {
		tdiBit := false
		if w != nil {
			tdiBit = w[i>>3]&(1<<uint(i&7)) != 0
		}
		tmsBit := lastTMS && i == nbits-1
		bit, err := g.clockCycle(tmsBit, tdiBit)
		if err != nil {
			return err
		}
		if r != nil {
			if bit {
				r[i>>3] |= 1 << uint(i&7)
			} else {
				r[i>>3] &^= 1 << uint(i&7)
			}
		}
	}
	return nil
}

func (g *GPIOBitbang) ToggleClock(ctx context.Context, cycles int) error {
	for i := 0; i < cycles; i++ {
		if _, err := g.clockCycle(false, false); err != nil {
			return err
		}
	}
	return nil
}

func (g *GPIOBitbang) Flush(ctx context.Context) error { return nil }

func (g *GPIOBitbang) BufferSize() int { return 1 }

func (g *GPIOBitbang) Close() error { return nil }
