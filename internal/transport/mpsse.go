package transport

import (
	"context"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/fpgaflash/fpgaflash/ftdi"
)

// MPSSE drives a JTAG chain through an FT232H/FT2232H-class device in MPSSE
// mode. Grounded on original_source/src/ftdiJtagMPSSE.cpp; the bit-chunking
// itself lives in ftdi/jtag.go (the adapted teacher package), this type only
// adds the JTAG-policy layer: clock-dependent read-edge selection and the
// cable's static idle-pin configuration.
type MPSSE struct {
	port *ftdi.JTAGPort

	// invertReadEdge is forced by the cable profile (board.Cable.InvertReadEdge).
	invertReadEdge bool
	// digilent marks an adapter whose read edge must flip once TCK reaches
	// 15MHz, the quirk named in spec.md §4.1.
	digilent bool
}

// NewMPSSE claims the JTAG capability of dev and configures it per cable.
func NewMPSSE(dev *ftdi.FT232H, invertReadEdge, digilentQuirk bool) (*MPSSE, error) {
	port, err := dev.JTAG()
	if err != nil {
		return nil, err
	}
	m := &MPSSE{port: port, invertReadEdge: invertReadEdge, digilent: digilentQuirk}
	port.SetReadEdge(invertReadEdge)
	return m, nil
}

// DigilentIProductMatches reports whether a USB iProduct string identifies a
// Digilent cable, the same prefix check ftdiJtagMPSSE.cpp's config_edge()
// performs against "Digilent USB Device".
func DigilentIProductMatches(iProduct string) bool {
	return strings.HasPrefix(iProduct, "Digilent USB Device")
}

func (m *MPSSE) SetClock(hz uint32) (uint32, error) {
	f, err := m.port.SetClock(physic.Frequency(hz) * physic.Hertz)
	if err != nil {
		return 0, err
	}
	// config_edge(): at >=15MHz a Digilent cable needs the read edge
	// flipped to compensate for propagation delay, unless the cable
	// profile already forces it unconditionally.
	negEdge := m.invertReadEdge || (m.digilent && uint32(f/physic.Hertz) >= 15000000)
	m.port.SetReadEdge(negEdge)
	return uint32(f / physic.Hertz), nil
}

func (m *MPSSE) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	return m.port.WriteTMS(tdi, tms, nbits)
}

func (m *MPSSE) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	return m.port.WriteTDI(w, r, nbits, lastTMS)
}

func (m *MPSSE) ToggleClock(ctx context.Context, cycles int) error {
	return m.port.ToggleClock(cycles)
}

func (m *MPSSE) Flush(ctx context.Context) error {
	// Every WriteTMS/WriteTDI call already ends its USB transaction with a
	// flush byte (see ftdi/jtag.go); nothing is held back between calls.
	return nil
}

func (m *MPSSE) BufferSize() int { return 65536 }

func (m *MPSSE) Close() error {
	return m.port.Close()
}
