package transport

import (
	"context"
	"testing"

	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"

	"github.com/fpgaflash/fpgaflash/ftdi"
)

func TestNewMPSSEClaimsJTAG(t *testing.T) {
	t.Skip("mpsseVerify's exact read sequence needs a hardware-accurate d2xxtest.Fake fixture")
}

func TestNewBitbangClaimsDBus(t *testing.T) {
	defer ftdi.UseFakeDevices(nil, nil)
	ftdi.UseFakeDevices(func(i int) (d2xx.Handle, d2xx.Err) {
		return &d2xxtest.Fake{
			DevType: uint32(5), // DevTypeFT232R
			Vid:     0x0403,
			Pid:     0x6001,
			Data:    [][]byte{{}, {0}},
		}, 0
	}, func() (int, error) { return 1, nil })

	dev, err := ftdi.OpenFT232R(0x0403, 0x6001, 0)
	if err != nil {
		t.Fatalf("OpenFT232R() = %v", err)
	}
	bb, err := NewBitbang(dev, 0)
	if err != nil {
		t.Fatalf("NewBitbang() = %v", err)
	}
	if got := bb.BufferSize(); got != 256 {
		t.Fatalf("BufferSize() = %d, want 256", got)
	}
	if err := bb.ToggleClock(context.Background(), 4); err != nil {
		t.Fatalf("ToggleClock() = %v", err)
	}
	if err := bb.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}

func TestDigilentIProductMatches(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"Digilent USB Device", true},
		{"Digilent USB Device 12345", true},
		{"FT232H", false},
		{"", false},
	}
	for _, c := range cases {
		if got := DigilentIProductMatches(c.in); got != c.want {
			t.Errorf("DigilentIProductMatches(%q) = %t, want %t", c.in, got, c.want)
		}
	}
}
