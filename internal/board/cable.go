// Package board holds the static, compile-time-constant lookup tables that
// describe cables, boards and FPGA parts. Nothing here is mutated after
// init(): selection by name is a pure slice/map lookup, same as the
// original's cable_list/board_list/fpga_list tables, just expressed as Go
// literals instead of global std::map instances.
package board

// TransportKind names which internal/transport implementation a Cable uses.
type TransportKind int

const (
	TransportFTDIMPSSE TransportKind = iota
	TransportFTDIBitbang
	TransportCH347
	TransportDirtyJTAG
	TransportUSBBlaster
	TransportCMSISDAP
	TransportDFU
	TransportXVCClient
	TransportGPIOBitbang
	TransportRemoteBitbang
	TransportAnlogicCable
)

// MPSSEConfig mirrors cable.hpp's mpsse_bit_config: the FTDI interface
// number plus the idle value/direction of the low (ADBUS) and high (ACBUS)
// GPIO byte groups some adapters require to hold reset/enable lines.
type MPSSEConfig struct {
	Interface   int
	BitLowVal   byte
	BitLowDir   byte
	BitHighVal  byte
	BitHighDir  byte
	StatusPin   int
}

// Cable describes one JTAG/SPI probe a user can select with --cable.
type Cable struct {
	Name      string
	Transport TransportKind
	VID, PID  uint16
	MPSSE     MPSSEConfig
	// InvertReadEdge forces TDO sampling on the falling edge; set for
	// adapters that need it below 15MHz (most Digilent boards only need the
	// clock-dependent flip computed at runtime, but a few always do).
	InvertReadEdge bool
}

func ftdiSer(vid, pid uint16, intf int, blv, bld, bhv, bhd byte) Cable {
	return Cable{
		Transport: TransportFTDIMPSSE,
		VID:       vid,
		PID:       pid,
		MPSSE:     MPSSEConfig{Interface: intf, BitLowVal: blv, BitLowDir: bld, BitHighVal: bhv, BitHighDir: bhd, StatusPin: -1},
	}
}

func ftdiBB(vid, pid uint16, intf int, blv, bld, bhv, bhd byte) Cable {
	return Cable{
		Transport: TransportFTDIBitbang,
		VID:       vid,
		PID:       pid,
		MPSSE:     MPSSEConfig{Interface: intf, BitLowVal: blv, BitLowDir: bld, BitHighVal: bhv, BitHighDir: bhd, StatusPin: -1},
	}
}

// Cables is the static cable registry, grounded on cable.hpp's cable_list.
var Cables = map[string]Cable{
	"anlogicCable":       {Transport: TransportAnlogicCable, VID: 0x0547, PID: 0x1002},
	"arm-usb-ocd-h":      ftdiSer(0x15ba, 0x002b, 1, 0x08, 0x1B, 0x09, 0x0B),
	"arm-usb-tiny-h":     ftdiSer(0x15ba, 0x002a, 1, 0x08, 0x1B, 0x09, 0x0B),
	"bus_blaster":        ftdiSer(0x0403, 0x6010, 1, 0x08, 0x1B, 0x08, 0x0B),
	"bus_blaster_b":      ftdiSer(0x0403, 0x6010, 2, 0x08, 0x0B, 0x08, 0x0B),
	"ch552_jtag":         ftdiSer(0x0403, 0x6010, 1, 0x08, 0x0B, 0x08, 0x0B),
	"ch347_jtag":         {Transport: TransportCH347, VID: 0x1a86, PID: 0x55dd},
	"cmsisdap":           {Transport: TransportCMSISDAP, VID: 0x0d28, PID: 0x0204},
	"gatemate_pgm":       ftdiSer(0x0403, 0x6014, 1, 0x10, 0x9B, 0x14, 0x17),
	"gatemate_evb_jtag":  ftdiSer(0x0403, 0x6010, 1, 0x10, 0x1B, 0x00, 0x01),
	"gatemate_evb_spi":   ftdiSer(0x0403, 0x6010, 2, 0x00, 0x1B, 0x00, 0x01),
	"dfu":                {Transport: TransportDFU},
	"digilent":           withDigilent(ftdiSer(0x0403, 0x6010, 1, 0xe8, 0xeb, 0x00, 0x60)),
	"digilent_b":         withDigilent(ftdiSer(0x0403, 0x6010, 2, 0xe8, 0xeb, 0x00, 0x60)),
	"digilent_hs2":       withDigilent(ftdiSer(0x0403, 0x6014, 1, 0xe8, 0xeb, 0x00, 0x60)),
	"digilent_hs3":       withDigilent(ftdiSer(0x0403, 0x6014, 1, 0x88, 0x8B, 0x20, 0x30)),
	"digilent_ad":        withDigilent(ftdiSer(0x0403, 0x6014, 1, 0x08, 0x0B, 0x80, 0x80)),
	"dirtyJtag":          {Transport: TransportDirtyJTAG, VID: 0x1209, PID: 0xC0CA},
	"efinix_spi_ft4232":  ftdiSer(0x0403, 0x6011, 1, 0x08, 0x8B, 0x00, 0x00),
	"efinix_jtag_ft4232": ftdiSer(0x0403, 0x6011, 2, 0x08, 0x8B, 0x00, 0x00),
	"efinix_spi_ft2232":  ftdiSer(0x0403, 0x6010, 1, 0x08, 0x8B, 0x00, 0x00),
	"efinix_jtag_ft2232": ftdiSer(0x0403, 0x6010, 2, 0x08, 0x8B, 0x00, 0x00),
	"ft2232":             ftdiSer(0x0403, 0x6010, 1, 0x08, 0x0B, 0x08, 0x0B),
	"ft2232_b":           ftdiSer(0x0403, 0x6010, 2, 0x08, 0x0B, 0x00, 0x00),
	"ft231X":             ftdiBB(0x0403, 0x6015, 1, 0x00, 0x00, 0x00, 0x00),
	"ft232":              ftdiSer(0x0403, 0x6014, 1, 0x08, 0x0B, 0x08, 0x0B),
	"ft232RL":            ftdiBB(0x0403, 0x6001, 1, 0x08, 0x0B, 0x08, 0x0B),
	"ft4232":             ftdiSer(0x0403, 0x6011, 1, 0x08, 0x0B, 0x08, 0x0B),
	"ft4232_b":           ftdiSer(0x0403, 0x6011, 2, 0x00, 0x1B, 0x00, 0x00),
	"ft4232hp":           ftdiSer(0x0403, 0x6043, 1, 0x08, 0x0B, 0x00, 0x00),
	"ft4232hp_b":         ftdiSer(0x0403, 0x6043, 2, 0x08, 0x0B, 0x00, 0x00),
	"ecpix5-debug":       ftdiSer(0x0403, 0x6010, 1, 0xF8, 0xFB, 0xFF, 0xFF),
	"jtag-smt2-nc":       ftdiSer(0x0403, 0x6014, 1, 0xe8, 0xeb, 0x00, 0x60),
	"lpc-link2":          {Transport: TransportCMSISDAP, VID: 0x1fc9, PID: 0x0090},
	"numato":             ftdiSer(0x2a19, 0x1009, 2, 0x08, 0x4b, 0x00, 0x00),
	"numato-neso":        ftdiSer(0x2a19, 0x1005, 2, 0x08, 0x4b, 0x00, 0x00),
	"orbtrace":           {Transport: TransportCMSISDAP, VID: 0x1209, PID: 0x3443},
	"papilio":            ftdiSer(0x0403, 0x6010, 1, 0x08, 0x0B, 0x09, 0x0B),
	"steppenprobe":       ftdiSer(0x0403, 0x6010, 1, 0x58, 0xFB, 0x00, 0x99),
	"tigard":             ftdiSer(0x0403, 0x6010, 2, 0x08, 0x3B, 0x00, 0x00),
	"usb-blaster":        {Transport: TransportUSBBlaster, VID: 0x09Fb, PID: 0x6001},
	"usb-blasterII":      {Transport: TransportUSBBlaster, VID: 0x09Fb, PID: 0x6810},
	"xvc-client":         {Transport: TransportXVCClient},
	"libgpiod":           {Transport: TransportGPIOBitbang},
	"remote-bitbang":     {Transport: TransportRemoteBitbang},
}

func withDigilent(c Cable) Cable {
	c.InvertReadEdge = false // runtime clock check (>=15MHz) decides; see transport/mpsse.go
	return c
}

// Lookup returns the named cable and whether it exists.
func Lookup(name string) (Cable, bool) {
	c, ok := Cables[name]
	return c, ok
}
