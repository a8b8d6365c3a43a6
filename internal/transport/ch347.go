package transport

import (
	"context"
	"fmt"

	hid "github.com/sstallion/go-hid"
)

// CH347 opcodes, grounded on original_source/src/ch347jtag.cpp's
// CH347JtagCmd/CH347JtagSig enums.
const (
	ch347CmdBytesWO byte = 0xd3
	ch347CmdBytesWR byte = 0xd4
	ch347CmdBitsWO  byte = 0xd1
	ch347CmdBitsWR  byte = 0xd2
	ch347CmdClk     byte = 0xd0

	ch347SigTCK byte = 0b1
	ch347SigTMS byte = 0b10
	ch347SigTDI byte = 0b10000
)

// CH347 is a JTAG transport over the CH347's HID SPI+I2C+GPIO interface,
// grounded on ch347jtag.cpp for command framing and on
// serfreeman1337/go-ch347's examples/spi-flash for the go-hid plumbing.
type CH347 struct {
	dev *hid.Device
}

// OpenCH347 opens the CH347's JTAG-capable HID interface (InterfaceNbr 1,
// "HID To UART+SPI+I2C") at devPath.
func OpenCH347(devPath string) (*CH347, error) {
	dev, err := hid.OpenPath(devPath)
	if err != nil {
		return nil, fmt.Errorf("transport: ch347 open: %w", err)
	}
	return &CH347{dev: dev}, nil
}

func (c *CH347) command(opcode byte, payload []byte) ([]byte, error) {
	buf := make([]byte, 3+len(payload))
	buf[0] = opcode
	buf[1] = byte(len(payload))
	buf[2] = byte(len(payload) >> 8)
	copy(buf[3:], payload)
	if _, err := c.dev.Write(buf); err != nil {
		return nil, fmt.Errorf("transport: ch347 write: %w", err)
	}
	reply := make([]byte, 512)
	n, err := c.dev.Read(reply)
	if err != nil {
		return nil, fmt.Errorf("transport: ch347 read: %w", err)
	}
	return reply[:n], nil
}

// SetClock maps hz onto the CH347's 6-step clock-divisor table
// (2000<<0 .. 2000<<5 kHz), as setClk() does.
func (c *CH347) SetClock(hz uint32) (uint32, error) {
	div := byte(0)
	step := uint32(2000000)
	for div < 5 && hz >= step {
		div++
		step *= 2
	}
	if _, err := c.command(ch347CmdClk, []byte{div, 0, 0, 0, 0, 0}); err != nil {
		return 0, err
	}
	return step, nil
}

func (c *CH347) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	if nbits == 0 {
		return nil
	}
	held := byte(0)
	if tdi {
		held = ch347SigTDI
	}
	payload := make([]byte, 0, nbits*2)
	for i := 0; i < nbits; i++ {
		x := held
		if tms[i>>3]&(1<<uint(i&7)) != 0 {
			x |= ch347SigTMS
		}
		payload = append(payload, x, x|ch347SigTCK)
	}
	_, err := c.command(ch347CmdBitsWO, payload)
	return err
}

func (c *CH347) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	if nbits == 0 || w == nil {
		return nil
	}
	realBits := nbits
	if lastTMS {
		realBits--
	}
	nBytes := realBits / 8
	cmd := ch347CmdBytesWO
	if r != nil {
		cmd = ch347CmdBytesWR
	}
	var reply []byte
	var err error
	if nBytes > 0 {
		reply, err = c.command(cmd, w[:nBytes])
		if err != nil {
			return err
		}
	}
	if r != nil && nBytes > 0 {
		copy(r[:nBytes], reply)
	}
	// Residual sub-byte tail and the lastTMS-combined final bit both move
	// through the bit-oriented opcode, one clock-low/clock-high pair per
	// bit, matching writeTDI's tail handling.
	residual := realBits - nBytes*8
	total := residual
	if lastTMS {
		total++
	}
	if total == 0 {
		return nil
	}
	bitPayload := make([]byte, 0, total*2)
	for i := 0; i < residual; i++ {
		bitIdx := nBytes*8 + i
		x := byte(0)
		if w[bitIdx>>3]&(1<<uint(bitIdx&7)) != 0 {
			x = ch347SigTDI
		}
		bitPayload = append(bitPayload, x, x|ch347SigTCK)
	}
	if lastTMS {
		bitIdx := nBytes*8 + residual
		x := ch347SigTMS
		if w[bitIdx>>3]&(1<<uint(bitIdx&7)) != 0 {
			x |= ch347SigTDI
		}
		bitPayload = append(bitPayload, x, x|ch347SigTCK)
	}
	bitCmd := ch347CmdBitsWO
	if r != nil {
		bitCmd = ch347CmdBitsWR
	}
	reply, err = c.command(bitCmd, bitPayload)
	if err != nil {
		return err
	}
	if r != nil {
		// Each returned byte mirrors one clock-high sample; bit 0 carries TDO.
		for i := 0; i < residual; i++ {
			bitIdx := nBytes*8 + i
			if reply[i]&1 != 0 {
				r[bitIdx>>3] |= 1 << uint(bitIdx&7)
			}
		}
		if lastTMS {
			bitIdx := nBytes*8 + residual
			if reply[residual]&1 != 0 {
				r[bitIdx>>3] |= 1 << uint(bitIdx&7)
			}
		}
	}
	return nil
}

func (c *CH347) ToggleClock(ctx context.Context, cycles int) error {
	if cycles == 0 {
		return nil
	}
	payload := make([]byte, 0, cycles*2)
	for i := 0; i < cycles; i++ {
		payload = append(payload, ch347SigTDI, ch347SigTDI|ch347SigTCK)
	}
	_, err := c.command(ch347CmdBitsWO, payload)
	return err
}

func (c *CH347) Flush(ctx context.Context) error { return nil }

func (c *CH347) BufferSize() int { return 4096 }

func (c *CH347) Close() error {
	return c.dev.Close()
}
