// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/d2xx"
)

// generic holds what every opened FTDI device needs regardless of chip
// family: the handle to issue D2XX calls against and the name used in error
// messages and logs.
type generic struct {
	h    *handle
	name string
}

func (f *generic) String() string {
	return f.name
}

// Halt resets the device, releasing it from whatever mode JTAG/bit-bang left
// it in.
func (f *generic) Halt() error {
	return f.h.Reset()
}

//

func newFT232H(g generic) (*FT232H, error) {
	f := &FT232H{generic: g}
	// This forces all pins as inputs, then brings up the MPSSE engine.
	if err := f.h.InitMPSSE(); err != nil {
		return nil, err
	}
	return f, nil
}

// FT232H represents a FT232H (or FT2232H/FT4232H channel) switched into
// MPSSE mode for JTAG.
//
// The FT232H has 1024 bytes output buffer and 1024 bytes input buffer. It
// supports 512 bytes USB packets.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
type FT232H struct {
	generic

	mu        sync.Mutex
	usingI2C  bool
	usingSPI  bool
	usingJTAG bool
	j         jtagPort
}

//

func newFT232R(g generic) (*FT232R, error) {
	f := &FT232R{generic: g}
	if err := f.h.InitNonMPSSE(); err != nil {
		return nil, err
	}
	// Default to 3MHz; Bitbang.SetClock rewrites this once the cable profile's
	// desired rate is known.
	if err := f.h.SetBaudRate(3 * physic.MegaHertz); err != nil {
		return nil, err
	}
	// Set all DBus as asynchronous bitbang, everything as input.
	if err := f.h.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		return nil, err
	}
	var b [1]byte
	if _, err := f.h.ReadAll(context.Background(), b[:]); err != nil {
		return nil, err
	}
	f.dvalue = b[0]
	return f, nil
}

// FT232R represents a FT232RL/FT232RQ device driven in synchronous bit-bang
// mode over its D-bus (TX/RX/RTS/CTS/DTR/DSR/DCD/RI).
//
// The FT232R has 128 bytes output buffer and 256 bytes input buffer.
//
// # Datasheet
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
type FT232R struct {
	generic

	mu     sync.Mutex
	dmask  uint8 // 0 input, 1 output
	dvalue uint8
}

// SetDBusMask sets all D0~D7 input or output mode at once.
//
// mask is the input/output pins to use. A bit value of 0 sets the
// corresponding pin to an input, a bit value of 1 sets the corresponding pin
// to an output.
//
// It should be called before calling Tx().
func (f *FT232R) SetDBusMask(mask uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setDBusMaskLocked(mask)
}

// Tx does synchronized read-then-write on all the D0~D7 GPIOs.
//
// SetDBusMask() determines which bits are interpreted in the w and r byte
// slice. w has its significant value masked by 'mask' and r has its
// significant value masked by '^mask'.
//
// Input sample is done *before* updating outputs. So r[0] is sampled before
// w[0] is used. The last w byte should be duplicated if an additional read is
// desired.
func (f *FT232R) Tx(w, r []byte) error {
	if len(w) != 0 {
		if len(r) != 0 && len(w) != len(r) {
			return errors.New("d2xx: length of buffer w and r must match")
		}
	} else if len(r) == 0 {
		return errors.New("d2xx: at least one of w or r must be passed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txLocked(w, r)
}

func (f *FT232R) setDBusMaskLocked(mask uint8) error {
	if mask != f.dmask {
		if err := f.h.SetBitMode(mask, bitModeAsyncBitbang); err != nil {
			return err
		}
		f.dmask = mask
	}
	return nil
}

func (f *FT232R) txLocked(w, r []byte) error {
	// The FT232R has 128 bytes TX buffer and 256 bytes RX buffer. Chunk into 64
	// bytes chunks: half the TX buffer, which permits pipelining and removes
	// the risk of buffer overrun.
	chunk := 64
	var scratch [128]byte
	if len(w) == 0 {
		// Read only.
		for i := range scratch {
			scratch[i] = f.dvalue
		}
		for len(r) != 0 {
			c := len(r)
			if c > chunk {
				c = chunk
			}
			if _, err := f.h.Write(scratch[:c]); err != nil {
				return err
			}
			if _, err := f.h.ReadAll(context.Background(), r[:c]); err != nil {
				return err
			}
			r = r[c:]
		}
	} else if len(r) == 0 {
		// Write only. The first write is 128 bytes to fill the buffer.
		chunk = 128
		for len(w) != 0 {
			c := len(w)
			if c > chunk {
				c = chunk
			}
			if _, err := f.h.Write(w[:c]); err != nil {
				return err
			}
			w = w[c:]
			chunk = 64
		}
	} else {
		// R/W. Always write one 'w' ahead. The first write is 128 bytes to fill
		// the buffer.
		chunk = 128
		cw := len(w)
		if cw > chunk {
			cw = chunk
		}
		if _, err := f.h.Write(w[:cw]); err != nil {
			return err
		}
		w = w[cw:]
		chunk = 64
		for len(r) != 0 {
			cr := len(r)
			if cr > chunk {
				cr = chunk
			}
			if _, err := f.h.ReadAll(context.Background(), r[:cr]); err != nil {
				return err
			}
			r = r[cr:]

			cw = len(w)
			if cw > chunk {
				cw = chunk
			}
			if cw != 0 {
				if _, err := f.h.Write(w[:cw]); err != nil {
					return err
				}
				w = w[cw:]
			}
		}
	}
	return nil
}

//

// deviceOpener and deviceCount are the D2XX enumeration functions OpenFT232H
// and OpenFT232R consult. UseFakeDevices overrides them for tests.
var (
	deviceOpener = d2xx.Open
	deviceCount  = numDevices
)

// UseFakeDevices substitutes the D2XX enumeration/open functions that
// OpenFT232H and OpenFT232R consult, for tests (in this package, or others
// such as internal/transport) that need a working FT232H/FT232R without real
// USB hardware attached. Passing nil for either argument restores the real
// d2xx-backed behavior for that argument.
func UseFakeDevices(open func(i int) (d2xx.Handle, d2xx.Err), count func() (int, error)) {
	if open == nil {
		open = d2xx.Open
	}
	if count == nil {
		count = numDevices
	}
	deviceOpener = open
	deviceCount = count
}

// openMatching scans the connected D2XX devices in enumeration order and
// returns the handle for the nth (0-based) one whose VID/PID equals vid/pid
// and whose chip type satisfies accept. A multi-interface chip (FT2232H,
// FT4232H) exposes each MPSSE channel as a separate D2XX device entry with
// the same VID/PID, so a cable's MPSSEConfig.Interface (1 or 2) becomes nth
// (0 or 1) here.
func openMatching(vid, pid uint16, nth int, accept func(DevType) bool) (*handle, error) {
	num, err := deviceCount()
	if err != nil {
		return nil, err
	}
	matched := 0
	for i := 0; i < num; i++ {
		h, err := openHandle(deviceOpener, i)
		if err != nil {
			continue
		}
		if h.venID != vid || h.devID != pid || !accept(h.t) {
			_ = h.Close()
			continue
		}
		if matched == nth {
			if err := h.Init(); err != nil {
				if rerr := h.Reset(); rerr != nil {
					_ = h.Close()
					return nil, rerr
				}
				if err := h.Init(); err != nil {
					_ = h.Close()
					return nil, err
				}
			}
			return h, nil
		}
		matched++
		_ = h.Close()
	}
	return nil, fmt.Errorf("ftdi: no device matching vid=%#04x pid=%#04x at position %d (found %d matching)", vid, pid, nth, matched)
}

func matchedName(t DevType, nth int) string {
	name := t.String()
	if nth > 0 {
		name += "(" + strconv.Itoa(nth) + ")"
	}
	return name
}

// OpenFT232H opens the nth (0-based) connected FT232H, FT2232H or FT4232H
// whose USB VID/PID equals vid/pid, and switches it into MPSSE mode ready
// for FT232H.JTAG().
func OpenFT232H(vid, pid uint16, nth int) (*FT232H, error) {
	h, err := openMatching(vid, pid, nth, func(t DevType) bool {
		return t == DevTypeFT232H || t == DevTypeFT2232H || t == DevTypeFT4232H
	})
	if err != nil {
		return nil, err
	}
	f, err := newFT232H(generic{h: h, name: matchedName(h.t, nth)})
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return f, nil
}

// OpenFT232R opens the nth (0-based) connected FT232R whose USB VID/PID
// equals vid/pid, ready for synchronous bit-bang.
func OpenFT232R(vid, pid uint16, nth int) (*FT232R, error) {
	h, err := openMatching(vid, pid, nth, func(t DevType) bool { return t == DevTypeFT232R })
	if err != nil {
		return nil, err
	}
	f, err := newFT232R(generic{h: h, name: matchedName(h.t, nth)})
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return f, nil
}
