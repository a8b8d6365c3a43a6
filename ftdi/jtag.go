// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// JTAG shifting over the AD bus in MPSSE mode.
//
// Bit-banging TMS and TDI/TDO one bit at a time would be correct but far too
// slow over a USB link; this instead uses the MPSSE TMS-shift opcodes
// (tmsOutLSBFRise/Fall, tmsIOLSBInRise/Fall) and the clock-only opcodes
// (clockOnShort/clockOnLong) documented in AN_135, combining the very last
// bit of a shift with the TMS transition that leaves SHIFT-IR/SHIFT-DR so the
// whole register moves in a single USB round trip.

package ftdi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// JTAGPort drives TCK/TDI/TDO/TMS (D0-D3) of an FT232H in MPSSE mode.
type JTAGPort struct {
	f *FT232H

	// readNeg is true when TDO must be sampled on the falling edge instead of
	// the rising edge, the Digilent-cable-at->=15MHz quirk.
	readNeg bool
}

// Close releases the JTAG port, allowing JTAG() to claim it again.
func (j *JTAGPort) Close() error {
	j.f.mu.Lock()
	j.f.usingJTAG = false
	j.f.mu.Unlock()
	return nil
}

func (j *JTAGPort) String() string {
	return j.f.String() + ".JTAG"
}

// SetClock configures TCK and returns the closest achievable frequency.
func (j *JTAGPort) SetClock(f physic.Frequency) (physic.Frequency, error) {
	return j.f.h.MPSSEClock(f)
}

// SetReadEdge forces TDO sampling on the falling edge. Cable profiles set
// this for Digilent adapters running above 15MHz, and for any cable whose
// internal/board entry sets InvertReadEdge.
func (j *JTAGPort) SetReadEdge(negative bool) {
	j.readNeg = negative
}

func (j *JTAGPort) readEdge() gpio.Edge {
	if j.readNeg {
		return gpio.FallingEdge
	}
	return gpio.RisingEdge
}

// JTAG claims D0 (TCK), D1 (TDI), D2 (TDO), D3 (TMS) and returns a port for
// shifting TAP sequences. Only one JTAG claim can be active on the AD bus
// at a time.
func (f *FT232H) JTAG() (*JTAGPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingI2C {
		return nil, errors.New("d2xx: already using I²C")
	}
	if f.usingSPI {
		return nil, errors.New("d2xx: already using SPI")
	}
	if f.usingJTAG {
		return nil, errors.New("d2xx: already using JTAG")
	}
	// D0 TCK out, D1 TDI out, D2 TDO in, D3 TMS out, idle low/low/-/high
	// (TMS idle high keeps the TAP from drifting into an unintended state
	// while the link is otherwise silent).
	if err := f.h.MPSSEDBus(0x0b, 0x08); err != nil {
		return nil, err
	}
	f.usingJTAG = true
	f.j = jtagPort{f: f}
	return &JTAGPort{f: f}, nil
}

// jtagPort is kept only so a future synchronous-bitbang JTAG fallback can
// reuse the same claim-tracking slot FT232H already reserves for SPI/I²C.
type jtagPort struct {
	f *FT232H
}

// WriteTMS shifts nbits TMS bits (LSB-first, packed in tms) while holding
// TDI at the constant value tdi. It never samples TDO: TMS-only sequences
// are state-machine navigation, not data shifts.
func (j *JTAGPort) WriteTMS(tdi bool, tms []byte, nbits int) error {
	return j.f.h.mpsseWriteTMS(tdi, tms, nbits)
}

// ToggleClock pulses TCK cycles times without moving TMS or TDI, used to let
// a device settle (e.g. post-configuration startup clocks) while the TAP
// stays in RUN-TEST/IDLE.
func (j *JTAGPort) ToggleClock(cycles int) error {
	return j.f.h.mpsseToggleClock(cycles)
}

// WriteTDI shifts nbits bits out of w into the DR/IR register, optionally
// capturing the response into r (r may be nil to discard it). When lastTMS
// is true, the final bit is shifted in conjunction with a single TMS=1 pulse
// so the TAP leaves SHIFT-IR/SHIFT-DR for EXIT1-IR/EXIT1-DR on the same
// clock edge as the last data bit, exactly as a real JTAG shift must.
func (j *JTAGPort) WriteTDI(w, r []byte, nbits int, lastTMS bool) error {
	return j.f.h.mpsseWriteTDI(w, r, nbits, lastTMS, j.readEdge())
}

// mpsseWriteTMS implements the tmsOutLSBFFall opcode, chunked to 6 bits per
// command (bit 7 of the payload byte carries the held TDI/DO value, bits
// [5:0] carry up to 6 TMS bits LSB-first).
func (h *handle) mpsseWriteTMS(tdi bool, tms []byte, nbits int) error {
	if nbits == 0 {
		return nil
	}
	if (nbits+7)/8 > len(tms) {
		return errors.New("ftdi: tms buffer too short")
	}
	held := byte(0)
	if tdi {
		held = 0x80
	}
	var cmd []byte
	offset := 0
	remaining := nbits
	for remaining > 0 {
		n := remaining
		if n > 6 {
			n = 6
		}
		b := held
		for i := 0; i < n; i++ {
			bit := (tms[offset>>3] >> uint(offset&7)) & 1
			b |= bit << uint(i)
			offset++
		}
		cmd = append(cmd, tmsOutLSBFFall, byte(n-1), b)
		remaining -= n
	}
	cmd = append(cmd, flush)
	_, err := h.Write(cmd)
	return err
}

// mpsseToggleClock pulses TCK without shifting data, using the dedicated
// clock-only opcodes available on 2232H/4232H/232H family chips.
func (h *handle) mpsseToggleClock(cycles int) error {
	if cycles <= 0 {
		return nil
	}
	var cmd []byte
	remaining := cycles
	for remaining > 0 {
		chunk := remaining
		if chunk > 0x10000*8 {
			chunk = 0x10000 * 8
		}
		if chunk > 8 {
			cycles8 := chunk/8 - 1
			cmd = append(cmd, clockOnLong, byte(cycles8), byte(cycles8>>8))
			remaining -= (cycles8 + 1) * 8
			continue
		}
		cmd = append(cmd, clockOnShort, byte(chunk-1))
		remaining -= chunk
		break
	}
	cmd = append(cmd, flush)
	_, err := h.Write(cmd)
	return err
}

// mpsseWriteTDI is the Go port of FtdiJtagMPSSE::writeTDI: full bytes move
// through the byte-oriented opcode, the residual sub-byte tail (and the very
// last bit, when lastTMS is set) moves through the bit-oriented opcode, and
// the final bit merges with a single TMS pulse so the shift ends exactly on
// entry to EXIT1-IR/EXIT1-DR.
func (h *handle) mpsseWriteTDI(w, r []byte, nbits int, lastTMS bool, readEdge gpio.Edge) error {
	if nbits == 0 {
		return nil
	}
	hasW := w != nil
	hasR := r != nil
	realBits := nbits
	if lastTMS {
		realBits--
	}
	nBytes := realBits >> 3
	nBits := realBits & 7
	// A lone full byte is cheaper to express as 8 bit-ops than as the
	// byte-oriented opcode's minimum framing. Not taken when lastTMS is set:
	// the final bit then sits in the next byte of w and r.
	if nBytes == 1 && nBits == 0 && !lastTMS {
		nBytes = 0
		nBits = 8
	}

	var cmd []byte
	rOff := 0
	wOff := 0
	if nBytes > 0 {
		op := dataLSBF
		if hasW {
			op |= dataOut | dataOutFall
		}
		if hasR {
			op |= dataIn
			if readEdge == gpio.FallingEdge {
				op |= dataInFall
			}
		}
		cmd = append(cmd, op, byte(nBytes-1), byte((nBytes-1)>>8))
		if hasW {
			cmd = append(cmd, w[wOff:wOff+nBytes]...)
			wOff += nBytes
		}
	}

	var lastByteBit byte
	if hasW {
		if wOff < len(w) {
			lastByteBit = w[wOff]
		}
	}

	if nBits != 0 {
		op := byte(dataBit) | dataLSBF
		if hasW {
			op |= dataOut | dataOutFall
		}
		if hasR {
			op |= dataIn
			if readEdge == gpio.FallingEdge {
				op |= dataInFall
			}
		}
		cmd = append(cmd, op, byte(nBits-1))
		if hasW {
			cmd = append(cmd, lastByteBit)
		}
	}

	if lastTMS {
		var lastBit byte
		if hasW {
			lastBit = (lastByteBit >> uint(nBits)) & 1
		}
		op := tmsOutLSBFFall
		if hasR {
			op = tmsIOLSBInFall
		}
		payload := byte(0x01)
		if lastBit != 0 {
			payload = 0x81
		}
		cmd = append(cmd, op, 0x00, payload)
	}
	cmd = append(cmd, flush)
	if _, err := h.Write(cmd); err != nil {
		return err
	}
	if !hasR {
		return nil
	}

	readLen := 0
	if nBytes > 0 {
		readLen += nBytes
	}
	if nBits != 0 {
		readLen++
	}
	if lastTMS {
		readLen++
	}
	raw := make([]byte, readLen)
	ctx, cancel := context200ms()
	defer cancel()
	if _, err := h.ReadAll(ctx, raw); err != nil {
		return fmt.Errorf("ftdi: jtag read: %w", err)
	}
	idx := 0
	if nBytes > 0 {
		copy(r[rOff:rOff+nBytes], raw[:nBytes])
		rOff += nBytes
		idx += nBytes
	}
	var partial byte
	havePartial := false
	if nBits != 0 {
		partial = raw[idx] >> uint(8-nBits)
		idx++
		havePartial = true
		if !lastTMS {
			r[rOff] = partial
			rOff++
		}
	}
	if lastTMS {
		lastIn := (raw[idx] & 0x80) >> uint(7-nBits)
		if havePartial {
			r[rOff] = partial | lastIn
		} else {
			r[rOff] = lastIn
		}
	}
	return nil
}
