package transport

import (
	"context"
	"fmt"

	hid "github.com/sstallion/go-hid"
)

// CMSIS-DAP vendor command IDs, grounded on spec.md §4's wire-protocol list
// (DAP_Connect/Disconnect/SWJ_Clock/SWJ_Sequence/JTAG_Sequence/Info).
const (
	dapCmdInfo       byte = 0x00
	dapCmdConnect    byte = 0x02
	dapCmdDisconnect byte = 0x03
	dapCmdSWJClock   byte = 0x11
	dapCmdJTAGSeq    byte = 0x14

	dapPortJTAG byte = 1

	// Each JTAG_Sequence entry's info byte: low 6 bits = bit count (0 means
	// 64), bit 6 = TMS level held for the whole sequence, bit 7 = capture
	// TDO.
	dapSeqTMSBit     byte = 1 << 6
	dapSeqCaptureBit byte = 1 << 7
)

// CMSISDAP drives a JTAG chain through a CMSIS-DAP v1 HID probe, sharing the
// HID plumbing with the CH347 transport but using DAP's own command set
// instead of raw TCK/TMS/TDI bit framing.
type CMSISDAP struct {
	dev        *hid.Device
	reportSize int
}

// OpenCMSISDAP opens a CMSIS-DAP HID interface and switches it to JTAG mode.
func OpenCMSISDAP(devPath string, reportSize int) (*CMSISDAP, error) {
	dev, err := hid.OpenPath(devPath)
	if err != nil {
		return nil, fmt.Errorf("transport: cmsis-dap open: %w", err)
	}
	if reportSize <= 0 {
		reportSize = 64
	}
	d := &CMSISDAP{dev: dev, reportSize: reportSize}
	if err := d.command([]byte{dapCmdConnect, dapPortJTAG}, 2); err != nil {
		dev.Close()
		return nil, err
	}
	return d, nil
}

func (d *CMSISDAP) command(req []byte, replyLen int) error {
	_, err := d.roundTrip(req, replyLen)
	return err
}

func (d *CMSISDAP) roundTrip(req []byte, replyLen int) ([]byte, error) {
	buf := make([]byte, d.reportSize)
	copy(buf, req)
	if _, err := d.dev.Write(buf); err != nil {
		return nil, fmt.Errorf("transport: cmsis-dap write: %w", err)
	}
	reply := make([]byte, d.reportSize)
	n, err := d.dev.Read(reply)
	if err != nil {
		return nil, fmt.Errorf("transport: cmsis-dap read: %w", err)
	}
	if n < 1 || reply[0] != req[0] {
		return nil, fmt.Errorf("transport: cmsis-dap reply mismatch: got %v for cmd 0x%02x", reply[:n], req[0])
	}
	if replyLen > n {
		replyLen = n
	}
	return reply[:replyLen], nil
}

func (d *CMSISDAP) SetClock(hz uint32) (uint32, error) {
	req := []byte{dapCmdSWJClock, byte(hz), byte(hz >> 8), byte(hz >> 16), byte(hz >> 24)}
	if err := d.command(req, 2); err != nil {
		return 0, err
	}
	return hz, nil
}

// jtagSequence issues one DAP_JTAG_Sequence command shifting nbits bits with
// a fixed tms level, optionally capturing TDO.
func (d *CMSISDAP) jtagSequence(tdi []byte, nbits int, tmsHeld bool, capture bool) ([]byte, error) {
	if nbits == 0 {
		return nil, nil
	}
	nBytes := (nbits + 7) / 8
	info := byte(nbits & 0x3F)
	if tmsHeld {
		info |= dapSeqTMSBit
	}
	if capture {
		info |= dapSeqCaptureBit
	}
	req := make([]byte, 0, 3+nBytes)
	req = append(req, dapCmdJTAGSeq, 1, info)
	if tdi != nil {
		req = append(req, tdi[:nBytes]...)
	} else {
		req = append(req, make([]byte, nBytes)...)
	}
	replyLen := 2
	if capture {
		replyLen += nBytes
	}
	reply, err := d.roundTrip(req, replyLen)
	if err != nil {
		return nil, err
	}
	if reply[1] != 0 {
		return nil, fmt.Errorf("transport: cmsis-dap jtag sequence status 0x%02x", reply[1])
	}
	if capture {
		return reply[2:], nil
	}
	return nil, nil
}

func (d *CMSISDAP) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	// DAP_JTAG_Sequence holds one TMS level per call, so each distinct TMS
	// bit needs its own one-bit sequence.
	tdiByte := byte(0)
	if tdi {
		tdiByte = 0xFF
	}
	for i := 0; i < nbits; i++ {
		bit := tms[i>>3]&(1<<uint(i&7)) != 0
		if _, err := d.jtagSequence([]byte{tdiByte}, 1, bit, false); err != nil {
			return err
		}
	}
	return nil
}

func (d *CMSISDAP) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	realBits := nbits
	if lastTMS {
		realBits--
	}
	if realBits > 0 {
		reply, err := d.jtagSequence(w, realBits, false, r != nil)
		if err != nil {
			return err
		}
		if r != nil {
			copy(r[:(realBits+7)/8], reply)
		}
	}
	if lastTMS {
		lastByte := byte(0)
		if w != nil && w[realBits>>3]&(1<<uint(realBits&7)) != 0 {
			lastByte = 1
		}
		reply, err := d.jtagSequence([]byte{lastByte}, 1, true, r != nil)
		if err != nil {
			return err
		}
		if r != nil && len(reply) > 0 {
			if reply[0]&1 != 0 {
				r[realBits>>3] |= 1 << uint(realBits&7)
			} else {
				r[realBits>>3] &^= 1 << uint(realBits&7)
			}
		}
	}
	return nil
}

func (d *CMSISDAP) ToggleClock(ctx context.Context, cycles int) error {
	for cycles > 0 {
		n := cycles
		if n > 63 {
			n = 63
		}
		if _, err := d.jtagSequence(nil, n, false, false); err != nil {
			return err
		}
		cycles -= n
	}
	return nil
}

func (d *CMSISDAP) Flush(ctx context.Context) error { return nil }

func (d *CMSISDAP) BufferSize() int { return d.reportSize - 3 }

func (d *CMSISDAP) Close() error {
	_ = d.command([]byte{dapCmdDisconnect}, 2)
	return d.dev.Close()
}
