package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
)

// RemoteBitbang speaks the TCP-framed single-character bit-bang protocol
// used by simulators (OpenOCD's "remote_bitbang" driver and Verilator's
// "+jtag_rbb"): one ASCII command byte per JTAG clock edge.
//
//	'0'..'7'  set {tck,tms,tdi} from bits 2,1,0 of (cmd-'0'), no clock edge
//	'B'..'R'  blink LED on/off (unused here)
//	'R'       read TDO, server replies with a single '0' or '1' byte
//	'Q'       quit
type RemoteBitbang struct {
	conn net.Conn
	r    *bufio.Reader
}

// DialRemoteBitbang connects to a remote_bitbang-protocol server at addr.
func DialRemoteBitbang(addr string) (*RemoteBitbang, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: remote bitbang dial %s: %w", addr, err)
	}
	return &RemoteBitbang{conn: conn, r: bufio.NewReader(conn)}, nil
}

func (rb *RemoteBitbang) SetClock(hz uint32) (uint32, error) {
	// The protocol has no clock-rate negotiation; cadence is set purely by
	// how fast this side emits commands.
	return hz, nil
}

func (rb *RemoteBitbang) sendBit(tck, tms, tdi bool) error {
	cmd := byte('0')
	if tdi {
		cmd += 1
	}
	if tms {
		cmd += 2
	}
	if tck {
		cmd += 4
	}
	_, err := rb.conn.Write([]byte{cmd})
	return err
}

func (rb *RemoteBitbang) readTDO() (bool, error) {
	if _, err := rb.conn.Write([]byte{'R'}); err != nil {
		return false, err
	}
	b, err := rb.r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("transport: remote bitbang read: %w", err)
	}
	return b == '1', nil
}

func (rb *RemoteBitbang) clockCycle(tms, tdi bool, sample bool) (bool, error) {
	if err := rb.sendBit(false, tms, tdi); err != nil {
		return false, err
	}
	var bit bool
	var err error
	if sample {
		bit, err = rb.readTDO()
		if err != nil {
			return false, err
		}
	}
	if err := rb.sendBit(true, tms, tdi); err != nil {
		return false, err
	}
	return bit, nil
}

func (rb *RemoteBitbang) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	for i := 0; i < nbits; i++ {
		bit := tms[i>>3]&(1<<uint(i&7)) != 0
		if _, err := rb.clockCycle(bit, tdi, false); err != nil {
			return err
		}
	}
	return nil
}

func (rb *RemoteBitbang) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	for i := 0; i < nbits; i++ {
		tdiBit := false
		if w != nil {
			tdiBit = w[i>>3]&(1<<uint(i&7)) != 0
		}
		tmsBit := lastTMS && i == nbits-1
		bit, err := rb.clockCycle(tmsBit, tdiBit, r != nil)
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

func (rb *RemoteBitbang) ToggleClock(ctx context.Context, cycles int) error {
	for i := 0; i < cycles; i++ {
		if _, err := rb.clockCycle(false, false, false); err != nil {
			return err
		}
	}
	return nil
}

func (rb *RemoteBitbang) Flush(ctx context.Context) error { return nil }

func (rb *RemoteBitbang) BufferSize() int { return 1 }

func (rb *RemoteBitbang) Close() error {
	rb.conn.Write([]byte{'Q'})
	return rb.conn.Close()
}
