package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/fpgaflash/fpgaflash/internal/jtag"
	"github.com/fpgaflash/fpgaflash/internal/log"
)

// XVCClient implements the Xilinx Virtual Cable 1.0 wire protocol as named
// in spec.md §7 ("getinfo:", "settck:", "shift:<nbits><tms><tdi>",
// bitwise-LSB-first framing) talking to a remote XVC server.
type XVCClient struct {
	conn net.Conn
	r    *bufio.Reader
	tck  uint32
}

// DialXVC connects to an XVC server at addr (host:port).
func DialXVC(addr string) (*XVCClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: xvc dial %s: %w", addr, err)
	}
	c := &XVCClient{conn: conn, r: bufio.NewReader(conn), tck: 1000000}
	if _, err := conn.Write([]byte("getinfo:")); err != nil {
		conn.Close()
		return nil, err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: xvc getinfo: %w", err)
	}
	log.Infof("xvc server: %s", line)
	return c, nil
}

func (c *XVCClient) SetClock(hz uint32) (uint32, error) {
	period := uint32(1000000000 / hz)
	req := append([]byte("settck:"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(req[7:], period)
	if _, err := c.conn.Write(req); err != nil {
		return 0, err
	}
	reply := make([]byte, 4)
	if _, err := readFull(c.r, reply); err != nil {
		return 0, err
	}
	got := binary.LittleEndian.Uint32(reply)
	c.tck = hz
	return uint32(1000000000 / got), nil
}

// shift issues one "shift:" command carrying nbits worth of packed TMS and
// TDI vectors and returns the captured TDO vector.
func (c *XVCClient) shift(tms, tdi []byte, nbits int) ([]byte, error) {
	nBytes := (nbits + 7) / 8
	req := make([]byte, 0, 5+4+2*nBytes)
	req = append(req, []byte("shift:")...)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(nbits))
	req = append(req, lenBuf...)
	req = append(req, tms...)
	req = append(req, tdi...)
	if _, err := c.conn.Write(req); err != nil {
		return nil, fmt.Errorf("transport: xvc shift write: %w", err)
	}
	reply := make([]byte, nBytes)
	if _, err := readFull(c.r, reply); err != nil {
		return nil, fmt.Errorf("transport: xvc shift read: %w", err)
	}
	return reply, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		if n > 0 {
			got += n
		}
		if err != nil {
			return got, err
		}
	}
	return got, nil
}

func (c *XVCClient) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	tdiBuf := make([]byte, (nbits+7)/8)
	if tdi {
		for i := range tdiBuf {
			tdiBuf[i] = 0xFF
		}
	}
	_, err := c.shift(tms, tdiBuf, nbits)
	return err
}

func (c *XVCClient) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	tms := make([]byte, (nbits+7)/8)
	if lastTMS {
		tms[(nbits-1)>>3] |= 1 << uint((nbits-1)&7)
	}
	reply, err := c.shift(tms, w, nbits)
	if err != nil {
		return err
	}
	if r != nil {
		copy(r, reply)
	}
	return nil
}

func (c *XVCClient) ToggleClock(ctx context.Context, cycles int) error {
	zeros := make([]byte, (cycles+7)/8)
	_, err := c.shift(zeros, zeros, cycles)
	return err
}

func (c *XVCClient) Flush(ctx context.Context) error { return nil }

func (c *XVCClient) BufferSize() int { return 4096 }

func (c *XVCClient) Close() error { return c.conn.Close() }

// ServeXVC accepts XVC connections on ln, driving chain for each shift:
// request, until ctx is cancelled or ln.Accept fails. This is the module's
// only background-goroutine entry point (spec.md §5): callers run it in its
// own goroutine and cancel ctx to stop the accept loop.
func ServeXVC(ctx context.Context, ln net.Listener, chain *jtag.Chain) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go serveXVCConn(ctx, conn, chain)
	}
}

func serveXVCConn(ctx context.Context, conn net.Conn, chain *jtag.Chain) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		cmd, err := r.Peek(6)
		if err != nil {
			return
		}
		switch string(cmd) {
		case "getinf":
			r.Discard(len("getinfo:"))
			conn.Write([]byte("xvcServer_v1.0:2048\n"))
		case "settck":
			r.Discard(len("settck:"))
			buf := make([]byte, 4)
			if _, err := readFull(r, buf); err != nil {
				return
			}
			conn.Write(buf)
		case "shift:":
			r.Discard(len("shift:"))
			lenBuf := make([]byte, 4)
			if _, err := readFull(r, lenBuf); err != nil {
				return
			}
			nbits := int(binary.LittleEndian.Uint32(lenBuf))
			nBytes := (nbits + 7) / 8
			tms := make([]byte, nBytes)
			tdi := make([]byte, nBytes)
			if _, err := readFull(r, tms); err != nil {
				return
			}
			if _, err := readFull(r, tdi); err != nil {
				return
			}
			tdo := make([]byte, nBytes)
			if err := chain.ShiftRaw(ctx, tdi, tms, tdo, nbits); err != nil {
				log.Errorf("xvc shift: %v", err)
				return
			}
			conn.Write(tdo)
		default:
			return
		}
	}
}
