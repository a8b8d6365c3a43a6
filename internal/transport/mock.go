package transport

import "context"

// Mock is an in-memory Transport for unit tests, in the style of
// periph.io/x/conn's conntest fakes and go-lpc-mim's fake_device: it records
// every TMS/TDI write it sees and lets a test script canned DR/IR responses.
type Mock struct {
	Clock uint32

	// TMSLog records every WriteTMS call as the exact bits sent (LSB-first,
	// one bool per bit) so tests can assert on TAP navigation.
	TMSLog [][]bool

	// TDILog records every WriteTDI call's outgoing bits (LSB-first).
	TDILog [][]bool

	// Responses is consumed FIFO: each WriteTDI that requests a read pops
	// the front slice (or zero-fills if empty) and bit-packs it into r.
	Responses [][]bool

	FlushCount int
	ToggleLog  []int
	Closed     bool
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) SetClock(hz uint32) (uint32, error) {
	m.Clock = hz
	return hz, nil
}

func bitsFromBytes(buf []byte, nbits int) []bool {
	out := make([]bool, nbits)
	for i := 0; i < nbits; i++ {
		out[i] = buf[i>>3]&(1<<uint(i&7)) != 0
	}
	return out
}

func bytesFromBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i>>3] |= 1 << uint(i&7)
		}
	}
	return out
}

func (m *Mock) WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error {
	m.TMSLog = append(m.TMSLog, bitsFromBytes(tms, nbits))
	return nil
}

func (m *Mock) WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error {
	var out []bool
	if w != nil {
		out = bitsFromBytes(w, nbits)
	} else {
		out = make([]bool, nbits)
	}
	m.TDILog = append(m.TDILog, out)
	if r != nil {
		var resp []bool
		if len(m.Responses) > 0 {
			resp = m.Responses[0]
			m.Responses = m.Responses[1:]
		}
		if len(resp) < nbits {
			padded := make([]bool, nbits)
			copy(padded, resp)
			resp = padded
		}
		copy(r, bytesFromBits(resp[:nbits]))
	}
	return nil
}

func (m *Mock) ToggleClock(ctx context.Context, cycles int) error {
	m.ToggleLog = append(m.ToggleLog, cycles)
	return nil
}

func (m *Mock) Flush(ctx context.Context) error {
	m.FlushCount++
	return nil
}

func (m *Mock) BufferSize() int { return 65536 }

func (m *Mock) Close() error {
	m.Closed = true
	return nil
}
