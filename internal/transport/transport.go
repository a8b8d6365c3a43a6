// Package transport defines the L0 capability set every JTAG link exposes
// (internal/jtag.Chain drives one of these) and the concrete transports that
// implement it: MPSSE over an FTDI D2XX handle, synchronous bit-bang over an
// FT232R/231X, CH347/DirtyJTAG/UsbBlaster/CMSIS-DAP protocol translators, XVC
// client/server, remote bit-bang, and a Linux GPIO chardev bit-bang path.
//
// Grounded on spec.md §4.1 and original_source/src/jtag.cpp's
// init_internal dispatch over cable.type.
package transport

import "context"

// Transport is the capability set named in spec.md §4.1: set_clock,
// write_tms, write_tdi (with the end_is_tms contract), toggle_clk, flush.
type Transport interface {
	// SetClock configures TCK and returns the achieved frequency in Hz.
	SetClock(hz uint32) (uint32, error)

	// WriteTMS shifts nbits TMS bits (LSB-first, packed in tms) while
	// holding TDI at the constant value tdi.
	WriteTMS(ctx context.Context, tdi bool, tms []byte, nbits int) error

	// WriteTDI shifts nbits bits from w into TDI, optionally capturing TDO
	// into r (r may be nil to discard it). When lastTMS is true the final
	// bit must be emitted *with TMS=1* in the same cycle, so the TAP exits
	// SHIFT-IR/SHIFT-DR cleanly; transports that cannot combine the two
	// must split the shift and reconstruct the final bit themselves.
	WriteTDI(ctx context.Context, w, r []byte, nbits int, lastTMS bool) error

	// ToggleClock pulses TCK cycles times without moving TMS or TDI.
	ToggleClock(ctx context.Context, cycles int) error

	// Flush ensures any buffered TMS bits have actually been sent over the
	// wire; a no-op for transports that never buffer.
	Flush(ctx context.Context) error

	// BufferSize reports the largest single WriteTDI the transport can
	// perform without an intermediate flush, used by callers that stream
	// very large payloads (bitstream loads) in chunks.
	BufferSize() int

	Close() error
}
