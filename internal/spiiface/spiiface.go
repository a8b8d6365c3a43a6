// Package spiiface is the L2a uniform spi_put/spi_wait abstraction named in
// spec.md §4.3: one trait, two providers (direct FTDI-SPI and JTAG-tunneled
// bscan), so the L2b flash driver and the L3 vendor drivers never need to
// know which physical path carries their bytes.
package spiiface

import (
	"context"
	"time"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Interface is the three-operation SPI contract every provider implements.
type Interface interface {
	// Put emits cmd followed by tx (if non-nil), optionally capturing the
	// same number of response bytes into rx (if non-nil). cmd is a single
	// opcode byte, not counted as part of tx/rx.
	Put(ctx context.Context, cmd byte, tx []byte, rx []byte) error

	// PutRaw is Put without an implicit leading opcode byte, used for
	// multi-part transfers that already carry their own command+address
	// prefix in tx.
	PutRaw(ctx context.Context, tx []byte, rx []byte) error

	// Wait polls by repeatedly issuing cmd (typically READ_STATUS), reading
	// one response byte, until (response & mask) == cond, or returns
	// fpgaerr.KindJtagBusy once timeout elapses.
	Wait(ctx context.Context, cmd byte, mask, cond byte, timeout time.Duration) error
}

// WaitLoop is the polling algorithm shared by both providers: issue cmd via
// put, check the mask/cond, sleep a small step, repeat until timeout.
func WaitLoop(ctx context.Context, put func() (byte, error), mask, cond byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	step := time.Millisecond
	for {
		b, err := put()
		if err != nil {
			return err
		}
		if b&mask == cond {
			return nil
		}
		if time.Now().After(deadline) {
			return fpgaerr.New(fpgaerr.KindJtagBusy, "spi wait: timeout polling status", nil)
		}
		select {
		case <-ctx.Done():
			return fpgaerr.New(fpgaerr.KindJtagBusy, "spi wait: context cancelled", ctx.Err())
		case <-time.After(step):
		}
		if step < 20*time.Millisecond {
			step *= 2
		}
	}
}
