package spiiface

import (
	"context"
	"time"

	"periph.io/x/conn/v3/spi"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

// Direct is the direct-FTDI-SPI provider: an MPSSE SPI port opened with an
// explicit chip-select pin, grounded on the teacher's ftdi.FT232H.SPI()/
// spiSyncPort (same as gentam-gice's connectSPI helper).
type Direct struct {
	conn spi.Conn
}

// NewDirect wraps an already-configured periph spi.Conn (mode 0-3, CS
// framing and clock rate are the caller's concern via spi.Port.Connect).
func NewDirect(conn spi.Conn) *Direct {
	return &Direct{conn: conn}
}

func (d *Direct) PutRaw(ctx context.Context, tx, rx []byte) error {
	if tx == nil && rx != nil {
		tx = make([]byte, len(rx))
	}
	if rx == nil && tx != nil {
		// spi.Conn.Tx requires equal-length buffers when rx is supplied;
		// when the caller only cares about writing, no throwaway buffer is
		// needed at all.
		if err := d.conn.Tx(tx, nil); err != nil {
			return fpgaerr.New(fpgaerr.KindIO, "spi direct write", err)
		}
		return nil
	}
	if err := d.conn.Tx(tx, rx); err != nil {
		return fpgaerr.New(fpgaerr.KindIO, "spi direct transfer", err)
	}
	return nil
}

func (d *Direct) Put(ctx context.Context, cmd byte, tx, rx []byte) error {
	dataLen := len(tx)
	if rx != nil && len(rx) > dataLen {
		dataLen = len(rx)
	}
	full := make([]byte, 1+dataLen)
	full[0] = cmd
	copy(full[1:], tx)
	var fullRx []byte
	if rx != nil {
		fullRx = make([]byte, len(full))
	}
	if err := d.PutRaw(ctx, full, fullRx); err != nil {
		return err
	}
	if rx != nil {
		copy(rx, fullRx[1:])
	}
	return nil
}

func (d *Direct) Wait(ctx context.Context, cmd byte, mask, cond byte, timeout time.Duration) error {
	return WaitLoop(ctx, func() (byte, error) {
		rx := make([]byte, 1)
		if err := d.Put(ctx, cmd, nil, rx); err != nil {
			return 0, err
		}
		return rx[0], nil
	}, mask, cond, timeout)
}
