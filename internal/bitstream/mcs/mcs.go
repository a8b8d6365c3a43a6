// Package mcs parses Xilinx/Intel .mcs PROM images, which are plain Intel
// HEX (00/01/04 records only) with the payload optionally bit-reversed
// depending on which prom family consumes it. Built directly on ihex.
package mcs

import (
	"io"

	"github.com/fpgaflash/fpgaflash/internal/bitstream"
	"github.com/fpgaflash/fpgaflash/internal/bitstream/ihex"
)

// Parse reads an .mcs stream. reverseOrder must be true for targets that
// expect MSB-first byte order on the wire (matches xilinxbit.Parse's flag
// of the same name).
func Parse(r io.Reader, reverseOrder bool) (*bitstream.Image, error) {
	return ihex.Parse(r, reverseOrder)
}
