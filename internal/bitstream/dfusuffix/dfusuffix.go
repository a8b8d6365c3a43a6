// Package dfusuffix reads and verifies the 16-byte USB DFU 1.1 file suffix
// appended to a .dfu image: bcdDevice, idProduct, idVendor, bcdDFU, the
// "DFU" signature, bLength and a trailing CRC32 over everything preceding
// it. Grounded on original_source/src/dfuFileParser.hpp's field layout
// (DFUFileParser::parseHeader, vendorID/productID accessors); the .cpp
// itself is not present in this pack, so the suffix layout follows the USB
// DFU 1.1 specification directly.
package dfusuffix

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/fpgaflash/fpgaflash/internal/fpgaerr"
)

const suffixLen = 16

// Suffix holds the parsed trailer fields.
type Suffix struct {
	BcdDevice uint16
	IDProduct uint16
	IDVendor  uint16
	BcdDFU    uint16
	Length    uint8
	CRC       uint32
}

// Parse reads the DFU suffix from the tail of raw and verifies its CRC32
// and "DFU" signature. The returned firmware payload excludes the suffix.
func Parse(raw []byte) ([]byte, *Suffix, error) {
	if len(raw) < suffixLen {
		return nil, nil, fpgaerr.New(fpgaerr.KindParse, "dfusuffix: file too short for a DFU suffix", nil)
	}
	tail := raw[len(raw)-suffixLen:]

	sig := tail[8:11]
	if string(sig) != "DFU" {
		return nil, nil, fpgaerr.New(fpgaerr.KindParse, "dfusuffix: missing DFU signature", nil)
	}

	s := &Suffix{
		BcdDevice: binary.LittleEndian.Uint16(tail[0:2]),
		IDProduct: binary.LittleEndian.Uint16(tail[2:4]),
		IDVendor:  binary.LittleEndian.Uint16(tail[4:6]),
		BcdDFU:    binary.LittleEndian.Uint16(tail[6:8]),
		Length:    tail[11],
		CRC:       binary.LittleEndian.Uint32(tail[12:16]),
	}
	if int(s.Length) != suffixLen {
		return nil, nil, fpgaerr.New(fpgaerr.KindParse, "dfusuffix: unsupported suffix length", nil)
	}

	computed := crc32.ChecksumIEEE(raw[:len(raw)-4])
	if computed != s.CRC {
		return nil, s, fpgaerr.New(fpgaerr.KindChecksumMismatch, "dfusuffix: CRC32 mismatch", nil)
	}

	return raw[:len(raw)-suffixLen], s, nil
}
