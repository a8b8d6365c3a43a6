// Package bitstream holds the common Image type every per-format parser
// subpackage embeds, plus the transparent gzip decompression wrapper used
// for the SPI-over-JTAG bridge bitstreams (spiOverJtag_<part>.bit.gz).
package bitstream

import (
	"bufio"
	"compress/gzip"
	"io"
)

// Image is the common result every parser produces: the raw payload bytes,
// its length in bits (not always 8*len(Data) — JEDEC/SVF streams can end
// mid-byte), and whatever key/value header fields the format carries.
type Image struct {
	Data   []byte
	BitLen int
	Header map[string]string
}

// OpenMaybeGzip wraps r in a gzip.Reader if the stream starts with the gzip
// magic (0x1f 0x8b), otherwise returns r unchanged. Every parser's Parse
// should route its io.Reader through this first so a caller can hand it
// either a plain bitstream or a spiOverJtag_*.bit.gz bridge image
// transparently.
func OpenMaybeGzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		if err == io.EOF {
			return br, nil
		}
		return nil, err
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}
