package dfusuffix

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func buildFile(payload []byte, idVendor, idProduct, bcdDevice, bcdDFU uint16) []byte {
	buf := make([]byte, len(payload)+suffixLen)
	copy(buf, payload)
	tail := buf[len(payload):]
	binary.LittleEndian.PutUint16(tail[0:2], bcdDevice)
	binary.LittleEndian.PutUint16(tail[2:4], idProduct)
	binary.LittleEndian.PutUint16(tail[4:6], idVendor)
	binary.LittleEndian.PutUint16(tail[6:8], bcdDFU)
	copy(tail[8:11], "DFU")
	tail[11] = suffixLen
	crc := crc32.ChecksumIEEE(buf[:len(buf)-4])
	binary.LittleEndian.PutUint32(tail[12:16], crc)
	return buf
}

func TestParseRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03}
	raw := buildFile(payload, 0x1209, 0x6130, 0xFFFF, 0x0100)

	data, suffix, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: got %v want %v", data, payload)
	}
	if suffix.IDVendor != 0x1209 || suffix.IDProduct != 0x6130 {
		t.Fatalf("unexpected vendor/product: %+v", suffix)
	}
}

func TestParseRejectsBadCRC(t *testing.T) {
	raw := buildFile([]byte{1, 2, 3}, 0x1209, 0x6130, 0xFFFF, 0x0100)
	raw[len(raw)-1] ^= 0xFF // corrupt the CRC field

	if _, _, err := Parse(raw); err == nil {
		t.Fatal("expected a CRC mismatch error")
	}
}

func TestParseRejectsMissingSignature(t *testing.T) {
	raw := buildFile([]byte{1, 2, 3}, 0x1209, 0x6130, 0xFFFF, 0x0100)
	copy(raw[len(raw)-suffixLen+8:], "BAD")

	if _, _, err := Parse(raw); err == nil {
		t.Fatal("expected a missing-signature error")
	}
}

func TestParseRejectsShortFile(t *testing.T) {
	if _, _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a too-short error")
	}
}
