package anlogicbit

import "testing"

func buildFile(header []string, blocks [][]byte) []byte {
	var raw []byte
	for _, line := range header {
		raw = append(raw, []byte(line)...)
		raw = append(raw, '\n')
	}
	raw = append(raw, '\n', 0x00)
	for _, b := range blocks {
		bits := len(b) * 8
		raw = append(raw, byte(bits>>8), byte(bits))
		raw = append(raw, b...)
	}
	return raw
}

func TestParseHeaderAndBlocks(t *testing.T) {
	raw := buildFile([]string{"# td_fpga", "# version: 1.0"}, [][]byte{{0xAA, 0xBB, 0xCC}})

	img, err := Parse(raw, false)
	if err != nil {
		t.Fatal(err)
	}
	if img.Header["tool"] != "td_fpga" {
		t.Fatalf("tool = %q, want td_fpga", img.Header["tool"])
	}
	if img.Header["version"] != "1.0" {
		t.Fatalf("version = %q, want 1.0", img.Header["version"])
	}
	want := []byte{0xAA, 0xBB, 0xCC}
	if string(img.Data) != string(want) {
		t.Fatalf("Data = %x, want %x", img.Data, want)
	}
}

func TestParseReversesBytesWhenRequested(t *testing.T) {
	raw := buildFile([]string{"# td_fpga"}, [][]byte{{0x01}})

	img, err := Parse(raw, true)
	if err != nil {
		t.Fatal(err)
	}
	if img.Data[0] != 0x80 {
		t.Fatalf("Data[0] = %#02x, want 0x80 (bit-reversed 0x01)", img.Data[0])
	}
}

func TestParseRejectsUnterminatedHeader(t *testing.T) {
	if _, err := Parse([]byte("# td_fpga"), false); err == nil {
		t.Fatal("expected a header-never-terminated error")
	}
}

func TestParseRejectsMissingZeroTerminator(t *testing.T) {
	raw := []byte("# td_fpga\n\n\x01\x00\x18\xAA\xBB\xCC")
	if _, err := Parse(raw, false); err == nil {
		t.Fatal("expected a missing 0x00 terminator error")
	}
}

func TestParseRejectsUnalignedBlockLength(t *testing.T) {
	raw := buildFile([]string{"# td_fpga"}, nil)
	raw = append(raw, 0x00, 0x07, 0xFF) // 7 bits, not byte-aligned
	if _, err := Parse(raw, false); err == nil {
		t.Fatal("expected a non-byte-aligned block length error")
	}
}
