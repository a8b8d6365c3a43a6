package efinixhex

import (
	"fmt"
	"strings"
	"testing"
)

func encodeHeaderLines(s string) []string {
	var lines []string
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, "0A")
		} else {
			lines = append(lines, fmt.Sprintf("%02X", s[i]))
		}
	}
	return lines
}

func encodeDataLines(b []byte) []string {
	var lines []string
	for _, v := range b {
		lines = append(lines, fmt.Sprintf("%02X", v))
	}
	return lines
}

func TestParseExtractsHeaderAndData(t *testing.T) {
	header := "Mode: JTAG\nWidth: 1\nDevice: Ti60\nPADDED_BITS\n"
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	lines := append(encodeHeaderLines(header), encodeDataLines(payload)...)
	raw := strings.Join(lines, "\n")

	img, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if img.Header["mode"] != "JTAG" {
		t.Fatalf("mode = %q, want JTAG", img.Header["mode"])
	}
	if img.Header["width"] != "1" {
		t.Fatalf("width = %q, want 1", img.Header["width"])
	}
	if img.Header["device"] != "Ti60" {
		t.Fatalf("device = %q, want Ti60", img.Header["device"])
	}

	want := append([]byte(header), payload...)
	if string(img.Data) != string(want) {
		t.Fatalf("Data length = %d, want %d", len(img.Data), len(want))
	}
}

func TestParseRejectsMalformedHexByte(t *testing.T) {
	if _, err := Parse(strings.NewReader("ZZ\n")); err == nil {
		t.Fatal("expected a malformed-hex-byte error")
	}
}
