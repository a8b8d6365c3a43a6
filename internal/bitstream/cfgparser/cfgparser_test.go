package cfgparser

import (
	"strings"
	"testing"
)

func TestParseStripsCommentsAndWhitespace(t *testing.T) {
	input := "  de // header byte\nad\n\nbe\t\r\nef // trailer\n"
	img, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if string(img.Data) != string(want) {
		t.Fatalf("Data = %x, want %x", img.Data, want)
	}
	if img.BitLen != len(want)*8 {
		t.Fatalf("BitLen = %d, want %d", img.BitLen, len(want)*8)
	}
}

func TestParseRejectsMalformedHex(t *testing.T) {
	if _, err := Parse(strings.NewReader("zz\n")); err == nil {
		t.Fatal("expected a malformed-hex error")
	}
}

func TestParseEmptyInput(t *testing.T) {
	img, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Data) != 0 {
		t.Fatalf("expected no bytes for empty input, got %x", img.Data)
	}
}
