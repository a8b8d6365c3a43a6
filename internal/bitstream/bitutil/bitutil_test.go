package bitutil

import "testing"

func TestReverseByte(t *testing.T) {
	cases := map[byte]byte{
		0x00: 0x00,
		0xFF: 0xFF,
		0x01: 0x80,
		0x80: 0x01,
		0xA5: 0xA5,
		0x0F: 0xF0,
	}
	for in, want := range cases {
		if got := ReverseByte(in); got != want {
			t.Errorf("ReverseByte(%#02x) = %#02x, want %#02x", in, got, want)
		}
	}
}

func TestReverseU32(t *testing.T) {
	if got := ReverseU32(0x00000001); got != 0x80000000 {
		t.Errorf("ReverseU32 = %#08x, want 0x80000000", got)
	}
}

func TestBitSetGet(t *testing.T) {
	buf := make([]byte, 2)
	BitSet(buf, 3, true)
	BitSet(buf, 12, true)
	if !BitGet(buf, 3) || !BitGet(buf, 12) {
		t.Fatal("expected bits 3 and 12 to be set")
	}
	if BitGet(buf, 0) || BitGet(buf, 4) {
		t.Fatal("unexpected bit set")
	}
	BitSet(buf, 3, false)
	if BitGet(buf, 3) {
		t.Fatal("bit 3 should be cleared")
	}
}

func TestPackBits(t *testing.T) {
	out := PackBits([]bool{true, false, true, true})
	if len(out) != 1 || out[0] != 0x0D {
		t.Fatalf("PackBits = %v, want [0x0D]", out)
	}
}
