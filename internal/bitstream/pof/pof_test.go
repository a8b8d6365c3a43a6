package pof

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func packet(flag uint16, payload []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, flag)
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func buildPOF(cfgData []byte, flashMapEntry string) []byte {
	var buf bytes.Buffer
	buf.WriteString("POF\x00")
	buf.Write(make([]byte, 4)) // unknown
	buf.Write(make([]byte, 4)) // packet count, unused by Parse
	buf.Write(packet(flagTool, []byte("quartus")))
	buf.Write(packet(flagCfgData, cfgData))
	flashMapPayload := append(make([]byte, 12), []byte(flashMapEntry)...)
	buf.Write(packet(flagFlashMap, flashMapPayload))
	return buf.Bytes()
}

func TestParseExtractsSectionFromCfgData(t *testing.T) {
	cfgData := make([]byte, 20)
	for i := range cfgData {
		cfgData[i] = byte(i)
	}
	raw := buildPOF(cfgData, "ATEST 0 40;")

	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if f.Header["tool"] != "quartus" {
		t.Fatalf("tool header = %q, want quartus", f.Header["tool"])
	}
	data, ok := f.Section("TEST")
	if !ok {
		t.Fatal("expected a TEST section")
	}
	want := cfgData[12:20]
	if string(data) != string(want) {
		t.Fatalf("section data = %x, want %x", data, want)
	}
}

func TestParseRejectsMissingMagic(t *testing.T) {
	if _, err := Parse(bytes.NewReader([]byte("NOTPOF------"))); err == nil {
		t.Fatal("expected a missing-magic error")
	}
}

func TestParseRejectsTruncatedPacket(t *testing.T) {
	raw := []byte("POF\x00")
	raw = append(raw, make([]byte, 8)...)
	raw = append(raw, 0x01, 0x00) // flag only, no size field
	if _, err := Parse(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected a truncated-packet error")
	}
}
