package advert

import (
	"bytes"
	"testing"
)

// TestADStructures_RoundTrip encodes and re-parses a typical packet
func TestADStructures_RoundTrip(t *testing.T) {
	in := []ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewCompleteLocalNameAD("OffLink Test"),
	}

	payload, err := EncodeADStructures(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	out, err := DecodeADStructures(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d structures, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Type != in[i].Type || !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("structure %d mismatch: %+v vs %+v", i, in[i], out[i])
		}
	}
	if name := GetLocalName(out); name != "OffLink Test" {
		t.Errorf("expected name %q, got %q", "OffLink Test", name)
	}
}

// TestEncodeADStructures_BudgetEnforced rejects payloads over 31 bytes
func TestEncodeADStructures_BudgetEnforced(t *testing.T) {
	_, err := EncodeADStructures([]ADStructure{
		NewCompleteLocalNameAD("this name alone is far too long for one packet"),
	})
	if err == nil {
		t.Error("oversized payload should fail to encode")
	}
}

// TestDecodeADStructures_Padding stops at a zero-length entry
func TestDecodeADStructures_Padding(t *testing.T) {
	payload, err := EncodeADStructures([]ADStructure{NewFlagsAD(FlagLEGeneralDiscoverableMode)})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	padded := append(payload, 0x00, 0x00, 0x00)

	out, err := DecodeADStructures(padded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected 1 structure before padding, got %d", len(out))
	}
}

// TestDecodeADStructures_LengthOverrun rejects a structure running past the payload
func TestDecodeADStructures_LengthOverrun(t *testing.T) {
	if _, err := DecodeADStructures([]byte{0x10, ADTypeFlags, 0x02}); err == nil {
		t.Error("overrunning length should fail to decode")
	}
}
