package advert

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/brokemediaio-a11y/OffLink/identity"
)

// TestCodec_RoundTrip verifies decode(encode(x)) == x for random identifiers
func TestCodec_RoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := uuid.New()
		payload := Encode(id)

		if len(payload) > MaxAdvertisingDataLen {
			t.Fatalf("payload is %d bytes, exceeds %d byte budget", len(payload), MaxAdvertisingDataLen)
		}

		decoded, ok := Decode(payload)
		if !ok {
			t.Fatalf("failed to decode payload for %s", id)
		}
		if decoded != id {
			t.Errorf("round trip mismatch: encoded %s, decoded %s", id, decoded)
		}
	}
}

// TestCodec_KnownIdentifier verifies the fixed big-endian layout
func TestCodec_KnownIdentifier(t *testing.T) {
	id, err := identity.ParseStable("00112233-4455-6677-8899-aabbccddeeff")
	if err != nil {
		t.Fatalf("failed to parse identifier: %v", err)
	}

	payload := Encode(id)
	decoded, ok := Decode(payload)
	if !ok {
		t.Fatal("failed to decode payload")
	}
	if decoded != id {
		t.Errorf("expected %s, got %s", id, decoded)
	}

	structures, err := DecodeADStructures(payload)
	if err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	tag, data, found := GetManufacturerData(structures)
	if !found {
		t.Fatal("payload has no manufacturer data structure")
	}
	if tag != VendorTag {
		t.Errorf("vendor tag is %04x, expected %04x", tag, VendorTag)
	}
	if len(data)+2 != IdentifierBlockLen {
		t.Fatalf("identifier block is %d bytes, expected %d", len(data)+2, IdentifierBlockLen)
	}
	want := []byte{
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("identifier bytes mismatch:\n  got  %x\n  want %x", data, want)
	}
}

// TestCodec_GarbageNeverFails feeds random byte sequences of every small length
func TestCodec_GarbageNeverFails(t *testing.T) {
	for length := 0; length < 64; length++ {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			t.Fatalf("rand failed: %v", err)
		}
		if _, ok := Decode(buf); ok {
			// astronomically unlikely to be a valid packet carrying our tag
			t.Errorf("random %d-byte payload decoded successfully", length)
		}
	}
}

// TestCodec_WrongVendorTag rejects well-formed packets carrying another tag
func TestCodec_WrongVendorTag(t *testing.T) {
	id := uuid.New()
	payload, err := EncodeADStructures([]ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewManufacturerDataAD(0xFFFE, id[:]),
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, ok := Decode(payload); ok {
		t.Error("payload with foreign vendor tag should not decode")
	}
}

// TestCodec_TruncatedBlock rejects an identifier block cut short
func TestCodec_TruncatedBlock(t *testing.T) {
	id := uuid.New()
	payload, err := EncodeADStructures([]ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode),
		NewManufacturerDataAD(VendorTag, id[:12]),
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, ok := Decode(payload); ok {
		t.Error("truncated identifier block should not decode")
	}
}

// TestCodec_NoNameInPayload verifies the payload spends no budget on a name
func TestCodec_NoNameInPayload(t *testing.T) {
	payload := Encode(uuid.New())
	structures, err := DecodeADStructures(payload)
	if err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if name := GetLocalName(structures); name != "" {
		t.Errorf("payload carries name %q, expected none", name)
	}
}
