// Package advert encodes the OffLink discovery payload: a 2-byte vendor tag
// followed by a 16-byte big-endian stable peer identifier, packed as
// manufacturer-specific data next to the flags structure. The device name is
// deliberately left out of the packet to stay inside the 31-byte budget.
package advert

import (
	"github.com/brokemediaio-a11y/OffLink/identity"
)

// VendorTag is the application-reserved marker ("OL" big-endian) that
// identifies an OffLink identifier block.
const VendorTag uint16 = 0x4F4C

// IdentifierBlockLen is vendor tag (2) + stable ID (16).
const IdentifierBlockLen = 18

// Encode packs a 128-bit stable ID into a full advertising payload:
// flags structure + manufacturer-specific identifier block. The result always
// fits the 31-byte budget (3 + 2 + 18 = 23 bytes).
func Encode(id identity.StableID) []byte {
	payload, err := EncodeADStructures([]ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewManufacturerDataAD(VendorTag, id[:]),
	})
	if err != nil {
		// Fixed-size input, cannot exceed the budget
		panic(err)
	}
	return payload
}

// Decode extracts the stable ID from an advertising payload. It never fails
// hard: malformed payloads, foreign vendor tags, and wrong-size identifier
// blocks all yield ok=false.
func Decode(payload []byte) (identity.StableID, bool) {
	structures, err := DecodeADStructures(payload)
	if err != nil {
		return identity.StableID{}, false
	}

	tag, data, found := GetManufacturerData(structures)
	if !found || tag != VendorTag || len(data) != 16 {
		return identity.StableID{}, false
	}

	var id identity.StableID
	copy(id[:], data)
	return id, true
}
