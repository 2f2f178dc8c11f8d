package advert

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AD Types (EIR/AD format) used by OffLink advertisements
const (
	ADTypeFlags                    = 0x01
	ADTypeCompleteLocalName        = 0x09
	ADTypeShortenedLocalName       = 0x08
	ADTypeManufacturerSpecificData = 0xFF
)

// Advertising flags
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// MaxAdvertisingDataLen is the strict total-payload budget of a standard
// discovery packet.
const MaxAdvertisingDataLen = 31

// ADStructure is one TLV structure in advertising data.
// Wire format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes];
// Length counts the Type byte but not itself.
type ADStructure struct {
	Type byte
	Data []byte
}

// EncodeADStructures packs AD structures into a single advertising payload,
// enforcing the 31-byte budget.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte

	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure too long: %d bytes (max 255)", length)
		}
		buf = append(buf, byte(length))
		buf = append(buf, s.Type)
		buf = append(buf, s.Data...)
	}

	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("total advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(buf))
	}

	return buf, nil
}

// DecodeADStructures parses advertising data into individual AD structures.
// Zero-length entries terminate the payload (padding).
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0

	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			break
		}

		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adType := data[offset]
		offset++
		adData := make([]byte, length-1)
		copy(adData, data[offset:offset+length-1])
		offset += length - 1

		structures = append(structures, ADStructure{Type: adType, Data: adData})
	}

	if len(structures) == 0 && len(data) > 0 {
		return nil, errors.New("no AD structures in payload")
	}
	return structures, nil
}

// NewFlagsAD creates a flags AD structure
func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

// NewCompleteLocalNameAD creates a complete local name AD structure
func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
}

// NewManufacturerDataAD creates a manufacturer-specific data AD structure.
// The vendor tag is big-endian, matching the identifier block layout.
func NewManufacturerDataAD(vendorTag uint16, data []byte) ADStructure {
	payload := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(payload[0:2], vendorTag)
	copy(payload[2:], data)
	return ADStructure{Type: ADTypeManufacturerSpecificData, Data: payload}
}

// GetLocalName extracts the local name (complete or shortened) from AD structures
func GetLocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// GetManufacturerData extracts manufacturer-specific data from AD structures
func GetManufacturerData(structures []ADStructure) (vendorTag uint16, data []byte, found bool) {
	for _, s := range structures {
		if s.Type == ADTypeManufacturerSpecificData && len(s.Data) >= 2 {
			return binary.BigEndian.Uint16(s.Data[0:2]), s.Data[2:], true
		}
	}
	return 0, nil, false
}
