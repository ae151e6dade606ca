// Package advertising lays out the legacy advertising and scan response
// payloads of the peripheral.
package advertising

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
)

// AD types used by the peripheral
const (
	ADTypeFlags                        = 0x01
	ADTypeIncomplete16BitServiceUUIDs  = 0x02
	ADTypeComplete16BitServiceUUIDs    = 0x03
	ADTypeIncomplete128BitServiceUUIDs = 0x06
	ADTypeComplete128BitServiceUUIDs   = 0x07
	ADTypeShortenedLocalName           = 0x08
	ADTypeCompleteLocalName            = 0x09
)

// LE General Discoverable, BR/EDR not supported
const FlagsGeneralDiscoverable = 0x06

// MaxDataLen is the legacy advertising data limit
const MaxDataLen = 31

var (
	ErrEmptyName = errors.New("advertising: device name is empty")
	ErrTooLong   = errors.New("advertising: data exceeds 31 bytes")
)

// Structure is one length-type-value record
type Structure struct {
	Type byte
	Data []byte
}

// Payload is what the peripheral puts on air
type Payload struct {
	Name         string
	Advertising  []byte
	ScanResponse []byte
}

// Build lays out the advertising data (flags, 16-bit services, local name)
// and the scan response (128-bit services). Records that do not fit are cut
// and marked incomplete; a long name is shortened.
func Build(name string, services []uuid.UUID) (Payload, error) {
	if name == "" {
		return Payload{}, ErrEmptyName
	}

	var short, long []uuid.UUID
	for _, s := range services {
		if _, ok := ble.Short(s); ok {
			short = append(short, s)
		} else {
			long = append(long, s)
		}
	}

	adv := []Structure{{Type: ADTypeFlags, Data: []byte{FlagsGeneralDiscoverable}}}
	used := 3

	if len(short) > 0 {
		rec, size := uuidList(short, 2, MaxDataLen-used, ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs)
		adv = append(adv, rec)
		used += size
	}

	room := MaxDataLen - used - 2
	if room > 0 {
		if len(name) <= room {
			adv = append(adv, Structure{Type: ADTypeCompleteLocalName, Data: []byte(name)})
		} else {
			adv = append(adv, Structure{Type: ADTypeShortenedLocalName, Data: []byte(name[:room])})
		}
	}

	var scan []Structure
	if len(long) > 0 {
		rec, _ := uuidList(long, 16, MaxDataLen, ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs)
		scan = append(scan, rec)
	}

	advData, err := Encode(adv)
	if err != nil {
		return Payload{}, err
	}
	scanData, err := Encode(scan)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Name: name, Advertising: advData, ScanResponse: scanData}, nil
}

// uuidList packs as many UUIDs of width bytes as fit in room
func uuidList(list []uuid.UUID, width, room int, complete, incomplete byte) (Structure, int) {
	fit := (room - 2) / width
	rec := Structure{Type: complete}
	if fit < len(list) {
		rec.Type = incomplete
		list = list[:fit]
	}
	for _, u := range list {
		rec.Data = append(rec.Data, ble.WireBytes(u)...)
	}
	return rec, 2 + len(rec.Data)
}

// Encode serializes records into one payload
func Encode(records []Structure) ([]byte, error) {
	var buf []byte
	for _, r := range records {
		buf = append(buf, byte(1+len(r.Data)), r.Type)
		buf = append(buf, r.Data...)
	}
	if len(buf) > MaxDataLen {
		return nil, fmt.Errorf("%w: %d", ErrTooLong, len(buf))
	}
	return buf, nil
}

// Decode parses a payload. A zero length byte ends the payload.
func Decode(data []byte) ([]Structure, error) {
	var records []Structure
	for i := 0; i < len(data); {
		n := int(data[i])
		if n == 0 {
			break
		}
		if i+1+n > len(data) {
			return nil, fmt.Errorf("advertising: record at %d overruns payload (len %d)", i, n)
		}
		records = append(records, Structure{
			Type: data[i+1],
			Data: append([]byte{}, data[i+2:i+1+n]...),
		})
		i += 1 + n
	}
	return records, nil
}

// LocalName returns the complete or shortened name in records
func LocalName(records []Structure) string {
	for _, r := range records {
		if r.Type == ADTypeCompleteLocalName || r.Type == ADTypeShortenedLocalName {
			return string(r.Data)
		}
	}
	return ""
}

// Services returns every service UUID listed in records
func Services(records []Structure) []uuid.UUID {
	var out []uuid.UUID
	for _, r := range records {
		width := 0
		switch r.Type {
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			width = 2
		case ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs:
			width = 16
		default:
			continue
		}
		for i := 0; i+width <= len(r.Data); i += width {
			if u, err := ble.ParseWireBytes(r.Data[i : i+width]); err == nil {
				out = append(out, u)
			}
		}
	}
	return out
}
