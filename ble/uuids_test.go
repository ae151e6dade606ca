package ble

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestUUID16RoundTrip(t *testing.T) {
	u := UUID16(0x2A5B)
	if u.String() != "00002a5b-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("UUID16(0x2A5B) = %s", u)
	}

	short, ok := Short(u)
	if !ok || short != 0x2A5B {
		t.Errorf("Short() = 0x%04X, %v", short, ok)
	}
}

func TestShortRejectsCustomUUID(t *testing.T) {
	if _, ok := Short(SettingsServiceUUID); ok {
		t.Error("custom UUID reported as SIG UUID")
	}
}

func TestWireBytes(t *testing.T) {
	if got := WireBytes(UUID16(0x1816)); !bytes.Equal(got, []byte{0x16, 0x18}) {
		t.Errorf("WireBytes(0x1816) = % X", got)
	}

	u := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	got := WireBytes(u)
	if len(got) != 16 || got[0] != 0xFF || got[15] != 0x00 {
		t.Errorf("WireBytes(custom) = % X", got)
	}
}

func TestParseWireBytes(t *testing.T) {
	for _, u := range []uuid.UUID{CSCMeasurementUUID, OTARxUUID} {
		got, err := ParseWireBytes(WireBytes(u))
		if err != nil {
			t.Fatalf("ParseWireBytes(%s): %v", u, err)
		}
		if got != u {
			t.Errorf("ParseWireBytes(WireBytes(%s)) = %s", u, got)
		}
	}

	if _, err := ParseWireBytes([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte uuid")
	}
}
