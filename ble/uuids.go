package ble

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

var sigBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a Bluetooth SIG assigned number onto the base UUID.
func UUID16(short uint16) uuid.UUID {
	u := sigBase
	binary.BigEndian.PutUint16(u[2:4], short)
	return u
}

// Short returns the 16-bit assigned number of a SIG UUID.
func Short(u uuid.UUID) (uint16, bool) {
	probe := u
	probe[2], probe[3] = 0, 0
	if probe != sigBase {
		return 0, false
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// WireBytes returns the ATT representation of u: 2 bytes for SIG UUIDs,
// otherwise the 16 bytes reversed into little-endian order.
func WireBytes(u uuid.UUID) []byte {
	if short, ok := Short(u); ok {
		return []byte{byte(short), byte(short >> 8)}
	}
	out := make([]byte, 16)
	for i := range u {
		out[15-i] = u[i]
	}
	return out
}

// ParseWireBytes is the inverse of WireBytes
func ParseWireBytes(b []byte) (uuid.UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(uint16(b[0]) | uint16(b[1])<<8), nil
	case 16:
		var u uuid.UUID
		for i := range u {
			u[i] = b[15-i]
		}
		return u, nil
	}
	return uuid.Nil, fmt.Errorf("ble: invalid uuid length %d", len(b))
}

// Services
var (
	DeviceInfoServiceUUID      = UUID16(0x180A)
	BatteryServiceUUID         = UUID16(0x180F)
	CyclingSpeedCadenceUUID    = UUID16(0x1816)
	CyclingPowerServiceUUID    = UUID16(0x1818)
	FitnessMachineServiceUUID  = UUID16(0x1826)
	SettingsServiceUUID        = uuid.MustParse("56892de1-7068-4b5a-acaa-473d97b02206")
	ExtendedMetricsServiceUUID = uuid.MustParse("a72a5762-803b-421d-a759-f0314153da97")
	OTAServiceUUID             = uuid.MustParse("ed249319-32c3-4e9f-83d7-7bb5aa5d5d4b")
)

// Characteristics
var (
	ManufacturerNameUUID  = UUID16(0x2A29)
	ModelNumberUUID       = UUID16(0x2A24)
	SerialNumberUUID      = UUID16(0x2A25)
	FirmwareRevisionUUID  = UUID16(0x2A26)
	BatteryLevelUUID      = UUID16(0x2A19)
	SensorLocationUUID    = UUID16(0x2A5D)
	CSCMeasurementUUID    = UUID16(0x2A5B)
	CSCFeatureUUID        = UUID16(0x2A5C)
	SCControlPointUUID    = UUID16(0x2A55)
	CPMeasurementUUID     = UUID16(0x2A63)
	CPFeatureUUID         = UUID16(0x2A65)
	CPControlPointUUID    = UUID16(0x2A66)
	FitnessMachineFeature = UUID16(0x2ACC)
	RowerDataUUID         = UUID16(0x2AD1)
	FTMSControlPointUUID  = UUID16(0x2AD9)

	SettingsUUID             = uuid.MustParse("54e15528-73b5-4905-9481-89e5184a3364")
	StrokeSettingsUUID       = uuid.MustParse("5d9c04e2-a1a7-4f5e-93f3-8f3e32c4a01c")
	SettingsControlPointUUID = uuid.MustParse("51ba0a00-8853-477c-bf43-6a09c36aac9f")
	ExtendedMetricsUUID      = uuid.MustParse("808a0d51-efae-4f0c-b2e0-48bc180d65c3")
	HandleForcesUUID         = uuid.MustParse("3d9c2760-cf91-41ee-87e9-fd99d5f129a4")
	DeltaTimesUUID           = uuid.MustParse("ae5d11ea-0d4e-4a0b-9a6f-1a0a3c9d0c3a")
	OTARxUUID                = uuid.MustParse("fbac1540-698b-40ff-a34e-f39e5b78d1cf")
	OTATxUUID                = uuid.MustParse("b31126a7-a29b-450a-b0c2-c0516f46b699")
)
