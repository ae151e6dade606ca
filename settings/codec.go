package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrPayloadLength is returned when a wire payload has the wrong size.
var ErrPayloadLength = errors.New("settings: wrong payload length")

// Wire sizes of the setting payloads, without the control point opcode.
const (
	MachinePayloadSize         = 8
	SensorSignalPayloadSize    = 2
	DragFactorPayloadSize      = 7
	StrokeDetectionPayloadSize = 16
	CharacteristicSize         = 18
)

// Fixed point scales of the wire encoding.
const (
	MagicNumberScale    = 35
	SprocketRadiusScale = 1000
	GoodnessOfFitScale  = 255
	TorqueScale         = 10000
	RecoverySlopeScale  = 1000
)

// Logging state as reported on the settings characteristic.
const (
	LoggingUnsupported uint8 = 0
	LoggingDisabled    uint8 = 1
	LoggingEnabled     uint8 = 2
)

func checkLength(what string, p []byte, want int) error {
	if len(p) != want {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrPayloadLength, what, want, len(p))
	}
	return nil
}

func roundUint8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

func roundUint16(v float64) uint16 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func roundInt16(v float64) int16 {
	v = math.Round(v)
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}

// DecodeMachine parses the SetMachineSettings payload.
func DecodeMachine(p []byte) (MachineSettings, error) {
	if err := checkLength("machine settings", p, MachinePayloadSize); err != nil {
		return MachineSettings{}, err
	}
	return MachineSettings{
		FlywheelInertia:       math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])),
		MagicNumber:           float64(p[4]) / MagicNumberScale,
		SprocketRadius:        float64(binary.LittleEndian.Uint16(p[5:7])) / SprocketRadiusScale,
		ImpulsesPerRevolution: p[7],
	}, nil
}

// EncodeMachine is the inverse of DecodeMachine.
func EncodeMachine(m MachineSettings) []byte {
	p := make([]byte, MachinePayloadSize)
	putMachine(p, m)
	return p
}

func putMachine(p []byte, m MachineSettings) {
	binary.LittleEndian.PutUint32(p[0:4], math.Float32bits(m.FlywheelInertia))
	p[4] = roundUint8(m.MagicNumber * MagicNumberScale)
	binary.LittleEndian.PutUint16(p[5:7], roundUint16(m.SprocketRadius*SprocketRadiusScale))
	p[7] = m.ImpulsesPerRevolution
}

// DecodeSensorSignal parses the SetSensorSignalSettings payload.
func DecodeSensorSignal(p []byte) (SensorSignalSettings, error) {
	if err := checkLength("sensor signal settings", p, SensorSignalPayloadSize); err != nil {
		return SensorSignalSettings{}, err
	}
	return SensorSignalSettings{
		RotationDebounceTimeMin:      p[0],
		RowingStoppedThresholdPeriod: p[1],
	}, nil
}

// EncodeSensorSignal is the inverse of DecodeSensorSignal.
func EncodeSensorSignal(s SensorSignalSettings) []byte {
	return []byte{s.RotationDebounceTimeMin, s.RowingStoppedThresholdPeriod}
}

// DecodeDragFactor parses the SetDragFactorSettings payload.
func DecodeDragFactor(p []byte) (DragFactorSettings, error) {
	if err := checkLength("drag factor settings", p, DragFactorPayloadSize); err != nil {
		return DragFactorSettings{}, err
	}
	return DragFactorSettings{
		GoodnessOfFitThreshold:      float64(p[0]) / GoodnessOfFitScale,
		MaxDragFactorRecoveryPeriod: p[1],
		DragFactorLowerThreshold:    binary.LittleEndian.Uint16(p[2:4]),
		DragFactorUpperThreshold:    binary.LittleEndian.Uint16(p[4:6]),
		DragCoefficientsArrayLength: p[6],
	}, nil
}

// EncodeDragFactor is the inverse of DecodeDragFactor.
func EncodeDragFactor(d DragFactorSettings) []byte {
	p := make([]byte, DragFactorPayloadSize)
	putDragFactor(p, d)
	return p
}

func putDragFactor(p []byte, d DragFactorSettings) {
	p[0] = roundUint8(d.GoodnessOfFitThreshold * GoodnessOfFitScale)
	p[1] = d.MaxDragFactorRecoveryPeriod
	binary.LittleEndian.PutUint16(p[2:4], d.DragFactorLowerThreshold)
	binary.LittleEndian.PutUint16(p[4:6], d.DragFactorUpperThreshold)
	p[6] = d.DragCoefficientsArrayLength
}

// DecodeStrokeDetection parses the SetStrokeDetectionSettings payload. The
// precision bit is read-only and ignored.
func DecodeStrokeDetection(p []byte) (StrokeDetectionSettings, error) {
	if err := checkLength("stroke detection settings", p, StrokeDetectionPayloadSize); err != nil {
		return StrokeDetectionSettings{}, err
	}
	return StrokeDetectionSettings{
		StrokeDetectionType:          StrokeDetectionType(p[0] & 0x03),
		ImpulseDataArrayLength:       (p[0] >> 2) & 0x1F,
		MinimumPoweredTorque:         float64(int16(binary.LittleEndian.Uint16(p[1:3]))) / TorqueScale,
		MinimumDragTorque:            float64(int16(binary.LittleEndian.Uint16(p[3:5]))) / TorqueScale,
		MinimumRecoverySlopeMargin:   math.Float32frombits(binary.LittleEndian.Uint32(p[5:9])),
		MinimumRecoverySlope:         float64(int16(binary.LittleEndian.Uint16(p[9:11]))) / RecoverySlopeScale,
		MinimumRecoveryTime:          binary.LittleEndian.Uint16(p[11:13]),
		MinimumDriveTime:             binary.LittleEndian.Uint16(p[13:15]),
		DriveHandleForcesMaxCapacity: p[15],
	}, nil
}

// EncodeStrokeDetection encodes s as the stroke detection settings
// characteristic. Bit 7 of the first byte reports double precision.
func EncodeStrokeDetection(s StrokeDetectionSettings, doublePrecision bool) []byte {
	p := make([]byte, StrokeDetectionPayloadSize)
	p[0] = uint8(s.StrokeDetectionType)&0x03 | (s.ImpulseDataArrayLength&0x1F)<<2
	if doublePrecision {
		p[0] |= 0x80
	}
	binary.LittleEndian.PutUint16(p[1:3], uint16(roundInt16(s.MinimumPoweredTorque*TorqueScale)))
	binary.LittleEndian.PutUint16(p[3:5], uint16(roundInt16(s.MinimumDragTorque*TorqueScale)))
	binary.LittleEndian.PutUint32(p[5:9], math.Float32bits(s.MinimumRecoverySlopeMargin))
	binary.LittleEndian.PutUint16(p[9:11], uint16(roundInt16(s.MinimumRecoverySlope*RecoverySlopeScale)))
	binary.LittleEndian.PutUint16(p[11:13], s.MinimumRecoveryTime)
	binary.LittleEndian.PutUint16(p[13:15], s.MinimumDriveTime)
	p[15] = s.DriveHandleForcesMaxCapacity
	return p
}

func loggingState(supported, enabled bool) uint8 {
	if !supported {
		return LoggingUnsupported
	}
	if enabled {
		return LoggingEnabled
	}
	return LoggingDisabled
}

// EncodeCharacteristic encodes the settings characteristic value.
func EncodeCharacteristic(s Snapshot, f Features) []byte {
	p := make([]byte, CharacteristicSize)
	p[0] = loggingState(f.DeltaTimeLogging, s.DeltaTimeLogging) |
		loggingState(f.SdCardLogging, s.LogToSdCard)<<2 |
		(s.LogLevel&0x07)<<4
	if f.RuntimeSettings {
		p[0] |= 0x80
	}
	putMachine(p[1:9], s.Machine)
	p[9] = s.Sensor.RotationDebounceTimeMin
	p[10] = s.Sensor.RowingStoppedThresholdPeriod
	putDragFactor(p[11:18], s.DragFactor)
	return p
}
