// Package settings holds the typed, validated and persisted device configuration
// (the settings register) consumed by the control point and the broadcast router.
package settings

import "fmt"

// Profile selects the single measurement service the device exposes.
type Profile uint8

const (
	ProfileCSC  Profile = 0 // Cycling Speed and Cadence
	ProfileCPS  Profile = 1 // Cycling Power
	ProfileFTMS Profile = 2 // Fitness Machine (rower data)
)

// Valid reports whether p is one of the known profiles.
func (p Profile) Valid() bool {
	return p <= ProfileFTMS
}

func (p Profile) String() string {
	switch p {
	case ProfileCSC:
		return "CSC"
	case ProfileCPS:
		return "CPS"
	case ProfileFTMS:
		return "FTMS"
	}
	return fmt.Sprintf("Profile(%d)", uint8(p))
}

// StrokeDetectionType selects the stroke detection strategy.
type StrokeDetectionType uint8

const (
	StrokeDetectionTorque StrokeDetectionType = 0
	StrokeDetectionSlope  StrokeDetectionType = 1
	StrokeDetectionBoth   StrokeDetectionType = 2
)

// MachineSettings describe the flywheel and sensor geometry.
type MachineSettings struct {
	FlywheelInertia       float32 `cbor:"1,keyasint"` // kg*m^2
	MagicNumber           float64 `cbor:"2,keyasint"` // Concept2 magic constant
	SprocketRadius        float64 `cbor:"3,keyasint"` // cm
	ImpulsesPerRevolution uint8   `cbor:"4,keyasint"`
}

// SensorSignalSettings tune the rotation signal filter.
type SensorSignalSettings struct {
	RotationDebounceTimeMin      uint8 `cbor:"1,keyasint"` // ms
	RowingStoppedThresholdPeriod uint8 `cbor:"2,keyasint"` // s
}

// DragFactorSettings tune drag factor calculation during recovery.
type DragFactorSettings struct {
	GoodnessOfFitThreshold      float64 `cbor:"1,keyasint"` // 0..1
	MaxDragFactorRecoveryPeriod uint8   `cbor:"2,keyasint"` // s
	DragFactorLowerThreshold    uint16  `cbor:"3,keyasint"`
	DragFactorUpperThreshold    uint16  `cbor:"4,keyasint"`
	DragCoefficientsArrayLength uint8   `cbor:"5,keyasint"`
}

// StrokeDetectionSettings tune drive/recovery phase detection.
type StrokeDetectionSettings struct {
	StrokeDetectionType          StrokeDetectionType `cbor:"1,keyasint"`
	ImpulseDataArrayLength       uint8               `cbor:"2,keyasint"`
	MinimumPoweredTorque         float64             `cbor:"3,keyasint"` // Nm
	MinimumDragTorque            float64             `cbor:"4,keyasint"` // Nm
	MinimumRecoverySlopeMargin   float32             `cbor:"5,keyasint"`
	MinimumRecoverySlope         float64             `cbor:"6,keyasint"`
	MinimumRecoveryTime          uint16              `cbor:"7,keyasint"` // ms
	MinimumDriveTime             uint16              `cbor:"8,keyasint"` // ms
	DriveHandleForcesMaxCapacity uint8               `cbor:"9,keyasint"`
}

// Snapshot is a copy of every persisted setting. It is what the register
// holds on flash, so values written this session are visible even though the
// rowing algorithm only picks them up after a restart.
type Snapshot struct {
	LogLevel         uint8                   `cbor:"1,keyasint"`
	DeltaTimeLogging bool                    `cbor:"2,keyasint"`
	LogToSdCard      bool                    `cbor:"3,keyasint"`
	Profile          Profile                 `cbor:"4,keyasint"`
	Machine          MachineSettings         `cbor:"5,keyasint"`
	Sensor           SensorSignalSettings    `cbor:"6,keyasint"`
	DragFactor       DragFactorSettings      `cbor:"7,keyasint"`
	StrokeDetection  StrokeDetectionSettings `cbor:"8,keyasint"`
}

// Features are the build-time capabilities of the firmware.
type Features struct {
	DeltaTimeLogging bool
	SdCardLogging    bool
	RuntimeSettings  bool
	DoublePrecision  bool
}

// Register is the settings store. Every setter validates before persisting and
// leaves the stored value untouched on error.
type Register interface {
	Snapshot() Snapshot
	SetLogLevel(level uint8) error
	SetProfile(p Profile) error
	SetDeltaTimeLogging(enabled bool) error
	SetLogToSdCard(enabled bool) error
	SetMachineSettings(m MachineSettings) error
	SetSensorSignalSettings(s SensorSignalSettings) error
	SetDragFactorSettings(d DragFactorSettings) error
	SetStrokeDetectionSettings(s StrokeDetectionSettings) error
}

// Defaults returns the factory configuration.
func Defaults() Snapshot {
	return Snapshot{
		LogLevel: 4,
		Profile:  ProfileCPS,
		Machine: MachineSettings{
			FlywheelInertia:       0.073,
			MagicNumber:           2.8,
			SprocketRadius:        1.5,
			ImpulsesPerRevolution: 3,
		},
		Sensor: SensorSignalSettings{
			RotationDebounceTimeMin:      7,
			RowingStoppedThresholdPeriod: 7,
		},
		DragFactor: DragFactorSettings{
			GoodnessOfFitThreshold:      0.97,
			MaxDragFactorRecoveryPeriod: 6,
			DragFactorLowerThreshold:    75,
			DragFactorUpperThreshold:    250,
			DragCoefficientsArrayLength: 6,
		},
		StrokeDetection: StrokeDetectionSettings{
			StrokeDetectionType:          StrokeDetectionTorque,
			ImpulseDataArrayLength:       7,
			MinimumPoweredTorque:         0.01,
			MinimumDragTorque:            0,
			MinimumRecoverySlopeMargin:   0.035,
			MinimumRecoverySlope:         0,
			MinimumRecoveryTime:          300,
			MinimumDriveTime:             300,
			DriveHandleForcesMaxCapacity: 255,
		},
	}
}
