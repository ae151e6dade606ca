package settings

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid marks a setting that is well-formed but semantically rejected.
var ErrInvalid = errors.New("settings: invalid value")

const (
	MaxLogLevel = 6
	// MaxRecoverySamples bounds the number of rotation impulses buffered while
	// fitting the drag factor over one recovery.
	MaxRecoverySamples        = 1000
	MaxImpulsesPerRevolution  = 12
	MaxDragCoefficientsLength = 32
	MinImpulseDataArrayLength = 3
	MaxImpulseDataArrayFloat  = 18
	MaxImpulseDataArrayDouble = 15
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateLogLevel checks the device log level range.
func ValidateLogLevel(level uint8) error {
	if level > MaxLogLevel {
		return invalid("log level %d out of range", level)
	}
	return nil
}

// ValidateMachine checks machine geometry.
func ValidateMachine(m MachineSettings) error {
	inertia := float64(m.FlywheelInertia)
	if math.IsNaN(inertia) || math.IsInf(inertia, 0) || inertia <= 0 {
		return invalid("flywheel inertia %v", m.FlywheelInertia)
	}
	if m.MagicNumber <= 0 {
		return invalid("magic number %v", m.MagicNumber)
	}
	if m.SprocketRadius <= 0 {
		return invalid("sprocket radius %v", m.SprocketRadius)
	}
	if m.ImpulsesPerRevolution == 0 || m.ImpulsesPerRevolution > MaxImpulsesPerRevolution {
		return invalid("impulses per revolution %d", m.ImpulsesPerRevolution)
	}
	return nil
}

// recoverySamples is the worst-case impulse count of one drag recovery window.
func recoverySamples(maxRecoveryPeriod, debounceMin uint8) int {
	return int(maxRecoveryPeriod) * 1000 / int(debounceMin)
}

// ValidateSensorSignal checks the signal filter settings against the drag factor
// window they will be combined with.
func ValidateSensorSignal(s SensorSignalSettings, drag DragFactorSettings) error {
	if s.RotationDebounceTimeMin == 0 {
		return invalid("rotation debounce time must be positive")
	}
	if s.RowingStoppedThresholdPeriod == 0 {
		return invalid("rowing stopped threshold must be positive")
	}
	if n := recoverySamples(drag.MaxDragFactorRecoveryPeriod, s.RotationDebounceTimeMin); n > MaxRecoverySamples {
		return invalid("debounce %d ms allows %d recovery samples (max %d)", s.RotationDebounceTimeMin, n, MaxRecoverySamples)
	}
	return nil
}

// ValidateDragFactor checks drag factor settings. sensor must be the pending
// (persisted) sensor settings, which may differ from those the running filter uses.
func ValidateDragFactor(d DragFactorSettings, sensor SensorSignalSettings) error {
	if d.GoodnessOfFitThreshold < 0 || d.GoodnessOfFitThreshold > 1 {
		return invalid("goodness of fit threshold %v", d.GoodnessOfFitThreshold)
	}
	if d.MaxDragFactorRecoveryPeriod == 0 {
		return invalid("max drag factor recovery period must be positive")
	}
	if d.DragFactorLowerThreshold >= d.DragFactorUpperThreshold {
		return invalid("drag factor thresholds %d..%d", d.DragFactorLowerThreshold, d.DragFactorUpperThreshold)
	}
	if d.DragCoefficientsArrayLength == 0 || d.DragCoefficientsArrayLength > MaxDragCoefficientsLength {
		return invalid("drag coefficients array length %d", d.DragCoefficientsArrayLength)
	}
	if sensor.RotationDebounceTimeMin == 0 {
		return invalid("stored rotation debounce time is zero")
	}
	if n := recoverySamples(d.MaxDragFactorRecoveryPeriod, sensor.RotationDebounceTimeMin); n > MaxRecoverySamples {
		return invalid("recovery period %d s allows %d samples (max %d)", d.MaxDragFactorRecoveryPeriod, n, MaxRecoverySamples)
	}
	return nil
}

// MaxImpulseDataArrayLength depends on the floating point precision of the build.
func MaxImpulseDataArrayLength(doublePrecision bool) uint8 {
	if doublePrecision {
		return MaxImpulseDataArrayDouble
	}
	return MaxImpulseDataArrayFloat
}

// ValidateStrokeDetection checks stroke detection settings.
func ValidateStrokeDetection(s StrokeDetectionSettings, doublePrecision bool) error {
	if s.StrokeDetectionType > StrokeDetectionBoth {
		return invalid("stroke detection type %d", s.StrokeDetectionType)
	}
	if s.ImpulseDataArrayLength < MinImpulseDataArrayLength || s.ImpulseDataArrayLength > MaxImpulseDataArrayLength(doublePrecision) {
		return invalid("impulse data array length %d", s.ImpulseDataArrayLength)
	}
	margin := float64(s.MinimumRecoverySlopeMargin)
	if math.IsNaN(margin) || math.IsInf(margin, 0) || margin < 0 {
		return invalid("minimum recovery slope margin %v", s.MinimumRecoverySlopeMargin)
	}
	if s.DriveHandleForcesMaxCapacity == 0 {
		return invalid("drive handle forces capacity must be positive")
	}
	return nil
}
