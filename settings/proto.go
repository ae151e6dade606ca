package settings

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto renders the snapshot as a protobuf Struct for JSON logging.
func (s Snapshot) Proto() *structpb.Struct {
	fields := map[string]interface{}{
		"logLevel":         int(s.LogLevel),
		"deltaTimeLogging": s.DeltaTimeLogging,
		"logToSdCard":      s.LogToSdCard,
		"profile":          s.Profile.String(),
		"machine": map[string]interface{}{
			"flywheelInertia":       float64(s.Machine.FlywheelInertia),
			"magicNumber":           s.Machine.MagicNumber,
			"sprocketRadius":        s.Machine.SprocketRadius,
			"impulsesPerRevolution": int(s.Machine.ImpulsesPerRevolution),
		},
		"sensor": map[string]interface{}{
			"rotationDebounceTimeMin":      int(s.Sensor.RotationDebounceTimeMin),
			"rowingStoppedThresholdPeriod": int(s.Sensor.RowingStoppedThresholdPeriod),
		},
		"dragFactor": map[string]interface{}{
			"goodnessOfFitThreshold":      s.DragFactor.GoodnessOfFitThreshold,
			"maxDragFactorRecoveryPeriod": int(s.DragFactor.MaxDragFactorRecoveryPeriod),
			"lowerThreshold":              int(s.DragFactor.DragFactorLowerThreshold),
			"upperThreshold":              int(s.DragFactor.DragFactorUpperThreshold),
			"coefficientsArrayLength":     int(s.DragFactor.DragCoefficientsArrayLength),
		},
		"strokeDetection": map[string]interface{}{
			"type":                         int(s.StrokeDetection.StrokeDetectionType),
			"impulseDataArrayLength":       int(s.StrokeDetection.ImpulseDataArrayLength),
			"minimumPoweredTorque":         s.StrokeDetection.MinimumPoweredTorque,
			"minimumDragTorque":            s.StrokeDetection.MinimumDragTorque,
			"minimumRecoverySlopeMargin":   float64(s.StrokeDetection.MinimumRecoverySlopeMargin),
			"minimumRecoverySlope":         s.StrokeDetection.MinimumRecoverySlope,
			"minimumRecoveryTime":          int(s.StrokeDetection.MinimumRecoveryTime),
			"minimumDriveTime":             int(s.StrokeDetection.MinimumDriveTime),
			"driveHandleForcesMaxCapacity": int(s.StrokeDetection.DriveHandleForcesMaxCapacity),
		},
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		// every value above is a structpb-supported kind
		return &structpb.Struct{}
	}
	return st
}
