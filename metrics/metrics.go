// Package metrics defines the value produced by the stroke detection algorithm
// once per detected stroke or rotation update.
package metrics

// RowingMetrics is a point-in-time view of the rowing session.
type RowingMetrics struct {
	Distance          float64   // cm, cumulative
	LastRevTime       uint64    // µs timestamp of the last flywheel revolution
	LastStrokeTime    uint64    // µs timestamp of the last completed stroke
	StrokeCount       uint32    // cumulative
	DriveDuration     float64   // s, last drive
	RecoveryDuration  float64   // s, last recovery
	AvgStrokePower    float64   // W, last stroke
	DragCoefficient   float64   // raw coefficient; drag factor = coefficient * 1e6
	DriveHandleForces []float64 // N, sampled once per impulse during the last drive
}

// StrokeRate returns strokes per minute derived from the last stroke's phases.
func (m RowingMetrics) StrokeRate() float64 {
	period := m.DriveDuration + m.RecoveryDuration
	if period <= 0 {
		return 0
	}
	return 60 / period
}

// DragFactor returns the drag factor as displayed by rowing monitors.
func (m RowingMetrics) DragFactor() float64 {
	return m.DragCoefficient * 1e6
}
