package metrics

import (
	"math"
	"time"
)

// handleForceSamples is the length of a synthetic force curve
const handleForceSamples = 16

// Synthetic produces a steady rowing session for simulations. Values are a
// pure function of the elapsed time.
type Synthetic struct {
	StrokeRate float64 // spm
	Power      float64 // W
	DragFactor float64
}

// DefaultSynthetic rows at 24 spm and 180 W
func DefaultSynthetic() Synthetic {
	return Synthetic{StrokeRate: 24, Power: 180, DragFactor: 110}
}

// Speed returns the boat speed in m/s for the session power, using the
// 2.8 W·s³/m³ constant ergometers share.
func (s Synthetic) Speed() float64 {
	if s.Power <= 0 {
		return 0
	}
	return math.Cbrt(s.Power / 2.8)
}

// At returns the metrics after elapsed rowing time
func (s Synthetic) At(elapsed time.Duration) RowingMetrics {
	micros := uint64(elapsed.Microseconds())
	m := RowingMetrics{
		Distance:        s.Speed() * elapsed.Seconds() * 100,
		LastRevTime:     micros,
		DragCoefficient: s.DragFactor / 1e6,
	}
	if s.StrokeRate <= 0 {
		return m
	}

	period := 60 / s.StrokeRate
	strokes := uint32(elapsed.Seconds() / period)
	m.StrokeCount = strokes
	m.LastStrokeTime = uint64(float64(strokes) * period * 1e6)
	if strokes == 0 {
		return m
	}

	m.DriveDuration = period / 3
	m.RecoveryDuration = period - m.DriveDuration
	m.AvgStrokePower = s.Power
	m.DriveHandleForces = forceCurve(s.Power, handleForceSamples)
	return m
}

// forceCurve is a half sine whose peak grows with power
func forceCurve(power float64, samples int) []float64 {
	peak := 2 * power
	curve := make([]float64, samples)
	for i := range curve {
		curve[i] = peak * math.Sin(math.Pi*float64(i+1)/float64(samples+1))
	}
	return curve
}
