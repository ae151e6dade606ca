package broadcast

import (
	"encoding/binary"
	"math"

	"github.com/user/ergo-blue/metrics"
	"github.com/user/ergo-blue/settings"
)

// Measurement sizes on the wire.
const (
	CSCMeasurementSize  = 11
	CPSMeasurementSize  = 14
	RowerDataSize       = 12
	ExtendedMetricsSize = 7
)

// Flags of the fixed measurement layouts.
const (
	// CSCFlags: wheel and crank revolution data present.
	CSCFlags uint8 = 0x03
	// CPSFlags: wheel and crank revolution data present.
	CPSFlags uint16 = 0x0030
	// RowerDataFlags: stroke fields present (bit 0 clear), total distance,
	// instantaneous pace and instantaneous power present.
	RowerDataFlags uint16 = 0x002C
)

// Feature values of the read-only feature characteristics.
const (
	CSCFeature  uint16 = 0x0003
	CPSFeature  uint32 = 0x0000000C
	FTMSFeature uint32 = 0x00004026 // cadence, total distance, pace, power
)

// eventTime converts a µs timestamp to a wrapping event time in 1/resolution s.
func eventTime(micros uint64, resolution float64) uint16 {
	return uint16(uint64(math.Round(float64(micros) * resolution / 1e6)))
}

func clampUint16(v float64) uint16 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampInt16(v float64) int16 {
	v = math.Round(v)
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(v)
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}

// wheelRevolutions reports distance as 1 m wheel revolutions.
func wheelRevolutions(m metrics.RowingMetrics) uint32 {
	return uint32(uint64(math.Round(m.Distance / 100)))
}

// EncodeCSC encodes a CSC Measurement: the flywheel is the wheel and strokes
// are crank revolutions.
func EncodeCSC(m metrics.RowingMetrics) []byte {
	p := make([]byte, CSCMeasurementSize)
	p[0] = CSCFlags
	binary.LittleEndian.PutUint32(p[1:5], wheelRevolutions(m))
	binary.LittleEndian.PutUint16(p[5:7], eventTime(m.LastRevTime, 1024))
	binary.LittleEndian.PutUint16(p[7:9], uint16(m.StrokeCount))
	binary.LittleEndian.PutUint16(p[9:11], eventTime(m.LastStrokeTime, 1024))
	return p
}

// EncodeCPS encodes a Cycling Power Measurement.
func EncodeCPS(m metrics.RowingMetrics) []byte {
	p := make([]byte, CPSMeasurementSize)
	binary.LittleEndian.PutUint16(p[0:2], CPSFlags)
	binary.LittleEndian.PutUint16(p[2:4], uint16(clampInt16(m.AvgStrokePower)))
	binary.LittleEndian.PutUint32(p[4:8], wheelRevolutions(m))
	binary.LittleEndian.PutUint16(p[8:10], eventTime(m.LastRevTime, 2048))
	binary.LittleEndian.PutUint16(p[10:12], uint16(m.StrokeCount))
	binary.LittleEndian.PutUint16(p[12:14], eventTime(m.LastStrokeTime, 1024))
	return p
}

// EncodeRowerData encodes FTMS Rower Data. pace is s/500 m.
func EncodeRowerData(m metrics.RowingMetrics, pace float64) []byte {
	p := make([]byte, RowerDataSize)
	binary.LittleEndian.PutUint16(p[0:2], RowerDataFlags)
	p[2] = clampUint8(m.StrokeRate() * 2)
	binary.LittleEndian.PutUint16(p[3:5], uint16(m.StrokeCount))
	meters := uint32(uint64(math.Round(m.Distance / 100)))
	p[5] = byte(meters)
	p[6] = byte(meters >> 8)
	p[7] = byte(meters >> 16)
	binary.LittleEndian.PutUint16(p[8:10], clampUint16(pace))
	binary.LittleEndian.PutUint16(p[10:12], uint16(clampInt16(m.AvgStrokePower)))
	return p
}

// EncodeExtended encodes the extended metrics characteristic.
func EncodeExtended(m metrics.RowingMetrics) []byte {
	p := make([]byte, ExtendedMetricsSize)
	binary.LittleEndian.PutUint16(p[0:2], clampUint16(m.AvgStrokePower))
	binary.LittleEndian.PutUint16(p[2:4], clampUint16(m.DriveDuration*4096))
	binary.LittleEndian.PutUint16(p[4:6], clampUint16(m.RecoveryDuration*4096))
	p[6] = clampUint8(m.DragFactor())
	return p
}

// Pace returns s/500 m between two samples, or 0 when no distance was covered.
func Pace(prev, cur metrics.RowingMetrics) float64 {
	meters := (cur.Distance - prev.Distance) / 100
	if meters <= 0 || cur.LastRevTime <= prev.LastRevTime {
		return 0
	}
	seconds := float64(cur.LastRevTime-prev.LastRevTime) / 1e6
	return seconds / meters * 500
}

// FeatureValue returns the value of the profile's read-only feature
// characteristic.
func FeatureValue(profile settings.Profile) []byte {
	switch profile {
	case settings.ProfileCSC:
		return binary.LittleEndian.AppendUint16(nil, CSCFeature)
	case settings.ProfileCPS:
		return binary.LittleEndian.AppendUint32(nil, CPSFeature)
	}
	// Fitness machine features followed by target setting features.
	p := binary.LittleEndian.AppendUint32(nil, FTMSFeature)
	return binary.LittleEndian.AppendUint32(p, 0)
}
