// Package broadcast encodes rowing metrics and settings for the active BLE
// profile and notifies subscribed centrals.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/metrics"
	"github.com/user/ergo-blue/settings"
	"github.com/user/ergo-blue/wire/chunk"
)

// Characteristics are the notify targets the router writes to. Optional
// entries may be nil.
type Characteristics struct {
	Measurement    ble.Characteristic // CSC/CPS measurement or FTMS rower data
	Extended       ble.Characteristic
	Settings       ble.Characteristic
	StrokeSettings ble.Characteristic
	Battery        ble.Characteristic
	HandleForces   *chunk.Notifier
	DeltaTimes     *chunk.Notifier // nil unless delta time logging is built in
}

// Router is configured once for the profile the device booted with. The
// measurement encoder is chosen in Setup and stored; broadcasts never switch
// on the profile again.
type Router struct {
	register settings.Register
	features settings.Features

	mu      sync.Mutex
	ready   bool
	profile settings.Profile
	chars   Characteristics
	measure func(m metrics.RowingMetrics) []byte
	last    metrics.RowingMetrics
	battery int
}

// NewRouter creates a router that is not set up yet.
func NewRouter(register settings.Register, features settings.Features) *Router {
	return &Router{register: register, features: features, battery: -1}
}

// Setup selects the measurement encoder for profile.
func (r *Router) Setup(profile settings.Profile, chars Characteristics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profile = profile
	r.chars = chars
	switch profile {
	case settings.ProfileCSC:
		r.measure = EncodeCSC
	case settings.ProfileCPS:
		r.measure = EncodeCPS
	case settings.ProfileFTMS:
		r.measure = r.encodeRowerData
	default:
		panic(fmt.Sprintf("broadcast: unknown profile %v", profile))
	}
	r.ready = true
	logger.Info("BROADCAST", "router set up for %v", profile)
}

// Profile returns the profile selected in Setup
func (r *Router) Profile() settings.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeReady("Profile")
	return r.profile
}

// mustBeReady panics when a broadcast runs before Setup. Callers hold mu.
func (r *Router) mustBeReady(op string) {
	if !r.ready {
		logger.Fatal("BROADCAST", "%s called before Setup", op)
		panic("broadcast: " + op + " called before Setup")
	}
}

// characteristics returns the notify targets, panicking before Setup.
func (r *Router) characteristics(op string) Characteristics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeReady(op)
	return r.chars
}

// encodeRowerData tracks the previous sample to derive pace. Callers hold mu.
func (r *Router) encodeRowerData(m metrics.RowingMetrics) []byte {
	pace := Pace(r.last, m)
	r.last = m
	return EncodeRowerData(m, pace)
}

func notify(name string, c ble.Characteristic, value []byte) {
	if c == nil {
		return
	}
	if c.SubscriberCount() == 0 {
		return
	}
	if err := c.Notify(value); err != nil {
		logger.Trace("BROADCAST", "%s: %v", name, err)
		return
	}
	logger.Verbose("BROADCAST", "%s: % X", name, value)
}

// BroadcastMeasurement notifies the profile measurement.
func (r *Router) BroadcastMeasurement(m metrics.RowingMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeReady("BroadcastMeasurement")

	if r.chars.Measurement == nil || r.chars.Measurement.SubscriberCount() == 0 {
		// Keep the pace reference current even when nobody listens.
		r.last = m
		return
	}
	notify(r.profile.String(), r.chars.Measurement, r.measure(m))
}

// BroadcastExtendedMetrics notifies average power, phase durations and drag.
func (r *Router) BroadcastExtendedMetrics(m metrics.RowingMetrics) {
	c := r.characteristics("BroadcastExtendedMetrics").Extended
	notify("extended", c, EncodeExtended(m))
}

// BroadcastHandleForces sends the drive handle force curve in chunks.
func (r *Router) BroadcastHandleForces(forces []float64) bool {
	n := r.characteristics("BroadcastHandleForces").HandleForces
	if n == nil {
		return false
	}
	return n.Broadcast(chunk.EncodeFloat32s(forces))
}

// BroadcastDeltaTimes sends raw rotation delta times in chunks when delta
// time logging is enabled.
func (r *Router) BroadcastDeltaTimes(deltas []uint32) bool {
	n := r.characteristics("BroadcastDeltaTimes").DeltaTimes
	if n == nil || !r.features.DeltaTimeLogging || !r.register.Snapshot().DeltaTimeLogging {
		return false
	}
	return n.Broadcast(chunk.EncodeUint32s(deltas))
}

// BroadcastSettings refreshes the settings characteristic from the register.
func (r *Router) BroadcastSettings() {
	c := r.characteristics("BroadcastSettings").Settings
	if c == nil {
		return
	}
	value := settings.EncodeCharacteristic(r.register.Snapshot(), r.features)
	c.SetValue(value)
	notify("settings", c, value)
}

// BroadcastStrokeDetectionSettings refreshes the stroke detection settings
// characteristic from the register.
func (r *Router) BroadcastStrokeDetectionSettings() {
	c := r.characteristics("BroadcastStrokeDetectionSettings").StrokeSettings
	if c == nil {
		return
	}
	value := settings.EncodeStrokeDetection(r.register.Snapshot().StrokeDetection, r.features.DoublePrecision)
	c.SetValue(value)
	notify("stroke settings", c, value)
}

// BroadcastBattery updates the battery level and notifies when it changed.
func (r *Router) BroadcastBattery(level uint8) {
	if level > 100 {
		level = 100
	}

	c := r.characteristics("BroadcastBattery").Battery

	r.mu.Lock()
	changed := r.battery != int(level)
	r.battery = int(level)
	r.mu.Unlock()

	if c == nil || !changed {
		return
	}
	c.SetValue([]byte{level})
	notify("battery", c, []byte{level})
}
