//go:build tinygo

// Firmware entry point for TinyGo boards with a BLE radio.
package main

import (
	"fmt"
	"machine"
	"time"

	"github.com/user/ergo-blue/broadcast"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/flash"
	"github.com/user/ergo-blue/hw"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/metrics"
	"github.com/user/ergo-blue/ota"
	"github.com/user/ergo-blue/peripheral"
	"github.com/user/ergo-blue/rotation"
	"github.com/user/ergo-blue/settings"
	"tinygo.org/x/bluetooth"
)

// sensorPin is the reed or hall sensor input
const sensorPin = machine.Pin(4)

var features = settings.Features{
	DeltaTimeLogging: true,
	RuntimeSettings:  true,
}

func main() {
	time.Sleep(time.Second)

	store := settings.NewMemoryStore(settings.Defaults(), features)
	snap := store.Snapshot()
	logger.SetLevel(logger.LogLevel(snap.LogLevel))

	stack, err := hw.New(bluetooth.DefaultAdapter, device.DefaultMTU)
	if err != nil {
		logger.Fatal("MAIN", "%v", err)
		return
	}

	capture := rotation.NewCapture(snap.Sensor, rotation.DefaultCaptureSize)
	interrupt := rotation.NewPinInterrupt(sensorPin, capture.Impulse)
	interrupt.Enable()

	restarter := device.NewTimerRestarter(machine.CPUReset)
	router := broadcast.NewRouter(store, features)
	composer := peripheral.NewComposer(stack, device.DefaultName, peripheral.Parts{
		Register:     store,
		Features:     features,
		Info:         device.DefaultInfo(fmt.Sprintf("%X", machine.DeviceID())),
		Router:       router,
		Session:      ota.NewSession(flash.NewBlockTarget(machine.Flash), interrupt, restarter, device.DefaultRestartDelay),
		Restarter:    restarter,
		RestartDelay: device.DefaultRestartDelay,
	})
	if _, err := composer.Compose(snap.Profile); err != nil {
		logger.Fatal("MAIN", "%v", err)
		return
	}

	// TODO: feed the stroke detection output instead of the synthetic session
	// once it is ported to this board.
	session := metrics.DefaultSynthetic()
	start := time.Now()
	var lastStrokes uint32
	for range time.Tick(device.DefaultBroadcastInterval) {
		m := session.At(time.Since(start))
		router.BroadcastMeasurement(m)
		router.BroadcastExtendedMetrics(m)
		if m.StrokeCount != lastStrokes {
			lastStrokes = m.StrokeCount
			router.BroadcastHandleForces(m.DriveHandleForces)
		}
		if deltas := capture.Drain(); len(deltas) > 0 {
			router.BroadcastDeltaTimes(deltas)
		}
	}
}
