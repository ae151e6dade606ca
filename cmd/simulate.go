package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/user/ergo-blue/bridge"
	"github.com/user/ergo-blue/broadcast"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/flash"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/metrics"
	"github.com/user/ergo-blue/ota"
	"github.com/user/ergo-blue/peripheral"
	"github.com/user/ergo-blue/rotation"
	"github.com/user/ergo-blue/settings"
	"github.com/user/ergo-blue/wire"
	"github.com/user/ergo-blue/wire/debug"
)

var (
	packetLog       bool
	impulseInterval time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the peripheral on the simulated BLE stack",
	Long: `Compose the services of the persisted profile on the simulated BLE stack and
serve them over the websocket bridge.

Rowing metrics come from a synthetic session. Impulses from the serial
counter (or a synthetic flywheel) feed the delta time characteristic. A
restart requested over the control point or after a firmware update
recomposes the peripheral with the persisted settings.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().BoolVar(&packetLog, "packet-log", false, "Record every ATT PDU to <data-dir>/att_packets.jsonl")
	simulateCmd.Flags().DurationVar(&impulseInterval, "impulse-interval", 20*time.Millisecond, "Synthetic flywheel impulse interval")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("ergo-blue %s - simulated peripheral\n", device.Version)
	fmt.Printf("Bridge: ws://%s%s\n", cfg.BridgeAddr, bridge.Path)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	for boot := 1; ; boot++ {
		restart, err := runBoot(ctx, cfg, boot)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		logger.Info("SIM", "restarting")
	}
}

// runBoot runs the device from power-on until ctx ends or a restart is due
func runBoot(parent context.Context, cfg device.Config, boot int) (bool, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, err := settings.OpenFileStore(cfg.SettingsPath, settings.Defaults(), cfg.Features)
	if err != nil {
		return false, err
	}
	snap := store.Snapshot()
	if cfg.LogLevel != "" {
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	} else {
		logger.SetLevel(logger.LogLevel(snap.LogLevel))
	}
	logger.TraceJSON("SIM", "settings", snap.Proto())

	var restartDue atomic.Bool
	restarter := device.NewTimerRestarter(func() {
		restartDue.Store(true)
		cancel()
	})

	capture := rotation.NewCapture(snap.Sensor, rotation.DefaultCaptureSize)
	interrupt := rotation.NewSoftInterrupt(capture.Impulse)
	interrupt.Enable()

	target := flash.NewFileTarget(cfg.FirmwarePath, flash.DefaultSlotSize)
	router := broadcast.NewRouter(store, cfg.Features)
	stack := wire.NewPeripheral(cfg.MTU)

	if packetLog {
		log, err := debug.OpenPacketLog(cfg.DataDir)
		if err != nil {
			return false, err
		}
		defer log.Close()
		stack.SetPacketLog(log)
	}

	composer := peripheral.NewComposer(stack, cfg.Name, peripheral.Parts{
		Register:     store,
		Features:     cfg.Features,
		Info:         device.DefaultInfo(serialNumber()),
		Router:       router,
		Session:      ota.NewSession(target, interrupt, restarter, cfg.RestartDelay),
		Restarter:    restarter,
		RestartDelay: cfg.RestartDelay,
	})
	comp, err := composer.Compose(snap.Profile)
	if err != nil {
		return false, err
	}
	logger.Info("SIM", "boot %d: %s", boot, comp.Name)

	errs := make(chan error, 2)
	run := func(fn func() error) {
		err := fn()
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel()
		}
		errs <- err
	}
	go run(func() error { return bridge.ListenAndServe(ctx, cfg.BridgeAddr, stack) })
	go run(func() error { return runImpulses(ctx, cfg, interrupt) })

	runBroadcasts(ctx, cfg.BroadcastInterval, router, capture)
	comp.HandleForces.Wait()
	if comp.DeltaTimes != nil {
		comp.DeltaTimes.Wait()
	}

	cancel()
	for i := 0; i < cap(errs); i++ {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}
	return restartDue.Load(), nil
}

func runImpulses(ctx context.Context, cfg device.Config, interrupt *rotation.SoftInterrupt) error {
	fire := func(timestamp uint64) { interrupt.Fire(timestamp) }

	if cfg.SerialPort == "" {
		return rotation.RunSynthetic(ctx, impulseInterval, fire)
	}
	src, err := rotation.OpenSerialSource(cfg.SerialPort, cfg.BaudRate)
	if err != nil {
		return err
	}
	defer src.Close()
	logger.Info("SIM", "impulses from %s @ %d baud", cfg.SerialPort, cfg.BaudRate)
	return src.Run(ctx, fire)
}

// runBroadcasts is the periodic metrics loop of the device
func runBroadcasts(ctx context.Context, every time.Duration, router *broadcast.Router, capture *rotation.Capture) {
	session := metrics.DefaultSynthetic()
	start := time.Now()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastStrokes uint32
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			m := session.At(elapsed)

			router.BroadcastMeasurement(m)
			router.BroadcastExtendedMetrics(m)
			if m.StrokeCount != lastStrokes {
				lastStrokes = m.StrokeCount
				router.BroadcastHandleForces(m.DriveHandleForces)
			}
			if deltas := capture.Drain(); len(deltas) > 0 {
				router.BroadcastDeltaTimes(deltas)
			}
			router.BroadcastBattery(batteryLevel(elapsed))
		}
	}
}

// batteryLevel drains one percent every ten minutes
func batteryLevel(elapsed time.Duration) uint8 {
	used := int(elapsed / (10 * time.Minute))
	if used >= peripheral.InitialBatteryLevel {
		return 0
	}
	return uint8(peripheral.InitialBatteryLevel - used)
}

// serialNumber is stable per host
func serialNumber() string {
	host, err := os.Hostname()
	if err != nil {
		host = "ergo-blue"
	}
	id := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host))
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
