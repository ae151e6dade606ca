// Package cmd is the ergo-blue command line.
package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/logger"
)

var (
	// Logging
	logLevel string

	// Device flags
	deviceName string
	dataDir    string
	mtu        uint16

	// Bridge and impulse source flags
	bridgeAddr string
	portName   string
	baudRate   int
	interval   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ergo-blue",
	Short: "Rowing ergometer BLE peripheral",
	Long: `ergo-blue - BLE peripheral engine of a rowing ergometer monitor.

Exposes rowing metrics as Cycling Speed and Cadence, Cycling Power or Fitness
Machine telemetry, serves the settings control point and receives firmware
updates over the air.

On a host the peripheral runs on a simulated BLE stack that centrals reach
through a websocket bridge:
  ergo-blue simulate [--serial /dev/ttyUSB0]
  ergo-blue central --url ws://127.0.0.1:8765/att

Configuration comes from defaults, then ERGO_BLUE_* environment variables,
then flags.`,
	Version:       device.Version,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			logger.SetLevel(logger.ParseLevel(logLevel))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (SILENT, FATAL, ERROR, WARN, INFO, TRACE, VERBOSE)")
	rootCmd.PersistentFlags().StringVar(&deviceName, "name", device.DefaultName, "Advertised device name")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default $ERGO_BLUE_DIR or ~/.ergo-blue-data)")
	rootCmd.PersistentFlags().Uint16Var(&mtu, "mtu", device.DefaultMTU, "Largest ATT MTU the peripheral accepts")
	rootCmd.PersistentFlags().StringVar(&bridgeAddr, "bridge", device.DefaultBridgeAddr, "Websocket bridge address")
	rootCmd.PersistentFlags().StringVarP(&portName, "serial", "p", "", "Serial port of the impulse counter (synthetic flywheel when empty)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", device.DefaultBaudRate, "Baud rate of the impulse counter")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", device.DefaultBroadcastInterval, "Metrics broadcast interval")
}

// loadConfig merges defaults, environment and the flags that were set
func loadConfig(cmd *cobra.Command) (device.Config, error) {
	cfg := device.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("name") {
		cfg.Name = deviceName
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
		cfg.SettingsPath = filepath.Join(dataDir, "settings.cbor")
		cfg.FirmwarePath = filepath.Join(dataDir, "firmware", "update.bin")
	}
	if flags.Changed("mtu") {
		cfg.MTU = mtu
	}
	if flags.Changed("bridge") {
		cfg.BridgeAddr = bridgeAddr
	}
	if flags.Changed("serial") {
		cfg.SerialPort = portName
	}
	if flags.Changed("baud") {
		cfg.BaudRate = baudRate
	}
	if flags.Changed("interval") {
		cfg.BroadcastInterval = interval
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
