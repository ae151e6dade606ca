// Package device holds the runtime configuration of the peripheral, its device
// information and the restart hook.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/user/ergo-blue/settings"
	"github.com/user/ergo-blue/util"
)

const (
	DefaultName              = "ErgoBlue"
	DefaultBroadcastInterval = time.Second
	DefaultRestartDelay      = 1500 * time.Millisecond
	DefaultBaudRate          = 115200
	DefaultBridgeAddr        = "127.0.0.1:8765"
	// DefaultMTU is assumed for stacks that do not report the negotiated MTU.
	DefaultMTU = 247
)

// Config is the process configuration. Values come from DefaultConfig, then
// ERGO_BLUE_* environment variables, then command line flags.
type Config struct {
	Name              string
	DataDir           string
	SettingsPath      string
	FirmwarePath      string
	LogLevel          string // overrides the persisted log level when set
	Features          settings.Features
	BroadcastInterval time.Duration
	RestartDelay      time.Duration
	SerialPort        string // impulse source; empty runs the synthetic flywheel
	BaudRate          int
	BridgeAddr        string
	MTU               uint16
}

// DefaultConfig returns the configuration of a stock host build.
func DefaultConfig() Config {
	dir := util.GetDataDir()
	return Config{
		Name:         DefaultName,
		DataDir:      dir,
		SettingsPath: util.GetSettingsPath(),
		FirmwarePath: filepath.Join(dir, "firmware", "update.bin"),
		Features: settings.Features{
			DeltaTimeLogging: true,
			SdCardLogging:    false,
			RuntimeSettings:  true,
			DoublePrecision:  false,
		},
		BroadcastInterval: DefaultBroadcastInterval,
		RestartDelay:      DefaultRestartDelay,
		BaudRate:          DefaultBaudRate,
		BridgeAddr:        DefaultBridgeAddr,
		MTU:               DefaultMTU,
	}
}

// ApplyEnv overrides cfg from the environment. Unset variables leave the
// field alone; malformed values are an error.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ERGO_BLUE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("ERGO_BLUE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ERGO_BLUE_SERIAL"); v != "" {
		c.SerialPort = v
	}
	if v := os.Getenv("ERGO_BLUE_BRIDGE_ADDR"); v != "" {
		c.BridgeAddr = v
	}
	if v := os.Getenv("ERGO_BLUE_BAUD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("ERGO_BLUE_BAUD: invalid baud rate %q", v)
		}
		c.BaudRate = n
	}
	if v := os.Getenv("ERGO_BLUE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("ERGO_BLUE_INTERVAL: invalid duration %q", v)
		}
		c.BroadcastInterval = d
	}
	if v := os.Getenv("ERGO_BLUE_MTU"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil || n < 23 {
			return fmt.Errorf("ERGO_BLUE_MTU: invalid mtu %q", v)
		}
		c.MTU = uint16(n)
	}
	if v := os.Getenv("ERGO_BLUE_DELTA_TIME_LOGGING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ERGO_BLUE_DELTA_TIME_LOGGING: %w", err)
		}
		c.Features.DeltaTimeLogging = b
	}
	if v := os.Getenv("ERGO_BLUE_SD_CARD_LOGGING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ERGO_BLUE_SD_CARD_LOGGING: %w", err)
		}
		c.Features.SdCardLogging = b
	}
	return nil
}
