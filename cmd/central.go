package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/bridge"
	"github.com/user/ergo-blue/wire/chunk"
)

var (
	centralURL string
	centralMTU uint16
	controlHex string
)

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Connect to a simulated peripheral and print its notifications",
	Long: `Attach to the websocket bridge of "ergo-blue simulate" as a BLE central,
discover the attribute table, subscribe to every notifying characteristic and
print what arrives.

With --control the given hex bytes are written to the settings control point
once subscribed, e.g. --control 1105 sets the log level to TRACE.`,
	RunE: runCentral,
}

func init() {
	centralCmd.Flags().StringVarP(&centralURL, "url", "u", "", "Bridge URL (default ws://<bridge>/att)")
	centralCmd.Flags().Uint16Var(&centralMTU, "central-mtu", 185, "MTU requested in the exchange")
	centralCmd.Flags().StringVar(&controlHex, "control", "", "Hex command for the settings control point")
	rootCmd.AddCommand(centralCmd)
}

var characteristicNames = map[uuid.UUID]string{
	ble.CSCMeasurementUUID:       "CSC Measurement",
	ble.CPMeasurementUUID:        "CP Measurement",
	ble.RowerDataUUID:            "Rower Data",
	ble.SCControlPointUUID:       "SC Control Point",
	ble.CPControlPointUUID:       "CP Control Point",
	ble.FTMSControlPointUUID:     "FTMS Control Point",
	ble.BatteryLevelUUID:         "Battery Level",
	ble.SettingsUUID:             "Settings",
	ble.StrokeSettingsUUID:       "Stroke Settings",
	ble.SettingsControlPointUUID: "Settings Control Point",
	ble.ExtendedMetricsUUID:      "Extended Metrics",
	ble.HandleForcesUUID:         "Handle Forces",
	ble.DeltaTimesUUID:           "Delta Times",
	ble.OTATxUUID:                "OTA Tx",
}

func characteristicName(u uuid.UUID) string {
	if name, ok := characteristicNames[u]; ok {
		return name
	}
	if short, ok := ble.Short(u); ok {
		return fmt.Sprintf("0x%04X", short)
	}
	return u.String()
}

func runCentral(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	url := centralURL
	if url == "" {
		url = "ws://" + cfg.BridgeAddr + bridge.Path
	}

	var control []byte
	if controlHex != "" {
		if control, err = hex.DecodeString(controlHex); err != nil {
			return fmt.Errorf("--control: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, err := bridge.Dial(dialCtx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	agreed, err := conn.ExchangeMTU(dialCtx, centralMTU)
	if err != nil {
		return err
	}
	chars, services, err := conn.Discover(dialCtx)
	if err != nil {
		return err
	}

	fmt.Printf("Connected to %s (MTU %d)\n", url, agreed)
	for _, svc := range services {
		fmt.Printf("Service %s [0x%04X-0x%04X]\n", svc.UUID, svc.Start, svc.End)
	}

	var notifying []bridge.Characteristic
	for _, ch := range chars {
		if ch.CCCD != 0 {
			notifying = append(notifying, ch)
		}
	}
	sort.Slice(notifying, func(i, j int) bool { return notifying[i].Value < notifying[j].Value })

	for _, ch := range notifying {
		name := characteristicName(ch.UUID)
		indicate := !ch.Properties.Has(ble.PropNotify)
		chunked := ch.UUID == ble.HandleForcesUUID || ch.UUID == ble.DeltaTimesUUID
		if err := conn.Subscribe(dialCtx, ch, indicate, printer(name, chunked)); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		fmt.Printf("Subscribed to %s (handle 0x%04X)\n", name, ch.Value)
	}

	if control != nil {
		cp, ok := chars[ble.SettingsControlPointUUID]
		if !ok {
			return fmt.Errorf("peripheral has no settings control point")
		}
		if err := conn.Write(dialCtx, cp.Value, control); err != nil {
			return fmt.Errorf("control point write: %w", err)
		}
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	select {
	case <-ctx.Done():
	case <-conn.Done():
		fmt.Println("Connection closed")
	}
	return nil
}

func printer(name string, chunked bool) func(value []byte) {
	return func(value []byte) {
		ts := time.Now().Format("15:04:05.000")
		if chunked {
			if f, err := chunk.ParseFrame(value); err == nil {
				fmt.Printf("[%s] %s chunk %d/%d: % X\n", ts, name, f.Index, f.Total, f.Data)
				return
			}
		}
		fmt.Printf("[%s] %s: % X\n", ts, name, value)
	}
}
