package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/ergo-blue/device"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and device information",
	Run: func(cmd *cobra.Command, args []string) {
		info := device.DefaultInfo(serialNumber())
		fmt.Printf("ergo-blue %s\n", device.Version)
		fmt.Printf("Manufacturer: %s\n", info.Manufacturer)
		fmt.Printf("Model:        %s\n", info.Model)
		fmt.Printf("Serial:       %s\n", info.Serial)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
