package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/ergo-blue/flash"
)

var slotSize uint32

var flashInfoCmd = &cobra.Command{
	Use:   "flash-info [image]",
	Short: "Show size, magic byte and MD5 of a firmware image",
	Long: `Inspect a firmware image the way the update session checks it: the size
sent with Begin, the magic byte of the first package and the MD5 digest sent
with End.

Without an argument the last image received by the simulator is inspected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFlashInfo,
}

func init() {
	flashInfoCmd.Flags().Uint32Var(&slotSize, "slot-size", flash.DefaultSlotSize, "Update slot size in bytes")
	rootCmd.AddCommand(flashInfoCmd)
}

func runFlashInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.FirmwarePath
	if len(args) == 1 {
		path = args[0]
	}

	info, err := flash.Inspect(path)
	if err != nil {
		return err
	}

	fmt.Printf("Image:  %s\n", info.Path)
	fmt.Printf("Size:   %d bytes (slot %d, fits: %v)\n", info.Size, slotSize, info.Fits(slotSize))
	fmt.Printf("Magic:  0x%02X (valid: %v)\n", info.Magic, info.Valid())
	fmt.Printf("MD5:    %s\n", info.MD5)
	if !info.Valid() || !info.Fits(slotSize) {
		return fmt.Errorf("image would be rejected by the update session")
	}
	return nil
}
