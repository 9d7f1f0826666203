package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <handle>",
	Short: "Read an attribute value",
	Long: `Reads an attribute value by handle and decodes it.

The value prints as hex by default; --format decodes it as an integer,
an IEEE-11073 SFLOAT/FLOAT, or a UTF-8 string instead.

Examples:
  # Read handle 0x000A as hex
  bleman read AA:BB:CC:DD:EE:FF 0x000A

  # Battery level as an unsigned byte
  bleman read AA:BB:CC:DD:EE:FF 0x000A --format u8

  # Temperature as a 16-bit medical SFLOAT
  bleman read AA:BB:CC:DD:EE:FF 0x0012 --format sfloat

  # Big-endian signed 16-bit value
  bleman read AA:BB:CC:DD:EE:FF 0x0012 --format s16 --order be

  # Device name as a string
  bleman read AA:BB:CC:DD:EE:FF 0x0003 --format string`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readFormat string
	readOrder  string
)

func init() {
	readCmd.Flags().StringVar(&readFormat, "format", "hex", "Value format: "+formatNamesForHelp())
	readCmd.Flags().StringVar(&readOrder, "order", "le", "Byte order for multi-byte formats (le, be)")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]

	handle, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	order, err := parseByteOrder(readOrder)
	if err != nil {
		return err
	}
	if _, ok := valueFormats[readFormat]; !ok && readFormat != "hex" && readFormat != "string" {
		return fmt.Errorf("invalid format %q: use %s", readFormat, formatNamesForHelp())
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Reading 0x%04X from %s", handle, address), "Connecting", "Processing")
	progress.Start()
	defer progress.Stop()

	ctx := context.Background()

	p, err := dialPeer(ctx, cmd, logger, address, progress.Callback(), nil)
	if err != nil {
		return err
	}
	defer p.close()

	value, err := p.read(ctx, handle)
	progress.Stop()
	if err != nil {
		return fmt.Errorf("failed to read 0x%04X: %w", handle, err)
	}

	out, err := decodeValue(value, readFormat, order)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
