package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <handle> [data]",
	Short: "Write an attribute value",
	Long: `Writes data to an attribute by handle.

Data comes from the positional argument (raw string, or hex with --hex)
or from --value, which encodes a number per --format and --order.

Examples:
  # Write a string
  bleman write AA:BB:CC:DD:EE:FF 0x000E "high"

  # Write raw hex bytes
  bleman write AA:BB:CC:DD:EE:FF 0x000E 01ff --hex

  # Write 300 as an unsigned little-endian 16-bit value
  bleman write AA:BB:CC:DD:EE:FF 0x000E --value 300 --format u16

  # Write -40 as a signed byte
  bleman write AA:BB:CC:DD:EE:FF 0x000E --value -40 --format s8

  # Write without response (no ACK)
  bleman write AA:BB:CC:DD:EE:FF 0x000E 01 --hex --no-response`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runWrite,
}

var (
	writeHex        bool
	writeValue      string
	writeFormat     string
	writeOrder      string
	writeNoResponse bool
)

func init() {
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse positional data as hex (e.g. 'FF01'); raw bytes by default")
	writeCmd.Flags().StringVar(&writeValue, "value", "", "Numeric value to encode instead of positional data")
	writeCmd.Flags().StringVar(&writeFormat, "format", "u8", "Encoding for --value: "+formatNamesForHelp())
	writeCmd.Flags().StringVar(&writeOrder, "order", "le", "Byte order for multi-byte formats (le, be)")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response (no ACK); default waits for ACK")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]

	handle, err := parseHandle(args[1])
	if err != nil {
		return err
	}

	data, err := writePayload(args)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Writing %d bytes to 0x%04X on %s", len(data), handle, address), "Connecting", "Processing")
	progress.Start()
	defer progress.Stop()

	ctx := context.Background()

	p, err := dialPeer(ctx, cmd, logger, address, progress.Callback(), nil)
	if err != nil {
		return err
	}
	defer p.close()

	err = p.write(ctx, handle, data, !writeNoResponse)
	progress.Stop()
	if err != nil {
		return fmt.Errorf("failed to write 0x%04X: %w", handle, err)
	}

	fmt.Println("Write successful")
	return nil
}

// writePayload resolves the bytes to write from the positional argument or --value
func writePayload(args []string) ([]byte, error) {
	if writeValue != "" {
		if len(args) >= 3 {
			return nil, fmt.Errorf("provide data as a positional argument or via --value, not both")
		}
		order, err := parseByteOrder(writeOrder)
		if err != nil {
			return nil, err
		}
		data, err := encodeValue(writeValue, writeFormat, order)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		return data, nil
	}

	if len(args) < 3 {
		return nil, fmt.Errorf("data required: provide as third argument or via --value")
	}
	if writeHex {
		data, err := parseHexData(args[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse data: %w", err)
		}
		return data, nil
	}
	return []byte(args[2]), nil
}
