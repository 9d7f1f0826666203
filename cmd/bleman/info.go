package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bleman/internal/transport"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <device-address>",
	Short: "Show link details for a device",
	Long: `Connects to a device and reports link details: signal strength,
negotiated ATT payload size, and the radio PHY in each direction.

Examples:
  # Report link details
  bleman info AA:BB:CC:DD:EE:FF

  # Negotiate a larger ATT payload first
  bleman info AA:BB:CC:DD:EE:FF --mtu 517`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var infoMTU int

func init() {
	infoCmd.Flags().IntVar(&infoMTU, "mtu", 247, "ATT MTU to request before reporting")
}

func runInfo(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	progress := NewProgressPrinter(fmt.Sprintf("Inspecting %s", address), "Connecting", "Processing")
	progress.Start()
	defer progress.Stop()

	ctx := context.Background()

	p, err := dialPeer(ctx, cmd, logger, address, progress.Callback(), nil)
	if err != nil {
		return err
	}
	defer p.close()

	rssi, rssiErr := p.readRSSI(ctx)
	mtu, mtuErr := p.requestMTU(ctx, infoMTU)
	tx, rx, phyErr := p.readPHY(ctx)

	progress.Stop()

	label := color.New(color.Bold).SprintFunc()

	fmt.Printf("%s %s\n", label("Device:"), address)

	if rssiErr != nil {
		fmt.Printf("%s   %s\n", label("RSSI:"), describeLinkDetail(rssiErr))
	} else {
		fmt.Printf("%s   %s\n", label("RSSI:"), colorRSSI(rssi))
	}

	if mtuErr != nil {
		fmt.Printf("%s    %s\n", label("MTU:"), describeLinkDetail(mtuErr))
	} else {
		fmt.Printf("%s    %d bytes\n", label("MTU:"), mtu)
	}

	if phyErr != nil {
		fmt.Printf("%s    %s\n", label("PHY:"), describeLinkDetail(phyErr))
	} else {
		fmt.Printf("%s    TX %s / RX %s\n", label("PHY:"), tx, rx)
	}

	return nil
}

// describeLinkDetail renders a per-field failure without failing the
// whole report. Older controllers reject PHY and MTU requests routinely.
func describeLinkDetail(err error) string {
	if errors.Is(err, transport.ErrUnsupported) {
		return "unsupported"
	}
	return fmt.Sprintf("error: %s", err)
}
