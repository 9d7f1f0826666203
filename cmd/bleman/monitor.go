package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleman/central"
	"github.com/srg/bleman/internal/stream"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address> <handle>",
	Short: "Subscribe to notifications from an attribute",
	Long: `Subscribes to an attribute and prints incoming notifications.

Each notification prints as one "address handle hex-payload" line.
With --raw the payloads stream to stdout as bytes instead, for
peripherals that tunnel serial data over a notifying attribute.

Examples:
  # Print heart-rate notifications as hex lines
  bleman monitor AA:BB:CC:DD:EE:FF 0x000D

  # Pipe a UART-over-BLE stream into a file
  bleman monitor AA:BB:CC:DD:EE:FF 0x0021 --raw > dump.bin

  # Drain buffered notifications once per second
  bleman monitor AA:BB:CC:DD:EE:FF 0x000D --interval 1s`,
	Args: cobra.ExactArgs(2),
	RunE: runMonitor,
}

var (
	monitorRaw      bool
	monitorInterval time.Duration
	monitorBuffer   uint32
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Stream payload bytes to stdout instead of hex lines")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 250*time.Millisecond, "Drain interval for hex-line output")
	monitorCmd.Flags().Uint32Var(&monitorBuffer, "buffer", 4096, "Buffer capacity: records, or bytes with --raw")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

	handle, err := parseHandle(args[1])
	if err != nil {
		return err
	}
	if monitorBuffer == 0 {
		return fmt.Errorf("buffer capacity must be > 0")
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Monitoring 0x%04X on %s", handle, address), "Connecting", "Subscribed")
	progress.Start()
	defer progress.Stop()

	if monitorRaw {
		return monitorStream(ctx, cmd, logger, address, handle, progress)
	}
	return monitorHexLines(ctx, cmd, logger, address, handle, progress)
}

// monitorStream pipes notification payloads for one handle to stdout as
// raw bytes, buffered through a stream.Reader so a slow stdout never
// stalls the engine.
func monitorStream(ctx context.Context, cmd *cobra.Command, logger *logrus.Logger,
	address string, handle uint16, progress *ProgressPrinter) error {

	reader := stream.NewReader(int(monitorBuffer))

	notify := func(h uint16, value []byte) {
		if h == handle {
			reader.Feed(value)
		}
	}

	p, err := dialPeer(ctx, cmd, logger, address, progress.Callback(), notify)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.setNotify(ctx, handle, true); err != nil {
		return fmt.Errorf("failed to subscribe to 0x%04X: %w", handle, err)
	}

	progress.Stop()
	fmt.Fprintf(os.Stderr, "Subscribed to 0x%04X. Press Ctrl+C to stop...\n", handle)

	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(os.Stdout, reader)
		copyDone <- copyErr
	}()

	waitErr := p.waitDisconnect(ctx)

	_ = reader.Close()
	if err := <-copyDone; err != nil {
		return err
	}
	if dropped := reader.Dropped(); dropped > 0 {
		fmt.Fprintf(os.Stderr, "Warning: dropped %d bytes (consumer too slow)\n", dropped)
	}
	return waitErr
}

// monitorHexLines captures notifications for one handle into a bounded
// collector and drains it on a ticker, printing one hex line per record.
func monitorHexLines(ctx context.Context, cmd *cobra.Command, logger *logrus.Logger,
	address string, handle uint16, progress *ProgressPrinter) error {

	collector, err := central.NewNotificationCollector(monitorBuffer, func(err error) {
		logger.WithError(err).Error("notification collector fault")
	})
	if err != nil {
		return err
	}

	notify := func(h uint16, value []byte) {
		if h == handle {
			collector.Capture(address, h, value)
		}
	}

	p, err := dialPeer(ctx, cmd, logger, address, progress.Callback(), notify)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.setNotify(ctx, handle, true); err != nil {
		return fmt.Errorf("failed to subscribe to 0x%04X: %w", handle, err)
	}

	progress.Stop()
	fmt.Fprintf(os.Stderr, "Subscribed to 0x%04X. Press Ctrl+C to stop...\n", handle)

	flush := func() error {
		lines, err := central.Drain(collector, central.HexLinesConsumerFunc())
		if err != nil {
			return err
		}
		if lines != "" {
			fmt.Print(lines)
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- p.waitDisconnect(ctx) }()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case waitErr := <-done:
			// Final drain so nothing captured before the disconnect is lost
			if err := flush(); err != nil {
				return err
			}
			if lost := collector.Metrics().GetOverwritten(); lost > 0 {
				fmt.Fprintf(os.Stderr, "Warning: dropped %d notifications (consumer too slow)\n", lost)
			}
			return waitErr
		}
	}
}
