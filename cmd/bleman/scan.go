package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleman/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

This command will scan for BLE devices and display information about
discovered devices, including their names, addresses, RSSI values, and
advertised services.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json, yaml)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("invalid format '%s': must be table, json, or yaml", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := &scanner.Options{
		Duration:  scanDuration,
		Services:  scanServices,
		AllowList: scanAllowList,
		BlockList: scanBlockList,
	}
	// Watch mode without an explicit duration scans until interrupted.
	if scanWatch && !cmd.Flags().Changed("duration") {
		opts.Duration = 0
	}

	s, err := scanner.New(transportFactory(), logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	defer s.Close()

	if scanWatch {
		return runWatchScan(s, opts, logger)
	}
	return runSingleScan(s, opts, logger)
}

func runSingleScan(s *scanner.Scanner, opts *scanner.Options, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}
	progress.Stop()

	return displayDevices(devices)
}

func runWatchScan(s *scanner.Scanner, opts *scanner.Options, logger *logrus.Logger) error {
	// Scan until interrupted by the user.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	devices := make(map[string]scanner.Device)

	// Run the blocking scan in a goroutine; the event feed below keeps
	// the local table live between reprints.
	type scanOutcome struct {
		final map[string]scanner.Device
		err   error
	}
	scanDone := make(chan scanOutcome, 1)
	go func() {
		final, err := s.Scan(ctx, opts, nil)
		scanDone <- scanOutcome{final: final, err: err}
	}()

	finish := func(err error) error {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		clearScreen()
		return displayDevices(devices)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(nil)

		case out := <-scanDone:
			for addr, d := range out.final {
				devices[addr] = d
			}
			// A real scan failure ends watch mode; cancellation and
			// timeout fall through to a final reprint.
			if out.err != nil && !errors.Is(out.err, context.Canceled) && !errors.Is(out.err, context.DeadlineExceeded) {
				logger.WithError(out.err).Error("scan failed")
				return finish(out.err)
			}
			return finish(nil)

		case <-ticker.C:
			clearScreen()
			if err := displayDevices(devices); err != nil {
				return err
			}

		case ev := <-s.Events():
			devices[ev.Device.Addr] = ev.Device
		}
	}
}

// deviceRow is the presentation form of one discovered device.
type deviceRow struct {
	Address          string    `json:"address" yaml:"address"`
	Name             string    `json:"name,omitempty" yaml:"name,omitempty"`
	RSSI             int       `json:"rssi" yaml:"rssi"`
	Connectable      bool      `json:"connectable" yaml:"connectable"`
	Services         []string  `json:"services,omitempty" yaml:"services,omitempty"`
	ManufacturerData string    `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
	FirstSeen        time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen         time.Time `json:"last_seen" yaml:"last_seen"`
	Advertisements   int       `json:"advertisements" yaml:"advertisements"`
}

func toRows(devices map[string]scanner.Device) []deviceRow {
	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, deviceRow{
			Address:          d.Addr,
			Name:             d.Name,
			RSSI:             d.RSSI,
			Connectable:      d.Connectable,
			Services:         d.Services,
			ManufacturerData: hex.EncodeToString(d.ManufacturerData),
			FirstSeen:        d.FirstSeen,
			LastSeen:         d.LastSeen,
			Advertisements:   d.Advertisements,
		})
	}
	// Strongest signal first; address breaks ties for stable output.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RSSI != rows[j].RSSI {
			return rows[i].RSSI > rows[j].RSSI
		}
		return rows[i].Address < rows[j].Address
	})
	return rows
}

func displayDevices(devices map[string]scanner.Device) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	rows := toRows(devices)

	switch scanFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		out, err := yaml.Marshal(rows)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	default:
		return displayDeviceTable(rows)
	}
}

func displayDeviceTable(rows []deviceRow) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(r.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := time.Since(r.LastSeen).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s ago\n",
			name, r.Address, colorRSSI(r.RSSI), services, lastSeen)
	}

	return w.Flush()
}

// colorRSSI renders signal strength green/yellow/red by range.
func colorRSSI(rssi int) string {
	text := fmt.Sprintf("%d dBm", rssi)
	switch {
	case rssi >= -60:
		return color.GreenString(text)
	case rssi >= -80:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}
