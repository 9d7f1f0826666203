// Package goble binds the transport boundary to the go-ble/ble stack.
// One transport owns one ble.Device; connections are dialed per address
// and their characteristics indexed by attribute value handle. Every
// submitted operation reports its outcome through the event sink from a
// goroutine of its own, so no call blocks the engine loop on radio I/O.
//
// Capabilities go-ble does not expose (PHY selection, connection
// priority, driven security upgrades, the server role) fail submission
// with transport.ErrUnsupported.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/examples/lib/dev"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/groutine"
	"github.com/srg/bleman/internal/transport"
)

const (
	// DefaultBLEWriteChunkSize is the maximum number of bytes to write in a single BLE operation.
	// BLE 4.0/4.1 spec defines ATT_MTU of 23 bytes (20 bytes payload after ATT header overhead).
	// Keeping chunks at 20 bytes ensures compatibility with all BLE versions.
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	// This prevents overwhelming the BLE peripheral's receive buffer and ensures reliable delivery.
	DefaultBLEWriteDelay = 10 * time.Millisecond

	// GAP Device Name characteristic. Read once after a connect; the
	// GAP name is more authoritative than the advertised one.
	gapDeviceNameUUID = "2a00"

	// defaultATTMTU sizes write chunks until an MTU exchange succeeds.
	defaultATTMTU = 23
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return dev.DefaultDevice()
}

// Config tunes the binding. Zero fields take the tagged defaults.
type Config struct {
	// ConnectTimeout bounds one direct dial. Auto dials run on a
	// background context until the device comes into range.
	ConnectTimeout time.Duration `default:"30s"`

	// AllowDuplicates forwards repeat advertisements from devices
	// already seen during the current scan. Off by default; the scanner
	// turns it on to keep RSSI readings live.
	AllowDuplicates bool
}

// New returns a transport.Factory backed by go-ble. The ble.Device is
// created eagerly so an unusable adapter fails Start instead of the
// first scan or dial.
func New(cfg Config) transport.Factory {
	return func(sink transport.Events, logger *logrus.Logger) (transport.Transport, error) {
		defaults.SetDefaults(&cfg)
		if logger == nil {
			logger = logrus.New()
		}

		dev, err := DeviceFactory()
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
		}
		ble.SetDefaultDevice(dev)

		return &bleTransport{
			cfg:     cfg,
			sink:    sink,
			logger:  logger,
			dev:     dev,
			links:   make(map[string]*link),
			adapter: transport.AdapterOn,
		}, nil
	}
}

// bleTransport implements transport.Transport over one ble.Device.
type bleTransport struct {
	cfg    Config
	sink   transport.Events
	logger *logrus.Logger

	dev ble.Device

	mu         sync.Mutex
	links      map[string]*link
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	adapter    transport.AdapterState
	closed     bool
}

// StartScan launches the discovery goroutine. Results stream into the
// sink until StopScan or a scan error.
func (t *bleTransport) StartScan() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	if t.scanCancel != nil {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.scanCancel = cancel
	t.scanDone = done
	t.mu.Unlock()

	t.logger.Debug("Starting BLE scan")
	groutine.Go(ctx, "goble-scan", func(scanCtx context.Context) {
		defer close(done)
		err := t.dev.Scan(scanCtx, t.cfg.AllowDuplicates, func(adv ble.Advertisement) {
			t.sink.ScanResult(newAdvertisement(adv))
		})

		t.mu.Lock()
		if t.scanDone == done {
			t.scanCancel = nil
			t.scanDone = nil
		}
		t.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			err = NormalizeError(err)
			t.logger.WithField("error", err).Error("BLE scan failed")
			t.noteAdapterFrom(err)
			t.sink.ScanFailed(err)
		}
	})
	return nil
}

// StopScan cancels the scan and waits for the discovery goroutine to
// wind down so a follow-up StartScan never races the radio.
func (t *bleTransport) StopScan() error {
	t.mu.Lock()
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel = nil
	t.scanDone = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	t.logger.Debug("BLE scan stopped")
	return nil
}

// IsCached always reports false: go-ble keeps no bonded-device cache,
// so every auto connect goes through discovery.
func (t *bleTransport) IsCached(string) bool { return false }

// AdapterState returns the power state as last inferred from platform
// errors. go-ble has no adapter observer, so the state starts On and
// flips Off when a dial or scan fails with a power-related error.
func (t *bleTransport) AdapterState() transport.AdapterState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.adapter
}

// noteAdapterFrom flips the adapter state to Off when err indicates
// Bluetooth power loss, reporting the transition exactly once.
func (t *bleTransport) noteAdapterFrom(err error) {
	if !errors.Is(err, ErrBluetoothOff) {
		return
	}
	t.mu.Lock()
	was := t.adapter
	t.adapter = transport.AdapterOff
	t.mu.Unlock()
	if was != transport.AdapterOff {
		t.sink.AdapterStateChanged(transport.AdapterOff)
	}
}

// register installs l as the live link for its address. Fails when the
// address already has one or the transport is closed.
func (t *bleTransport) register(l *link) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if _, ok := t.links[l.addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, l.addr)
	}
	t.links[l.addr] = l
	return nil
}

// unregister removes l if it is still the registered link for its
// address. Exactly one caller wins; the winner owns the teardown and
// any disconnect report.
func (t *bleTransport) unregister(l *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[l.addr] != l {
		return false
	}
	delete(t.links, l.addr)
	return true
}

// connected returns the live link for addr or ErrNotConnected.
func (t *bleTransport) connected(addr string) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, transport.ErrClosed
	}
	l, ok := t.links[addr]
	if !ok || !l.attached() {
		return nil, fmt.Errorf("%w: %s", transport.ErrNotConnected, addr)
	}
	return l, nil
}

// Close stops scanning and severs every link. Radio teardown happens in
// the background; the engine is already failing outstanding work.
func (t *bleTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel = nil
	t.scanDone = nil
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.links = make(map[string]*link)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, l := range links {
		l.cancel(transport.ErrClosed)
		if cl := l.detach(); cl != nil {
			groutine.Go(context.Background(), "goble-close", func(context.Context) {
				if err := cl.CancelConnection(); err != nil {
					t.logger.WithFields(logrus.Fields{
						"device": l.addr,
						"error":  err,
					}).Debug("Connection cancel during close failed")
				}
			})
		}
	}
	t.logger.Debug("BLE transport closed")
	return nil
}
