// Package scanner drives BLE discovery over a transport and maintains a
// concurrent table of everything seen: one snapshot per device with a
// sticky name, the latest RSSI, and the merged advertised services.
// Consumers either take the table snapshot a finished scan returns or
// follow discovery live through the Events channel.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/bleaddr"
	"github.com/srg/bleman/internal/bledb"
	"github.com/srg/bleman/internal/ringchan"
	"github.com/srg/bleman/internal/transport"
)

// eventBacklog is the Events channel capacity; the oldest event is
// dropped when a consumer falls this far behind.
const eventBacklog = 100

// ErrScanActive rejects a Scan call while another scan is running.
var ErrScanActive = errors.New("scan already running")

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	switch t {
	case EventNew:
		return "new"
	case EventUpdated:
		return "updated"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// DeviceEvent is one discovery observation: the device snapshot taken
// right after the advertisement was folded in.
type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// Device is a point-in-time snapshot of one discovered device.
type Device struct {
	Addr             string
	Name             string
	RSSI             int
	Connectable      bool
	Services         []string
	ManufacturerData []byte
	FirstSeen        time.Time
	LastSeen         time.Time
	Advertisements   int
}

// DisplayName returns the sticky name, falling back to the address.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Addr
}

// KnownServices resolves the advertised service UUIDs that have
// assigned names.
func (d Device) KnownServices() []string {
	var names []string
	for _, s := range d.Services {
		if n := bledb.LookupService(s); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Options configures scanning behavior
type Options struct {
	// Duration bounds the scan; zero scans until the context ends.
	Duration time.Duration

	// Services keeps only devices advertising at least one of these
	// service UUIDs (any SIG spelling).
	Services []string

	// AllowList keeps only these addresses; empty allows everything.
	AllowList []string

	// BlockList always excludes these addresses.
	BlockList []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	return &Options{
		Duration: 10 * time.Second,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	logger *logrus.Logger
	tr     transport.Transport
	events *ringchan.RingChannel[DeviceEvent]

	mu      sync.RWMutex
	devices *hashmap.Map[string, *entry]
	opts    *scanFilter
	failed  chan error
}

// scanFilter is the canonicalized form of the active Options.
type scanFilter struct {
	services  []string
	allowList map[string]struct{}
	blockList map[string]struct{}
}

// New creates a Scanner with its own transport built through factory.
func New(factory transport.Factory, logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Scanner{
		logger: logger,
		events: ringchan.New[DeviceEvent](eventBacklog),
	}
	tr, err := factory(&scanSink{s: s}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	s.tr = tr
	return s, nil
}

// Scan performs BLE discovery with the provided options, returning the
// device table when the scan ends. The scan runs until the context is
// done or opts.Duration elapses, whichever comes first.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progressCallback ProgressCallback) (map[string]Device, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	filter, err := newScanFilter(opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.opts != nil {
		s.mu.Unlock()
		return nil, ErrScanActive
	}
	table := hashmap.New[string, *entry]()
	failed := make(chan error, 1)
	s.devices = table
	s.opts = filter
	s.failed = failed
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.opts = nil
		s.failed = nil
		s.mu.Unlock()
	}()

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	if err := s.tr.StartScan(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	select {
	case <-scanCtx.Done():
		if err := s.tr.StopScan(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop scan")
		}
	case err := <-failed:
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", table.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]Device, table.Len())
	table.Range(func(addr string, e *entry) bool {
		devices[addr] = e.snapshot()
		return true
	})
	return devices, nil
}

// Devices returns the table of the current or most recent scan, sorted
// by address.
func (s *Scanner) Devices() []Device {
	s.mu.RLock()
	table := s.devices
	s.mu.RUnlock()
	if table == nil {
		return nil
	}

	devs := make([]Device, 0, table.Len())
	table.Range(func(_ string, e *entry) bool {
		devs = append(devs, e.snapshot())
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].Addr < devs[j].Addr })
	return devs
}

// Events returns a read-only channel of device events. When a consumer
// lags behind the oldest event is dropped, never the newest.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Close releases the transport. The scanner is unusable afterwards.
func (s *Scanner) Close() error {
	return s.tr.Close()
}

// handleAdvertisement folds one advertisement into the device table and
// emits the corresponding event.
func (s *Scanner) handleAdvertisement(adv transport.Advertisement) {
	s.mu.RLock()
	table, filter := s.devices, s.opts
	s.mu.RUnlock()
	if table == nil || filter == nil {
		return
	}

	addr, err := bleaddr.Canonical(adv.Addr())
	if err != nil {
		s.logger.WithField("address", adv.Addr()).Debug("Ignoring advertisement with malformed address")
		return
	}

	e, existing := table.Get(addr)
	if !existing {
		if !filter.includes(addr, adv) {
			return
		}
		e, existing = table.GetOrInsert(addr, newEntry(addr, adv))
	}

	event := DeviceEvent{Type: EventNew}
	if existing {
		event.Type = EventUpdated
		event.Device = e.update(adv)
	} else {
		event.Device = e.snapshot()
		s.logger.WithFields(logrus.Fields{
			"device":  event.Device.DisplayName(),
			"address": addr,
			"rssi":    event.Device.RSSI,
		}).Info("Discovered new device")
	}

	s.events.Send(event)
}

// handleScanFailed surfaces a transport scan failure to the waiting
// Scan call.
func (s *Scanner) handleScanFailed(err error) {
	s.mu.RLock()
	failed := s.failed
	s.mu.RUnlock()
	if failed == nil {
		return
	}
	select {
	case failed <- err:
	default:
	}
}

// newScanFilter canonicalizes the option lists once per scan.
func newScanFilter(opts *Options) (*scanFilter, error) {
	f := &scanFilter{
		services:  bledb.NormalizeUUIDs(opts.Services),
		allowList: make(map[string]struct{}, len(opts.AllowList)),
		blockList: make(map[string]struct{}, len(opts.BlockList)),
	}
	for _, a := range opts.AllowList {
		canon, err := bleaddr.Canonical(a)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list address %q: %w", a, err)
		}
		f.allowList[canon] = struct{}{}
	}
	for _, b := range opts.BlockList {
		canon, err := bleaddr.Canonical(b)
		if err != nil {
			return nil, fmt.Errorf("invalid block-list address %q: %w", b, err)
		}
		f.blockList[canon] = struct{}{}
	}
	return f, nil
}

// includes applies the allow/block/service filters to a canonical
// address and its advertisement.
func (f *scanFilter) includes(addr string, adv transport.Advertisement) bool {
	if _, blocked := f.blockList[addr]; blocked {
		return false
	}
	if len(f.allowList) > 0 {
		if _, allowed := f.allowList[addr]; !allowed {
			return false
		}
	}
	if len(f.services) > 0 {
		advertised := bledb.NormalizeUUIDs(adv.Services())
		for _, required := range f.services {
			for _, got := range advertised {
				if got == required {
					return true
				}
			}
		}
		return false
	}
	return true
}

// entry is one device's mutable accumulation behind the table.
type entry struct {
	mu sync.Mutex
	d  Device
}

func newEntry(addr string, adv transport.Advertisement) *entry {
	now := time.Now()
	return &entry{d: Device{
		Addr:             addr,
		Name:             strings.TrimSpace(adv.LocalName()),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		Services:         bledb.NormalizeUUIDs(adv.Services()),
		ManufacturerData: adv.ManufacturerData(),
		FirstSeen:        now,
		LastSeen:         now,
		Advertisements:   1,
	}}
}

// update folds a repeat advertisement in and returns the new snapshot.
// The name is sticky: a nameless advertisement never clears one.
func (e *entry) update(adv transport.Advertisement) Device {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.d.RSSI = adv.RSSI()
	e.d.LastSeen = time.Now()
	e.d.Advertisements++

	if name := strings.TrimSpace(adv.LocalName()); name != "" {
		e.d.Name = name
	}
	if data := adv.ManufacturerData(); len(data) > 0 {
		e.d.ManufacturerData = data
	}

	merged := false
	for _, svc := range bledb.NormalizeUUIDs(adv.Services()) {
		if !containsString(e.d.Services, svc) {
			e.d.Services = append(e.d.Services, svc)
			merged = true
		}
	}
	if merged {
		sort.Strings(e.d.Services)
	}
	return e.copyLocked()
}

func (e *entry) snapshot() Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLocked()
}

// copyLocked returns a detached copy. Caller holds e.mu.
func (e *entry) copyLocked() Device {
	d := e.d
	d.Services = append([]string(nil), e.d.Services...)
	d.ManufacturerData = append([]byte(nil), e.d.ManufacturerData...)
	return d
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// scanSink adapts the Scanner to the transport event boundary. Only the
// discovery events matter; a scanner never connects.
type scanSink struct {
	s *Scanner
}

var _ transport.Events = (*scanSink)(nil)

func (k *scanSink) ScanResult(adv transport.Advertisement) { k.s.handleAdvertisement(adv) }
func (k *scanSink) ScanFailed(err error)                   { k.s.handleScanFailed(err) }

func (k *scanSink) ConnectionStateChanged(string, transport.ConnState, error) {}
func (k *scanSink) OperationComplete(string, transport.OpResult)              {}
func (k *scanSink) Notification(string, uint16, []byte)                       {}
func (k *scanSink) AdapterStateChanged(transport.AdapterState)                {}
func (k *scanSink) BondStateChanged(string, transport.BondState)              {}
func (k *scanSink) ReadRequest(string, uint32, uint16, int)                   {}
func (k *scanSink) WriteRequest(string, uint32, uint16, int, []byte, bool)    {}
func (k *scanSink) ExecuteWrite(string, uint32, bool)                         {}
