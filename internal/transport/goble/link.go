package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/groutine"
	"github.com/srg/bleman/internal/transport"
)

// link is one dialed connection. Characteristics are indexed by their
// attribute value handle; the client field is nil until the dial and
// profile discovery complete.
type link struct {
	addr string

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	client ble.Client
	chars  map[uint16]*ble.Characteristic
	subs   map[uint16]bool // handle -> subscribed with indications

	// writeMu serializes chunked writes so two long values never interleave.
	writeMu sync.Mutex

	mtu atomic.Int32
}

func newLink(addr string) *link {
	ctx, cancel := context.WithCancelCause(context.Background())
	l := &link{
		addr:   addr,
		ctx:    ctx,
		cancel: cancel,
	}
	l.mtu.Store(defaultATTMTU)
	return l
}

func (l *link) attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil
}

// attach installs the dialed client and builds the handle index from
// the discovered profile.
func (l *link) attach(client ble.Client, profile *ble.Profile, logger *logrus.Logger) {
	chars := make(map[uint16]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			h := c.ValueHandle
			if h == 0 {
				h = c.Handle
			}
			if h == 0 {
				logger.WithFields(logrus.Fields{
					"device": l.addr,
					"char":   c.UUID.String(),
				}).Warn("Characteristic has no handle, skipping")
				continue
			}
			chars[h] = c
		}
	}

	l.mu.Lock()
	l.client = client
	l.chars = chars
	l.subs = make(map[uint16]bool)
	l.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"device":          l.addr,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected")
}

// detach clears and returns the client, nil when never attached.
func (l *link) detach() ble.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl := l.client
	l.client = nil
	return cl
}

// snapshot returns the client and the characteristic for handle.
func (l *link) snapshot(handle uint16) (ble.Client, *ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil, nil, fmt.Errorf("%w: %s", transport.ErrNotConnected, l.addr)
	}
	c, ok := l.chars[handle]
	if !ok {
		return nil, nil, fmt.Errorf("no characteristic with handle 0x%04X on %s", handle, l.addr)
	}
	return l.client, c, nil
}

// Connect dials addr in the background. A nil return means the attempt
// was submitted; the outcome arrives as a ConnectionStateChanged event.
func (t *bleTransport) Connect(addr string, auto bool) error {
	l := newLink(addr)
	if err := t.register(l); err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"device": addr,
		"auto":   auto,
	}).Debug("Dialing BLE device")
	groutine.Go(l.ctx, "goble-dial", func(context.Context) {
		t.dial(l, auto)
	})
	return nil
}

// dial runs one connect attempt end to end: dial, profile discovery,
// GAP name resolution, disconnect watcher.
func (t *bleTransport) dial(l *link, auto bool) {
	dialCtx := l.ctx
	if !auto {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(l.ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	client, err := ble.Dial(dialCtx, ble.NewAddr(l.addr))
	if err != nil {
		t.dialFailed(l, fmt.Errorf("failed to connect to %q: %w", l.addr, NormalizeError(err)))
		return
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		t.dialFailed(l, fmt.Errorf("failed to discover profile: %w", NormalizeError(err)))
		return
	}

	l.attach(client, profile, t.logger)
	if l.ctx.Err() != nil {
		// Torn down while discovery was in flight.
		if cl := l.detach(); cl != nil {
			_ = cl.CancelConnection()
		}
		return
	}
	t.sink.ConnectionStateChanged(l.addr, transport.StateConnected, nil)

	if name := l.resolveGAPName(); name != "" {
		t.logger.WithFields(logrus.Fields{
			"device": l.addr,
			"name":   name,
		}).Debug("Resolved device name from GAP")
		t.sink.ScanResult(gapName{addr: l.addr, name: name})
	}

	t.watch(l, client)
}

// dialFailed reports a terminal attempt failure unless the link was
// already torn down by Disconnect or Close.
func (t *bleTransport) dialFailed(l *link, err error) {
	t.noteAdapterFrom(err)
	if !t.unregister(l) {
		return
	}
	l.cancel(err)
	t.logger.WithFields(logrus.Fields{
		"device": l.addr,
		"error":  err,
	}).Debug("BLE dial failed")
	t.sink.ConnectionStateChanged(l.addr, transport.StateDisconnected, err)
}

// watch monitors the platform disconnect channel and reports the drop.
// The channel is Darwin-specific; without it, drops surface through the
// next failed operation instead.
func (t *bleTransport) watch(l *link, client ble.Client) {
	watcher, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		t.logger.Debug("Client does not support Disconnected() channel (non-Darwin platform?)")
		return
	}
	groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
		select {
		case <-watcher.Disconnected():
			if !t.unregister(l) {
				return
			}
			t.logger.WithField("device", l.addr).Warn("Platform reported disconnection")
			reason := fmt.Errorf("%w: link lost", transport.ErrNotConnected)
			l.cancel(reason)
			l.detach()
			t.sink.ConnectionStateChanged(l.addr, transport.StateDisconnected, reason)
		case <-l.ctx.Done():
		}
	})
}

// Disconnect severs the link for addr. The engine reports the session
// teardown itself, so no ConnectionStateChanged event is emitted here.
func (t *bleTransport) Disconnect(addr string) error {
	t.mu.Lock()
	l, ok := t.links[addr]
	if ok {
		delete(t.links, addr)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	l.cancel(transport.ErrNotConnected)
	client := l.detach()
	if client == nil {
		return nil
	}

	groutine.Go(context.Background(), "goble-teardown", func(context.Context) {
		l.unsubscribeAll(client, t.logger)
		if err := client.CancelConnection(); err != nil {
			t.logger.WithFields(logrus.Fields{
				"device": addr,
				"error":  err,
			}).Warn("BLE device disconnected with errors")
			return
		}
		t.logger.WithField("device", addr).Info("BLE device disconnected")
	})
	return nil
}

// unsubscribeAll drops every remote subscription before the connection
// is cancelled, tolerating per-characteristic failures.
func (l *link) unsubscribeAll(client ble.Client, logger *logrus.Logger) {
	l.mu.Lock()
	subs := make(map[uint16]bool, len(l.subs))
	chars := make(map[uint16]*ble.Characteristic, len(l.subs))
	for h, ind := range l.subs {
		if c, ok := l.chars[h]; ok {
			subs[h] = ind
			chars[h] = c
		}
	}
	l.subs = nil
	l.mu.Unlock()

	for h, ind := range subs {
		if err := client.Unsubscribe(chars[h], ind); err != nil {
			logger.WithFields(logrus.Fields{
				"device": l.addr,
				"handle": fmt.Sprintf("0x%04X", h),
				"error":  err,
			}).Debug("Unsubscribe during disconnect failed")
		}
	}
}

// resolveGAPName reads the GAP Device Name characteristic. Empty when
// the device does not expose one or the value is unusable.
func (l *link) resolveGAPName() string {
	l.mu.Lock()
	client := l.client
	var char *ble.Characteristic
	for _, c := range l.chars {
		if c.UUID.String() == gapDeviceNameUUID {
			char = c
			break
		}
	}
	l.mu.Unlock()

	if client == nil || char == nil {
		return ""
	}
	data, err := client.ReadCharacteristic(char)
	if err != nil || len(data) == 0 {
		return ""
	}

	name := string(data)
	name = strings.TrimRight(name, "\x00")
	name = strings.TrimSpace(name)
	if !isValidDeviceName(name) {
		return ""
	}
	return name
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}

	// Must contain at least one letter
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
