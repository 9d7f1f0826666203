//go:build test

package testutils

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/bleaddr"
	"github.com/srg/bleman/internal/transport"
)

// Call records one invocation on the FakeTransport. Only the fields
// meaningful for the Method carry data.
type Call struct {
	Method       string
	Addr         string
	Handle       uint16
	Value        []byte
	Auto         bool
	Enable       bool
	WithResponse bool
	MTU          int
	TxPHY        transport.PHY
	RxPHY        transport.PHY
	Priority     transport.ConnectionPriority
	RequestID    uint32
	Status       transport.Status
}

// FakeTransport is an in-memory transport.Transport for engine tests.
// It records every call, simulates the peripherals installed into it,
// and reports outcomes through the event sink exactly like a platform
// binding would: transport methods return immediately and results
// arrive as events.
//
// Install peripherals with Install (or InstallPeripheral for the
// builder shortcut), hand Factory() to Manager.Start, then drive the
// remote side with the emission helpers (Advertise, PushNotification,
// DropLink, SetAdapterState, InboundRead and friends).
//
// All methods are safe for concurrent use.
type FakeTransport struct {
	mu     sync.Mutex
	logger *logrus.Logger

	sink transport.Events
	pins transport.PinProvider

	peripherals map[string]*FakePeripheral
	calls       []Call

	holding bool
	held    []heldResult

	scanning bool
	scanErr  error
	adapter  transport.AdapterState
	closed   bool
}

type heldResult struct {
	addr string
	res  transport.OpResult
}

// NewFakeTransport creates an empty fake with the adapter powered on.
func NewFakeTransport(logger *logrus.Logger) *FakeTransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &FakeTransport{
		logger:      logger,
		peripherals: make(map[string]*FakePeripheral),
		adapter:     transport.AdapterOn,
	}
}

// Factory returns a transport.Factory that yields this fake and
// captures the engine's event sink, including its PIN provider when
// the sink carries one.
func (ft *FakeTransport) Factory() transport.Factory {
	return func(sink transport.Events, logger *logrus.Logger) (transport.Transport, error) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.sink = sink
		if pp, ok := sink.(transport.PinProvider); ok {
			ft.pins = pp
		}
		return ft, nil
	}
}

// Install registers a simulated peripheral. Panics on an invalid
// address; test fixtures fail loudly.
func (ft *FakeTransport) Install(p *FakePeripheral) {
	canon, err := bleaddr.Canonical(p.addr)
	if err != nil {
		panic(fmt.Sprintf("Install: %v", err))
	}
	p.addr = canon

	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.peripherals[canon] = p
}

// InstallPeripheral is the builder shortcut: configure and register in
// one chain.
func (ft *FakeTransport) InstallPeripheral(addr string) *FakePeripheralBuilder {
	return newFakePeripheralBuilder(addr, ft)
}

// ----------------------------
// Call recording
// ----------------------------

// record appends a call under ft.mu.
func (ft *FakeTransport) record(c Call) {
	ft.calls = append(ft.calls, c)
	ft.logger.WithFields(logrus.Fields{
		"method": c.Method,
		"device": c.Addr,
	}).Debug("Fake transport call")
}

// Calls returns every recorded call for method, in order. An empty
// method returns everything.
func (ft *FakeTransport) Calls(method string) []Call {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]Call, 0, len(ft.calls))
	for _, c := range ft.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times method was invoked.
func (ft *FakeTransport) CallCount(method string) int {
	return len(ft.Calls(method))
}

// Responses returns every Respond call, in order. Server-role tests
// assert the served statuses and chunks through this.
func (ft *FakeTransport) Responses() []Call {
	return ft.Calls("Respond")
}

// ----------------------------
// transport.Transport
// ----------------------------

var _ transport.Transport = (*FakeTransport)(nil)

func (ft *FakeTransport) StartScan() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.record(Call{Method: "StartScan"})
	if ft.scanErr != nil {
		return ft.scanErr
	}
	ft.scanning = true
	return nil
}

func (ft *FakeTransport) StopScan() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.record(Call{Method: "StopScan"})
	ft.scanning = false
	return nil
}

// Scanning reports whether a scan is active on the fake radio.
func (ft *FakeTransport) Scanning() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.scanning
}

// FailScanStart makes every subsequent StartScan return err
// synchronously. nil restores normal behavior.
func (ft *FakeTransport) FailScanStart(err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.scanErr = err
}

func (ft *FakeTransport) Connect(addr string, auto bool) error {
	ft.mu.Lock()
	ft.record(Call{Method: "Connect", Addr: addr, Auto: auto})

	p := ft.peripherals[addr]
	sink := ft.sink

	var state transport.ConnState
	var reason error
	switch {
	case p == nil:
		state, reason = transport.StateDisconnected, fmt.Errorf("no peripheral at %s", addr)
	case p.connectErr != nil:
		err := p.connectErr
		ft.mu.Unlock()
		return err
	case p.manualConnect:
		ft.mu.Unlock()
		return nil
	case p.failConnects > 0:
		p.failConnects--
		reason = p.failReason
		if reason == nil {
			reason = fmt.Errorf("connection attempt refused")
		}
		state = transport.StateDisconnected
	default:
		p.connected = true
		state = transport.StateConnected
	}
	ft.mu.Unlock()

	sink.ConnectionStateChanged(addr, state, reason)
	return nil
}

func (ft *FakeTransport) Disconnect(addr string) error {
	ft.mu.Lock()
	ft.record(Call{Method: "Disconnect", Addr: addr})
	p := ft.peripherals[addr]
	sink := ft.sink
	if p != nil {
		if p.disconnectErr != nil {
			err := p.disconnectErr
			ft.mu.Unlock()
			return err
		}
		p.connected = false
	}
	ft.mu.Unlock()

	sink.ConnectionStateChanged(addr, transport.StateDisconnected, nil)
	return nil
}

func (ft *FakeTransport) IsCached(addr string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := ft.peripherals[addr]
	return p != nil && p.cached
}

func (ft *FakeTransport) ReadAttribute(addr string, handle uint16) error {
	ft.mu.Lock()
	ft.record(Call{Method: "ReadAttribute", Addr: addr, Handle: handle})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}

	res := transport.OpResult{Kind: transport.OpRead, Handle: handle}
	switch a := p.attrs[handle]; {
	case a == nil:
		res.Err = transport.StatusInvalidHandle.Err()
	case a.secure && !p.secured:
		res.Err = transport.StatusInsufficientAuthentication.Err()
	case a.readErr != nil:
		res.Err = a.readErr
	default:
		res.Value = cloneBytes(a.value)
	}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) WriteAttribute(addr string, handle uint16, value []byte, withResponse bool) error {
	ft.mu.Lock()
	ft.record(Call{Method: "WriteAttribute", Addr: addr, Handle: handle, Value: cloneBytes(value), WithResponse: withResponse})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}

	res := transport.OpResult{Kind: transport.OpWrite, Handle: handle}
	switch a := p.attrs[handle]; {
	case a == nil:
		res.Err = transport.StatusInvalidHandle.Err()
	case a.secure && !p.secured:
		res.Err = transport.StatusInsufficientAuthentication.Err()
	case a.writeErr != nil:
		res.Err = a.writeErr
	default:
		a.value = cloneBytes(value)
		a.writes = append(a.writes, cloneBytes(value))
	}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) SetNotify(addr string, handle uint16, enable bool) error {
	ft.mu.Lock()
	ft.record(Call{Method: "SetNotify", Addr: addr, Handle: handle, Enable: enable})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}

	res := transport.OpResult{Kind: transport.OpSetNotify, Handle: handle}
	if p.attrs[handle] == nil {
		res.Err = transport.StatusInvalidHandle.Err()
	} else {
		p.subscriptions[handle] = enable
	}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) ReadRSSI(addr string) error {
	ft.mu.Lock()
	ft.record(Call{Method: "ReadRSSI", Addr: addr})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}
	res := transport.OpResult{Kind: transport.OpReadRSSI, RSSI: p.rssi}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) RequestMTU(addr string, mtu int) error {
	ft.mu.Lock()
	ft.record(Call{Method: "RequestMTU", Addr: addr, MTU: mtu})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}

	granted := mtu
	if p.mtuCap > 0 && granted > p.mtuCap {
		granted = p.mtuCap
	}
	p.mtu = granted
	res := transport.OpResult{Kind: transport.OpRequestMTU, MTU: granted}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) SetPHY(addr string, tx, rx transport.PHY, opts transport.PHYOptions) error {
	ft.mu.Lock()
	ft.record(Call{Method: "SetPHY", Addr: addr, TxPHY: tx, RxPHY: rx})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}

	res := transport.OpResult{Kind: transport.OpSetPHY}
	if p.phyErr != nil {
		res.Err = p.phyErr
	} else {
		p.txPHY, p.rxPHY = tx, rx
		res.TxPHY, res.RxPHY = tx, rx
	}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) ReadPHY(addr string) error {
	ft.mu.Lock()
	ft.record(Call{Method: "ReadPHY", Addr: addr})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}
	res := transport.OpResult{Kind: transport.OpReadPHY, TxPHY: p.txPHY, RxPHY: p.rxPHY}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) RequestConnectionPriority(addr string, prio transport.ConnectionPriority) error {
	ft.mu.Lock()
	ft.record(Call{Method: "RequestConnectionPriority", Addr: addr, Priority: prio})
	_, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}
	res := transport.OpResult{Kind: transport.OpRequestPriority}
	ft.mu.Unlock()

	ft.finish(addr, res)
	return nil
}

func (ft *FakeTransport) RequestSecurityUpgrade(addr string) error {
	ft.mu.Lock()
	ft.record(Call{Method: "RequestSecurityUpgrade", Addr: addr})
	p, err := ft.linkedLocked(addr)
	if err != nil {
		ft.mu.Unlock()
		return err
	}
	if p.securityErr != nil {
		err := p.securityErr
		ft.mu.Unlock()
		return err
	}
	if p.denySecurity {
		ft.mu.Unlock()
		return nil
	}
	if p.pin != "" {
		provided, ok := "", false
		if ft.pins != nil {
			provided, ok = ft.pins.Pin(addr)
		}
		if !ok || provided != p.pin {
			// Pairing fails; the link stays unsecured and the
			// operation's retry will be rejected again.
			ft.mu.Unlock()
			return nil
		}
	}
	p.secured = true
	sink := ft.sink
	ft.mu.Unlock()

	sink.BondStateChanged(addr, transport.BondBonded)
	return nil
}

func (ft *FakeTransport) Respond(addr string, requestID uint32, status transport.Status, value []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.record(Call{Method: "Respond", Addr: addr, RequestID: requestID, Status: status, Value: cloneBytes(value)})
	return nil
}

func (ft *FakeTransport) AdapterState() transport.AdapterState {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.adapter
}

func (ft *FakeTransport) Close() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.record(Call{Method: "Close"})
	ft.closed = true
	return nil
}

// Closed reports whether the engine released the transport.
func (ft *FakeTransport) Closed() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.closed
}

// linkedLocked resolves addr to a connected peripheral. Caller holds
// ft.mu.
func (ft *FakeTransport) linkedLocked(addr string) (*FakePeripheral, error) {
	p := ft.peripherals[addr]
	if p == nil || !p.connected {
		return nil, transport.ErrNotConnected
	}
	return p, nil
}

// finish delivers one operation result, or parks it while completions
// are held.
func (ft *FakeTransport) finish(addr string, res transport.OpResult) {
	ft.mu.Lock()
	if ft.holding {
		ft.held = append(ft.held, heldResult{addr: addr, res: res})
		ft.mu.Unlock()
		return
	}
	sink := ft.sink
	ft.mu.Unlock()
	sink.OperationComplete(addr, res)
}

// HoldCompletions parks operation results instead of delivering them,
// so tests can pile operations up behind an in-flight one. Turning it
// off does not flush what is already held; use ReleaseAll.
func (ft *FakeTransport) HoldCompletions(hold bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.holding = hold
}

// HeldCompletions reports how many results are parked.
func (ft *FakeTransport) HeldCompletions() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.held)
}

// ReleaseAll delivers every parked result in arrival order and returns
// how many went out. Results produced while holding is still enabled
// park again.
func (ft *FakeTransport) ReleaseAll() int {
	ft.mu.Lock()
	held := ft.held
	ft.held = nil
	sink := ft.sink
	ft.mu.Unlock()

	for _, h := range held {
		sink.OperationComplete(h.addr, h.res)
	}
	return len(held)
}

// ----------------------------
// Remote-side emission helpers
// ----------------------------

// Advertise delivers one advertisement to the engine. Returns false
// when no scan is running; a silent radio reports nothing.
func (ft *FakeTransport) Advertise(adv transport.Advertisement) bool {
	ft.mu.Lock()
	scanning, sink := ft.scanning, ft.sink
	ft.mu.Unlock()
	if !scanning {
		return false
	}
	sink.ScanResult(adv)
	return true
}

// AdvertisePeripheral advertises an installed peripheral under its
// configured name and RSSI.
func (ft *FakeTransport) AdvertisePeripheral(addr string) bool {
	ft.mu.Lock()
	p := ft.peripherals[addr]
	ft.mu.Unlock()
	if p == nil {
		return false
	}
	adv := NewAdvertisementBuilder().
		WithAddress(p.addr).
		WithName(p.name).
		WithRSSI(p.rssi).
		Build()
	return ft.Advertise(adv)
}

// ReportScanFailure stops the fake radio and reports the failure.
func (ft *FakeTransport) ReportScanFailure(err error) {
	ft.mu.Lock()
	ft.scanning = false
	sink := ft.sink
	ft.mu.Unlock()
	sink.ScanFailed(err)
}

// CompleteConnect finishes a pending manual-mode connect attempt.
func (ft *FakeTransport) CompleteConnect(addr string) {
	ft.mu.Lock()
	p := ft.peripherals[addr]
	sink := ft.sink
	if p != nil {
		p.connected = true
	}
	ft.mu.Unlock()
	sink.ConnectionStateChanged(addr, transport.StateConnected, nil)
}

// RefuseConnect finishes a pending manual-mode connect attempt with a
// failure.
func (ft *FakeTransport) RefuseConnect(addr string, reason error) {
	ft.mu.Lock()
	sink := ft.sink
	ft.mu.Unlock()
	sink.ConnectionStateChanged(addr, transport.StateDisconnected, reason)
}

// DropLink severs an established connection from the remote side.
func (ft *FakeTransport) DropLink(addr string, reason error) {
	ft.mu.Lock()
	p := ft.peripherals[addr]
	sink := ft.sink
	if p != nil {
		p.connected = false
	}
	ft.mu.Unlock()
	sink.ConnectionStateChanged(addr, transport.StateDisconnected, reason)
}

// PushNotification delivers an unsolicited value update for a handle.
func (ft *FakeTransport) PushNotification(addr string, handle uint16, value []byte) {
	ft.mu.Lock()
	sink := ft.sink
	ft.mu.Unlock()
	sink.Notification(addr, handle, cloneBytes(value))
}

// SetAdapterState flips the adapter power state and reports it.
func (ft *FakeTransport) SetAdapterState(state transport.AdapterState) {
	ft.mu.Lock()
	ft.adapter = state
	if state != transport.AdapterOn {
		ft.scanning = false
	}
	sink := ft.sink
	ft.mu.Unlock()
	sink.AdapterStateChanged(state)
}

// InboundRead simulates a remote central reading a hosted attribute.
func (ft *FakeTransport) InboundRead(addr string, requestID uint32, handle uint16, offset int) {
	ft.mu.Lock()
	sink := ft.sink
	ft.mu.Unlock()
	sink.ReadRequest(addr, requestID, handle, offset)
}

// InboundWrite simulates a remote central writing a hosted attribute.
func (ft *FakeTransport) InboundWrite(addr string, requestID uint32, handle uint16, offset int, value []byte, prepared bool) {
	ft.mu.Lock()
	sink := ft.sink
	ft.mu.Unlock()
	sink.WriteRequest(addr, requestID, handle, offset, cloneBytes(value), prepared)
}

// InboundExecute simulates a remote central finishing a prepared write
// sequence.
func (ft *FakeTransport) InboundExecute(addr string, requestID uint32, commit bool) {
	ft.mu.Lock()
	sink := ft.sink
	ft.mu.Unlock()
	sink.ExecuteWrite(addr, requestID, commit)
}

// ----------------------------
// Peripheral state probes
// ----------------------------

// Written returns every value written to the handle, in order.
func (ft *FakeTransport) Written(addr string, handle uint16) [][]byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := ft.peripherals[addr]
	if p == nil {
		return nil
	}
	a := p.attrs[handle]
	if a == nil {
		return nil
	}
	out := make([][]byte, len(a.writes))
	for i, w := range a.writes {
		out[i] = cloneBytes(w)
	}
	return out
}

// AttrValue returns the current value of the handle.
func (ft *FakeTransport) AttrValue(addr string, handle uint16) []byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := ft.peripherals[addr]
	if p == nil {
		return nil
	}
	a := p.attrs[handle]
	if a == nil {
		return nil
	}
	return cloneBytes(a.value)
}

// Secured reports whether the link to addr was upgraded.
func (ft *FakeTransport) Secured(addr string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := ft.peripherals[addr]
	return p != nil && p.secured
}

// Subscribed reports the last notification subscription state set for
// the handle.
func (ft *FakeTransport) Subscribed(addr string, handle uint16) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p := ft.peripherals[addr]
	return p != nil && p.subscriptions[handle]
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
