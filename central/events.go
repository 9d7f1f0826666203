package central

import (
	"github.com/srg/bleman/internal/bleaddr"
	"github.com/srg/bleman/internal/transport"
)

// eventSink funnels transport callbacks into the engine mailbox. It is
// the only transport.Events implementation the engine ever hands out;
// bindings may call it from any goroutine. It also implements
// transport.PinProvider over the manager's PIN registry.
type eventSink struct {
	m *Manager
}

var _ transport.Events = (*eventSink)(nil)
var _ transport.PinProvider = (*eventSink)(nil)

// canonical validates an event address. Events with a malformed address
// are dropped with a warning: a binding emitting them is broken and the
// engine keys everything by canonical form.
func (e *eventSink) canonical(addr string) (string, bool) {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		e.m.logger.WithField("address", addr).Warn("Dropping event with malformed device address")
		return "", false
	}
	return canon, true
}

// clone detaches an event payload from whatever buffer the binding
// reuses.
func clone(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

func (e *eventSink) ScanResult(adv transport.Advertisement) {
	e.m.mailbox.post(func() { e.m.handleScanResult(adv) })
}

func (e *eventSink) ScanFailed(err error) {
	e.m.mailbox.post(func() { e.m.handleScanFailed(err) })
}

func (e *eventSink) ConnectionStateChanged(addr string, state transport.ConnState, reason error) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	e.m.mailbox.post(func() { e.m.handleConnectionState(canon, state, reason) })
}

func (e *eventSink) OperationComplete(addr string, res transport.OpResult) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	res.Value = clone(res.Value)
	e.m.mailbox.post(func() { e.m.handleOperationComplete(canon, res) })
}

func (e *eventSink) Notification(addr string, handle uint16, value []byte) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	v := clone(value)
	e.m.mailbox.post(func() { e.m.handleNotification(canon, handle, v) })
}

func (e *eventSink) AdapterStateChanged(state transport.AdapterState) {
	e.m.mailbox.post(func() { e.m.handleAdapterState(state) })
}

func (e *eventSink) BondStateChanged(addr string, state transport.BondState) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	e.m.mailbox.post(func() { e.m.handleBondState(canon, state) })
}

func (e *eventSink) ReadRequest(addr string, requestID uint32, handle uint16, offset int) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	e.m.mailbox.post(func() { e.m.handleReadRequest(canon, requestID, handle, offset) })
}

func (e *eventSink) WriteRequest(addr string, requestID uint32, handle uint16, offset int, value []byte, prepared bool) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	v := clone(value)
	e.m.mailbox.post(func() { e.m.handleWriteRequest(canon, requestID, handle, offset, v, prepared) })
}

func (e *eventSink) ExecuteWrite(addr string, requestID uint32, commit bool) {
	canon, ok := e.canonical(addr)
	if !ok {
		return
	}
	e.m.mailbox.post(func() { e.m.handleExecuteWrite(canon, requestID, commit) })
}

// Pin exposes the manager's pairing PIN registry to bindings that
// drive pairing themselves.
func (e *eventSink) Pin(addr string) (string, bool) {
	return e.m.pins.Pin(addr)
}
