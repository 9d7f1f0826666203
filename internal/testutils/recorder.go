//go:build test

package testutils

import (
	"time"

	"github.com/srg/bleman/central"
	"github.com/srg/bleman/internal/transport"
)

// EventKind names one engine callback.
type EventKind string

const (
	EvConnecting        EventKind = "connecting"
	EvAwaitingDiscovery EventKind = "awaiting_discovery"
	EvConnected         EventKind = "connected"
	EvConnectionFailed  EventKind = "connection_failed"
	EvDisconnected      EventKind = "disconnected"
	EvRead              EventKind = "read"
	EvWrite             EventKind = "write"
	EvNotifyState       EventKind = "notify_state"
	EvRSSI              EventKind = "rssi"
	EvMTU               EventKind = "mtu"
	EvPHY               EventKind = "phy"
	EvPriority          EventKind = "priority"
	EvNotification      EventKind = "notification"
	EvLocalWrite        EventKind = "local_write"
	EvScanFailed        EventKind = "scan_failed"
	EvAdapterState      EventKind = "adapter_state"
	EvBondState         EventKind = "bond_state"
)

// EngineEvent is one recorded callback. Only the fields meaningful for
// the Kind carry data.
type EngineEvent struct {
	Kind    EventKind
	Addr    string
	Handle  uint16
	Value   []byte
	Err     error
	Enabled bool
	RSSI    int
	MTU     int
	TxPHY   transport.PHY
	RxPHY   transport.PHY
	On      bool
	Bonded  bool
}

// EventRecorder captures every engine callback into one ordered
// channel, preserving the dispatcher's delivery order across all
// devices and event kinds. Wire it with Handlers().
type EventRecorder struct {
	ch chan EngineEvent
}

// NewEventRecorder creates a recorder with room for 256 undrained
// events.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{ch: make(chan EngineEvent, 256)}
}

func (r *EventRecorder) push(ev EngineEvent) {
	r.ch <- ev
}

// Handlers returns a central.Handlers with every callback recording
// into this recorder.
func (r *EventRecorder) Handlers() central.Handlers {
	return central.Handlers{
		OnConnecting: func(addr string) {
			r.push(EngineEvent{Kind: EvConnecting, Addr: addr})
		},
		OnAwaitingDiscovery: func(addr string) {
			r.push(EngineEvent{Kind: EvAwaitingDiscovery, Addr: addr})
		},
		OnConnected: func(addr string) {
			r.push(EngineEvent{Kind: EvConnected, Addr: addr})
		},
		OnConnectionFailed: func(addr string, err error) {
			r.push(EngineEvent{Kind: EvConnectionFailed, Addr: addr, Err: err})
		},
		OnDisconnected: func(addr string, reason error) {
			r.push(EngineEvent{Kind: EvDisconnected, Addr: addr, Err: reason})
		},
		OnRead: func(addr string, handle uint16, value []byte, err error) {
			r.push(EngineEvent{Kind: EvRead, Addr: addr, Handle: handle, Value: value, Err: err})
		},
		OnWrite: func(addr string, handle uint16, err error) {
			r.push(EngineEvent{Kind: EvWrite, Addr: addr, Handle: handle, Err: err})
		},
		OnNotifyState: func(addr string, handle uint16, enabled bool, err error) {
			r.push(EngineEvent{Kind: EvNotifyState, Addr: addr, Handle: handle, Enabled: enabled, Err: err})
		},
		OnRSSI: func(addr string, rssi int, err error) {
			r.push(EngineEvent{Kind: EvRSSI, Addr: addr, RSSI: rssi, Err: err})
		},
		OnMTU: func(addr string, mtu int, err error) {
			r.push(EngineEvent{Kind: EvMTU, Addr: addr, MTU: mtu, Err: err})
		},
		OnPHY: func(addr string, tx, rx transport.PHY, err error) {
			r.push(EngineEvent{Kind: EvPHY, Addr: addr, TxPHY: tx, RxPHY: rx, Err: err})
		},
		OnPriorityUpdated: func(addr string, err error) {
			r.push(EngineEvent{Kind: EvPriority, Addr: addr, Err: err})
		},
		OnNotification: func(addr string, handle uint16, value []byte) {
			r.push(EngineEvent{Kind: EvNotification, Addr: addr, Handle: handle, Value: value})
		},
		OnLocalWrite: func(addr string, handle uint16, value []byte) {
			r.push(EngineEvent{Kind: EvLocalWrite, Addr: addr, Handle: handle, Value: value})
		},
		OnScanFailed: func(err error) {
			r.push(EngineEvent{Kind: EvScanFailed, Err: err})
		},
		OnAdapterState: func(on bool) {
			r.push(EngineEvent{Kind: EvAdapterState, On: on})
		},
		OnBondStateChanged: func(addr string, bonded bool) {
			r.push(EngineEvent{Kind: EvBondState, Addr: addr, Bonded: bonded})
		},
	}
}

// Next returns the next recorded event in delivery order, or false
// when none arrives within timeout.
func (r *EventRecorder) Next(timeout time.Duration) (EngineEvent, bool) {
	select {
	case ev := <-r.ch:
		return ev, true
	case <-time.After(timeout):
		return EngineEvent{}, false
	}
}

// WaitFor discards events until one of the given kind arrives, and
// returns it. False when timeout elapses first.
func (r *EventRecorder) WaitFor(kind EventKind, timeout time.Duration) (EngineEvent, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev, true
			}
		case <-deadline:
			return EngineEvent{}, false
		}
	}
}

// TryNext returns the next buffered event without waiting.
func (r *EventRecorder) TryNext() (EngineEvent, bool) {
	select {
	case ev := <-r.ch:
		return ev, true
	default:
		return EngineEvent{}, false
	}
}

// Drain empties the buffer and returns everything it held, in order.
func (r *EventRecorder) Drain() []EngineEvent {
	var out []EngineEvent
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
