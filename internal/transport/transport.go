// Package transport defines the boundary between the session engine and
// a platform BLE stack. A Transport carries outbound calls; the Events
// sink carries everything the stack reports back. Bindings may invoke
// Events from any goroutine; the engine serializes internally.
package transport

import "github.com/sirupsen/logrus"

// Transport is the outbound half of the boundary. Attribute operations
// and connection requests are asynchronous: a nil return means the
// request was submitted and its outcome will arrive as an event; a
// non-nil return is an immediate submission failure. Capabilities a
// binding lacks return ErrUnsupported.
type Transport interface {
	// StartScan begins advertisement discovery. Results arrive as
	// ScanResult events until StopScan.
	StartScan() error
	StopScan() error

	// Connect initiates a connection. With auto true the transport may
	// use a background, timeout-free reconnect regardless of whether
	// the device is currently in range.
	Connect(addr string, auto bool) error
	Disconnect(addr string) error

	// IsCached reports whether the platform can connect to addr without
	// a fresh discovery (bonded or recently seen device).
	IsCached(addr string) bool

	ReadAttribute(addr string, handle uint16) error
	WriteAttribute(addr string, handle uint16, value []byte, withResponse bool) error
	SetNotify(addr string, handle uint16, enable bool) error
	ReadRSSI(addr string) error
	RequestMTU(addr string, mtu int) error
	SetPHY(addr string, tx, rx PHY, opts PHYOptions) error
	ReadPHY(addr string) error
	RequestConnectionPriority(addr string, prio ConnectionPriority) error

	// RequestSecurityUpgrade asks the platform to raise the link to an
	// authenticated, encrypted state (pairing/bonding as needed).
	RequestSecurityUpgrade(addr string) error

	// Respond answers a ReadRequest, WriteRequest, or ExecuteWrite event
	// in the server role. value is the served chunk for reads, the echoed
	// chunk for prepared writes, nil otherwise.
	Respond(addr string, requestID uint32, status Status, value []byte) error

	// AdapterState returns the adapter power state as last known.
	AdapterState() AdapterState

	Close() error
}

// Events is the inbound half of the boundary.
type Events interface {
	ScanResult(adv Advertisement)
	ScanFailed(err error)

	// ConnectionStateChanged reports link transitions. reason is non-nil
	// for failures and unexpected drops.
	ConnectionStateChanged(addr string, state ConnState, reason error)

	// OperationComplete reports the outcome of one submitted operation.
	OperationComplete(addr string, res OpResult)

	// Notification delivers an unsolicited value update for a
	// subscribed handle.
	Notification(addr string, handle uint16, value []byte)

	AdapterStateChanged(state AdapterState)
	BondStateChanged(addr string, state BondState)

	// Server role: a remote central reads or writes an attribute we
	// host. Bindings without a server role never emit these.
	ReadRequest(addr string, requestID uint32, handle uint16, offset int)
	WriteRequest(addr string, requestID uint32, handle uint16, offset int, value []byte, prepared bool)
	ExecuteWrite(addr string, requestID uint32, commit bool)
}

// Advertisement is one discovery result.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
}

// PinProvider is implemented by event sinks that can supply pairing
// PINs. Bindings that drive pairing themselves assert it on their sink
// and fall back to platform UI when it is absent or has no entry.
type PinProvider interface {
	Pin(addr string) (string, bool)
}

// Factory creates a transport bound to an event sink. The engine owns
// the sink; the binding owns the platform session.
type Factory func(sink Events, logger *logrus.Logger) (Transport, error)
