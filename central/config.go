package central

import (
	"time"

	"github.com/srg/bleman/internal/transport"
)

// Config tunes a Manager. Zero fields take the tagged defaults, applied
// in New; a zero Config is fully usable.
type Config struct {
	// ConnectTimeout bounds one direct connect attempt. Auto-connects
	// are timeout-free and ignore it.
	ConnectTimeout time.Duration `default:"30s"`

	// ConnectRetries is how many times a failed connect attempt is
	// silently re-issued with identical parameters before the failure
	// turns terminal.
	ConnectRetries int `default:"1"`

	// SecurityRetries is how many times an operation rejected for
	// insufficient link security is re-sent after a security upgrade.
	SecurityRetries int `default:"1"`

	// MTU is the value attribute payloads are sized against until the
	// session negotiates its own.
	MTU int `default:"23"`

	// MailboxWarn is the engine mailbox depth that triggers a backlog
	// warning in the log. Zero disables the warning.
	MailboxWarn int `default:"1024"`

	// Executor, when set, receives application callbacks as serialized
	// thunks instead of the internal dispatcher goroutine running them.
	// It must preserve submission order.
	Executor func(func())
}

// Handlers is the application surface. Every field is optional; a nil
// handler drops its events. Handlers run off the engine loop in
// per-device FIFO order and may call back into the Manager freely.
type Handlers struct {
	// Connection lifecycle.
	OnConnecting        func(addr string)
	OnAwaitingDiscovery func(addr string)
	OnConnected         func(addr string)
	OnConnectionFailed  func(addr string, err error)
	OnDisconnected      func(addr string, reason error)

	// Operation completions, one callback per submitted operation.
	OnRead            func(addr string, handle uint16, value []byte, err error)
	OnWrite           func(addr string, handle uint16, err error)
	OnNotifyState     func(addr string, handle uint16, enabled bool, err error)
	OnRSSI            func(addr string, rssi int, err error)
	OnMTU             func(addr string, mtu int, err error)
	OnPHY             func(addr string, tx, rx transport.PHY, err error)
	OnPriorityUpdated func(addr string, err error)

	// Unsolicited events.
	OnNotification func(addr string, handle uint16, value []byte)
	OnLocalWrite   func(addr string, handle uint16, value []byte)
	OnScanFailed   func(err error)
	OnAdapterState func(on bool)

	OnBondStateChanged func(addr string, bonded bool)
}
