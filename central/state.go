package central

// State is a session's position in the connection lifecycle. The
// manager loop owns all transitions; sessions store their state
// atomically so snapshot reads never wait for the loop.
type State int32

const (
	// StateDisconnected means no link and no pending attempt.
	StateDisconnected State = iota

	// StateConnecting means a transport connect is outstanding.
	StateConnecting

	// StateAwaitingDiscovery means an auto-connect is parked on the
	// shared discovery scan. Counts as connecting: a device here has an
	// outstanding attempt and rejects a second one.
	StateAwaitingDiscovery

	// StateConnected means the link is up and operations may flow.
	StateConnected

	// StateDisconnecting means a disconnect was requested and its
	// confirmation is pending.
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingDiscovery:
		return "awaiting_discovery"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
