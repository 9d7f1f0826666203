package main

import (
	"errors"
	"fmt"

	"github.com/srg/bleman/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// during an operation. This is distinct from transport.ErrNotConnected,
	// which indicates an attempt to use a device that was never connected
	// or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError rewrites engine errors into messages that make sense
// without knowing the engine's internals. Unrecognized errors pass
// through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "connection lost; the device went out of range or dropped the link"
	case errors.Is(err, transport.ErrNotConnected):
		return fmt.Sprintf("%v (connect first, or check the address with 'bleman scan')", err)
	case errors.Is(err, transport.ErrSecurityUpgradeRequired):
		return fmt.Sprintf("%v (the device requires pairing; register a PIN via --pins)", err)
	case errors.Is(err, transport.ErrScanFailed):
		return fmt.Sprintf("%v (is the Bluetooth adapter powered on?)", err)
	case errors.Is(err, transport.ErrTimeout):
		return fmt.Sprintf("%v (the device may be out of range)", err)
	default:
		return err.Error()
	}
}
