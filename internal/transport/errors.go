package transport

import (
	"errors"
	"fmt"
)

// FailureKind classifies the engine-level failures an operation or
// connection attempt can end with.
type FailureKind string

const (
	NotConnected            FailureKind = "not_connected"
	SecurityUpgradeRequired FailureKind = "security_upgrade_required"
	ConnectionFailed        FailureKind = "connection_failed"
	ScanFailed              FailureKind = "scan_failed"
	Closed                  FailureKind = "closed"
)

// OpError represents a failed operation or connection outcome.
type OpError struct {
	Kind FailureKind
	Msg  string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare OpError values by Kind.
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for the failure kinds.
var (
	ErrNotConnected            = &OpError{Kind: NotConnected}
	ErrSecurityUpgradeRequired = &OpError{Kind: SecurityUpgradeRequired}
	ErrConnectionFailed        = &OpError{Kind: ConnectionFailed}
	ErrScanFailed              = &OpError{Kind: ScanFailed}
	ErrClosed                  = &OpError{Kind: Closed}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsFailureKind reports whether err is an OpError with the given kind.
func IsFailureKind(err error, kind FailureKind) bool {
	var oerr *OpError
	if errors.As(err, &oerr) {
		return oerr.Kind == kind
	}
	return false
}
