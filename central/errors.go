package central

import (
	"fmt"

	"github.com/srg/bleman/internal/transport"
)

// StateError reports an API call that is illegal in the session's
// current state. It matches transport.ErrNotConnected under errors.Is
// when the missing link is the cause, so callers can test for the
// engine-wide sentinel without knowing which layer produced it.
type StateError struct {
	Addr  string
	State State
	Msg   string
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: illegal in state %s", e.Addr, e.State)
	}
	return fmt.Sprintf("%s: %s (state %s)", e.Addr, e.Msg, e.State)
}

// Is allows errors.Is comparisons against transport.ErrNotConnected for
// every state other than connected.
func (e *StateError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == transport.ErrNotConnected {
		return e.State != StateConnected
	}
	return false
}
