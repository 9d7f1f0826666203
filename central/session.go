package central

import (
	"sync/atomic"

	"github.com/srg/bleman/internal/queue"
	"github.com/srg/bleman/internal/transfer"
	"github.com/srg/bleman/internal/transport"
)

// session is one device's engine-side state. The manager loop owns
// every field except state, which is stored atomically so snapshot
// reads (ConnectedDevices, SessionState) never touch the loop.
type session struct {
	addr  string
	state atomic.Int32

	// Sticky display name: once populated from any source it only ever
	// changes to another non-empty name.
	name string

	queue     *queue.Queue
	notifying map[uint16]struct{}
	inbound   *transfer.Store

	mtu   int
	txPHY transport.PHY
	rxPHY transport.PHY

	attempts int  // transport connects issued for the current request
	autoDial bool // current attempt is the background auto dial
	removing bool // drop from the table once disconnected
}

func newSession(addr string, mtu int, q *queue.Queue) *session {
	s := &session{
		addr:      addr,
		queue:     q,
		notifying: make(map[uint16]struct{}),
		inbound:   transfer.NewStore(),
		mtu:       mtu,
		txPHY:     transport.PHY1M,
		rxPHY:     transport.PHY1M,
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

// setName keeps the last known non-empty name.
func (s *session) setName(name string) {
	if name != "" {
		s.name = name
	}
}

// resetLink clears everything the link carried: the notifying set, the
// negotiated MTU and PHY, and any half-done inbound transfers. The
// queue is flushed separately so completion ordering stays with the
// caller.
func (s *session) resetLink(defaultMTU int) {
	s.notifying = make(map[uint16]struct{})
	s.mtu = defaultMTU
	s.txPHY = transport.PHY1M
	s.rxPHY = transport.PHY1M
	s.inbound.Clear()
}
