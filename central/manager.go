// Package central implements the BLE session engine: a per-device
// connection orchestrator, per-session serialized command queues, and
// asynchronous completion dispatch over a pluggable transport.
//
// One Manager owns any number of device sessions concurrently:
//   - Direct and auto (discovery-driven) connection requests
//   - Per-device FIFO attribute operations with a one-shot retry after
//     a link security upgrade
//   - A single shared discovery scan multiplexed across pending
//     auto-connects
//   - Server-role attribute hosting with long-write reassembly
//
// All engine state is owned by one loop goroutine fed through an
// unbounded mailbox; application handlers run on a separate dispatcher
// so they never block the engine and may call back into it freely.
package central

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleman/internal/bleaddr"
	"github.com/srg/bleman/internal/groutine"
	"github.com/srg/bleman/internal/queue"
	"github.com/srg/bleman/internal/transport"
)

// Manager is the connection orchestrator. Construct with New, register
// handlers with SetHandlers, bring it up with Start, and shut it down
// with Close. All other methods are safe from any goroutine and
// non-blocking: they validate, hand work to the engine loop, and
// return.
type Manager struct {
	cfg    Config
	logger *logrus.Logger
	id     string

	mailbox    *mailbox
	dispatcher *dispatcher

	sessions *hashmap.Map[string, *session]
	locals   *hashmap.Map[uint16, []byte]
	pins     *PinStore

	// Loop-owned: the pending auto-connect registrations in insertion
	// order, and whether the shared discovery scan is running.
	registrations *orderedmap.OrderedMap[string, *registration]
	scanning      bool

	handlers  Handlers
	transport transport.Transport

	started  atomic.Bool
	closed   atomic.Bool
	loopDone chan struct{}
}

// New creates a Manager with cfg (zero fields take their defaults). A
// nil logger falls back to a default logrus instance.
func New(cfg Config, logger *logrus.Logger) *Manager {
	defaults.SetDefaults(&cfg)
	if logger == nil {
		logger = logrus.New()
	}

	m := &Manager{
		cfg:           cfg,
		logger:        logger,
		id:            uuid.NewString(),
		sessions:      hashmap.New[string, *session](),
		locals:        hashmap.New[uint16, []byte](),
		pins:          NewPinStore(),
		registrations: orderedmap.New[string, *registration](),
		loopDone:      make(chan struct{}),
	}
	m.mailbox = newMailbox(cfg.MailboxWarn, logger)
	m.dispatcher = newDispatcher(cfg.Executor, logger)
	return m
}

// SetHandlers registers the application callbacks. Must be called
// before Start; handlers are not read until the engine runs.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers = h
}

// Start creates the transport through factory and launches the engine.
func (m *Manager) Start(factory transport.Factory) error {
	if m.closed.Load() {
		return transport.ErrClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("session engine already started")
	}

	tr, err := factory(&eventSink{m: m}, m.logger)
	if err != nil {
		m.started.Store(false)
		return fmt.Errorf("failed to create transport: %w", err)
	}
	m.transport = tr

	groutine.Go(context.Background(), "bleman-engine", func(context.Context) { m.run() })
	groutine.Go(context.Background(), "bleman-dispatch", func(context.Context) { m.dispatcher.run() })
	m.logger.WithField("engine", m.id).Info("Session engine started")
	return nil
}

// Close stops the engine. Every queued operation fails with ErrClosed
// and callbacks already earned are still delivered before Close
// returns. Must not be called from inside a handler.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mailbox.close()
	if !m.started.Load() {
		return nil
	}
	<-m.loopDone
	m.dispatcher.close()
	m.dispatcher.wait()
	m.logger.WithField("engine", m.id).Info("Session engine closed")
	return nil
}

// run is the engine loop. It alone mutates sessions, queues, and
// registrations.
func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		batch, open := m.mailbox.take()
		for _, fn := range batch {
			fn()
		}
		if !open {
			m.shutdown()
			return
		}
	}
}

// shutdown fails outstanding work and releases the transport. Runs on
// the loop after the mailbox closed.
func (m *Manager) shutdown() {
	m.sessions.Range(func(_ string, s *session) bool {
		s.setState(StateDisconnected)
		s.queue.FailAll(transport.ErrClosed)
		return true
	})
	if err := m.transport.Close(); err != nil {
		m.logger.WithError(err).Warn("Transport close reported an error")
	}
}

// post hands fn to the engine loop.
func (m *Manager) post(fn func()) error {
	if !m.mailbox.post(fn) {
		return transport.ErrClosed
	}
	return nil
}

// dispatch hands one application callback to the dispatcher.
func (m *Manager) dispatch(fn func()) {
	m.dispatcher.enqueue(fn)
}

// Pins returns the pairing PIN registry consulted when a bond needs a
// passkey.
func (m *Manager) Pins() *PinStore {
	return m.pins
}

// ----------------------------
// Attribute operations
// ----------------------------

// Read requests the current value of handle.
func (m *Manager) Read(addr string, handle uint16) error {
	return m.submit(addr, queue.NewRead(handle))
}

// Write sends value to handle. With withResponse false the write is
// unacknowledged and completes as soon as the transport accepts it.
func (m *Manager) Write(addr string, handle uint16, value []byte, withResponse bool) error {
	return m.submit(addr, queue.NewWrite(handle, value, withResponse))
}

// SetNotify enables or disables value notifications for handle.
func (m *Manager) SetNotify(addr string, handle uint16, enable bool) error {
	return m.submit(addr, queue.NewSetNotify(handle, enable))
}

// ReadRSSI polls the link signal strength.
func (m *Manager) ReadRSSI(addr string) error {
	return m.submit(addr, queue.NewReadRSSI())
}

// RequestMTU starts an MTU exchange. The granted value arrives through
// OnMTU and resizes the session's attribute payloads.
func (m *Manager) RequestMTU(addr string, mtu int) error {
	return m.submit(addr, queue.NewRequestMTU(mtu))
}

// SetPHY requests new TX/RX physical layers.
func (m *Manager) SetPHY(addr string, tx, rx transport.PHY, opts transport.PHYOptions) error {
	return m.submit(addr, queue.NewSetPHY(tx, rx, opts))
}

// ReadPHY reads the current TX/RX physical layers.
func (m *Manager) ReadPHY(addr string) error {
	return m.submit(addr, queue.NewReadPHY())
}

// RequestConnectionPriority requests a connection parameter profile.
func (m *Manager) RequestConnectionPriority(addr string, prio transport.ConnectionPriority) error {
	return m.submit(addr, queue.NewRequestPriority(prio))
}

// submit validates the address and hands the operation to the loop. A
// device that is not connected completes the operation immediately with
// a not-connected failure through its regular callback.
func (m *Manager) submit(addr string, op *queue.Op) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	return m.post(func() { m.enqueueOp(canon, op) })
}

// enqueueOp runs on the loop: resolve the session and queue the
// operation, or reject it right away.
func (m *Manager) enqueueOp(addr string, op *queue.Op) {
	s, ok := m.sessions.Get(addr)
	if !ok || s.State() != StateConnected {
		st := StateDisconnected
		if ok {
			st = s.State()
		}
		err := &StateError{Addr: addr, State: st, Msg: "device not connected"}
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"op":     op.Kind,
			"state":  st,
		}).Debug("Rejecting operation without a connected session")
		m.dispatchOpResult(addr, op, transport.OpResult{Kind: op.Kind, Handle: op.Handle, Err: err})
		return
	}
	s.queue.Enqueue(op)
}

// sessionFor returns the session for addr, creating it on first use.
// Loop only.
func (m *Manager) sessionFor(addr string) *session {
	if s, ok := m.sessions.Get(addr); ok {
		return s
	}

	var s *session
	q := queue.New(addr, m.cfg.SecurityRetries, queue.Hooks{
		Send:            func(op *queue.Op) error { return m.sendOp(s, op) },
		Complete:        func(op *queue.Op, res transport.OpResult) { m.opCompleted(s, op, res) },
		SecurityUpgrade: func(op *queue.Op) { m.securityUpgrade(s, op) },
	}, m.logger)
	s = newSession(addr, m.cfg.MTU, q)
	m.sessions.Set(addr, s)
	m.logger.WithField("device", addr).Debug("Session created")
	return s
}

// sendOp submits one operation to the transport.
func (m *Manager) sendOp(s *session, op *queue.Op) error {
	switch op.Kind {
	case transport.OpRead:
		return m.transport.ReadAttribute(s.addr, op.Handle)
	case transport.OpWrite:
		return m.transport.WriteAttribute(s.addr, op.Handle, op.Value, op.WithResponse)
	case transport.OpSetNotify:
		return m.transport.SetNotify(s.addr, op.Handle, op.Enable)
	case transport.OpReadRSSI:
		return m.transport.ReadRSSI(s.addr)
	case transport.OpRequestMTU:
		return m.transport.RequestMTU(s.addr, op.MTU)
	case transport.OpSetPHY:
		return m.transport.SetPHY(s.addr, op.TxPHY, op.RxPHY, op.PHYOpts)
	case transport.OpReadPHY:
		return m.transport.ReadPHY(s.addr)
	case transport.OpRequestPriority:
		return m.transport.RequestConnectionPriority(s.addr, op.Priority)
	default:
		return fmt.Errorf("%w: operation %s", transport.ErrUnsupported, op.Kind)
	}
}

// securityUpgrade asks the transport to raise link security before the
// queue re-sends the rejected operation.
func (m *Manager) securityUpgrade(s *session, op *queue.Op) {
	m.logger.WithFields(logrus.Fields{
		"device": s.addr,
		"op":     op.Kind,
		"seq":    op.Seq,
	}).Info("Requesting link security upgrade")
	if err := m.transport.RequestSecurityUpgrade(s.addr); err != nil {
		m.logger.WithField("device", s.addr).WithError(err).Warn("Security upgrade request failed")
	}
}

// opCompleted is the queue's Complete hook: fold the outcome into
// session bookkeeping, then report it.
func (m *Manager) opCompleted(s *session, op *queue.Op, res transport.OpResult) {
	if res.Err == nil {
		switch op.Kind {
		case transport.OpSetNotify:
			if op.Enable {
				s.notifying[op.Handle] = struct{}{}
			} else {
				delete(s.notifying, op.Handle)
			}
		case transport.OpRequestMTU:
			if res.MTU > 0 {
				s.mtu = res.MTU
			}
		case transport.OpSetPHY, transport.OpReadPHY:
			if res.TxPHY != 0 {
				s.txPHY = res.TxPHY
			}
			if res.RxPHY != 0 {
				s.rxPHY = res.RxPHY
			}
		}
	}
	m.dispatchOpResult(s.addr, op, res)
}

// dispatchOpResult routes one terminal operation outcome to its
// handler.
func (m *Manager) dispatchOpResult(addr string, op *queue.Op, res transport.OpResult) {
	h := m.handlers
	switch op.Kind {
	case transport.OpRead:
		if h.OnRead != nil {
			m.dispatch(func() { h.OnRead(addr, op.Handle, res.Value, res.Err) })
		}
	case transport.OpWrite:
		if h.OnWrite != nil {
			m.dispatch(func() { h.OnWrite(addr, op.Handle, res.Err) })
		}
	case transport.OpSetNotify:
		if h.OnNotifyState != nil {
			m.dispatch(func() { h.OnNotifyState(addr, op.Handle, op.Enable, res.Err) })
		}
	case transport.OpReadRSSI:
		if h.OnRSSI != nil {
			m.dispatch(func() { h.OnRSSI(addr, res.RSSI, res.Err) })
		}
	case transport.OpRequestMTU:
		if h.OnMTU != nil {
			m.dispatch(func() { h.OnMTU(addr, res.MTU, res.Err) })
		}
	case transport.OpSetPHY, transport.OpReadPHY:
		if h.OnPHY != nil {
			m.dispatch(func() { h.OnPHY(addr, res.TxPHY, res.RxPHY, res.Err) })
		}
	case transport.OpRequestPriority:
		if h.OnPriorityUpdated != nil {
			m.dispatch(func() { h.OnPriorityUpdated(addr, res.Err) })
		}
	}
}

// handleOperationComplete feeds a transport result into the session's
// queue.
func (m *Manager) handleOperationComplete(addr string, res transport.OpResult) {
	s, ok := m.sessions.Get(addr)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"op":     res.Kind,
		}).Warn("Operation result for unknown device")
		return
	}
	s.queue.HandleResult(res)
}

// handleNotification reports an unsolicited value update. No queue
// involvement: notifications bypass the command path entirely.
func (m *Manager) handleNotification(addr string, handle uint16, value []byte) {
	if s, ok := m.sessions.Get(addr); ok {
		if _, subscribed := s.notifying[handle]; !subscribed {
			m.logger.WithFields(logrus.Fields{
				"device": addr,
				"handle": handle,
			}).Debug("Notification for handle without a confirmed subscription")
		}
	}
	if h := m.handlers.OnNotification; h != nil {
		m.dispatch(func() { h(addr, handle, value) })
	}
}

// ----------------------------
// Snapshots
// ----------------------------

// ConnectedDevices returns the canonical addresses of every session in
// the connected state, sorted. The snapshot reflects orchestrator
// state, which can lead the transport during teardown.
func (m *Manager) ConnectedDevices() []string {
	out := make([]string, 0, m.sessions.Len())
	m.sessions.Range(func(addr string, s *session) bool {
		if s.State() == StateConnected {
			out = append(out, addr)
		}
		return true
	})
	sort.Strings(out)
	return out
}

// SessionState reports the connection state of addr's session, false
// when no session exists.
func (m *Manager) SessionState(addr string) (State, bool) {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return StateDisconnected, false
	}
	s, ok := m.sessions.Get(canon)
	if !ok {
		return StateDisconnected, false
	}
	return s.State(), true
}

// MailboxDepth reports the engine loop backlog. Diagnostics only.
func (m *Manager) MailboxDepth() int {
	return m.mailbox.depth()
}
