package central

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/bleaddr"
	"github.com/srg/bleman/internal/transport"
)

// registration pairs a device with its pending auto-connect while the
// shared discovery scan runs on its behalf. The token correlates log
// lines across the registration's lifetime.
type registration struct {
	addr    string
	token   string
	created time.Time
}

// ConnectDirect requests an immediate connection to addr. The attempt
// is bounded by the transport's dial timeout and retried once on
// failure. A session that already has an outstanding attempt or a live
// link ignores the call.
func (m *Manager) ConnectDirect(addr string) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	return m.post(func() { m.connectDirect(canon) })
}

// ConnectAuto requests a connection that waits for the device to become
// reachable: a cached device gets a background, timeout-free dial, an
// uncached one parks on the shared discovery scan until it shows up.
func (m *Manager) ConnectAuto(addr string) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	return m.post(func() { m.connectAuto(canon) })
}

// Cancel withdraws addr's pending connect or disconnects its live
// link. A canceled attempt always reports exactly one disconnect, even
// when no transport-level connection ever existed.
func (m *Manager) Cancel(addr string) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	return m.post(func() { m.cancel(canon) })
}

// RemoveDevice cancels addr's pending work as per Cancel and drops the
// session once it reaches disconnected.
func (m *Manager) RemoveDevice(addr string) error {
	canon, err := bleaddr.Canonical(addr)
	if err != nil {
		return err
	}
	return m.post(func() { m.removeDevice(canon) })
}

// connectDirect runs on the loop.
func (m *Manager) connectDirect(addr string) {
	s := m.sessionFor(addr)
	if st := s.State(); st != StateDisconnected {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"state":  st,
		}).Debug("Ignoring connect request, attempt already outstanding")
		return
	}
	m.startConnect(s, false)
}

// connectAuto runs on the loop.
func (m *Manager) connectAuto(addr string) {
	s := m.sessionFor(addr)
	if st := s.State(); st != StateDisconnected {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"state":  st,
		}).Debug("Ignoring auto-connect request, attempt already outstanding")
		return
	}

	if m.transport.IsCached(addr) {
		m.startConnect(s, true)
		return
	}
	m.registerAutoconnect(s)
}

// startConnect issues the first transport connect of a request and
// moves the session to connecting.
func (m *Manager) startConnect(s *session, auto bool) {
	s.attempts = 1
	s.autoDial = auto
	s.setState(StateConnecting)
	if h := m.handlers.OnConnecting; h != nil {
		addr := s.addr
		m.dispatch(func() { h(addr) })
	}

	m.logger.WithFields(logrus.Fields{
		"device": s.addr,
		"auto":   auto,
	}).Info("Connecting")

	if err := m.transport.Connect(s.addr, auto); err != nil {
		m.connectAttemptFailed(s, err)
	}
}

// registerAutoconnect parks an uncached auto-connect on the shared
// discovery scan.
func (m *Manager) registerAutoconnect(s *session) {
	reg := &registration{addr: s.addr, token: uuid.NewString(), created: time.Now()}
	m.registrations.Set(s.addr, reg)
	s.attempts = 0
	s.autoDial = false
	s.setState(StateAwaitingDiscovery)
	if h := m.handlers.OnAwaitingDiscovery; h != nil {
		addr := s.addr
		m.dispatch(func() { h(addr) })
	}

	m.logger.WithFields(logrus.Fields{
		"device":       s.addr,
		"registration": reg.token,
	}).Info("Auto-connect waiting for discovery")

	m.ensureScanning()
}

// ensureScanning starts the shared discovery scan if registrations are
// pending and it is not already running.
func (m *Manager) ensureScanning() {
	if m.scanning || m.registrations.Len() == 0 {
		return
	}
	if err := m.transport.StartScan(); err != nil {
		m.handleScanFailed(err)
		return
	}
	m.scanning = true
	m.logger.WithField("pending", m.registrations.Len()).Info("Shared discovery scan started")
}

// stopScanIfIdle stops the shared scan once the last registration is
// gone.
func (m *Manager) stopScanIfIdle() {
	if !m.scanning || m.registrations.Len() > 0 {
		return
	}
	m.scanning = false
	if err := m.transport.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop discovery scan")
		return
	}
	m.logger.Info("Shared discovery scan stopped")
}

// handleScanResult filters one advertisement against the registration
// set. A match narrows the filter and starts that device's direct
// connect; the scan keeps running for the registrations that remain.
func (m *Manager) handleScanResult(adv transport.Advertisement) {
	addr, err := bleaddr.Canonical(adv.Addr())
	if err != nil {
		m.logger.WithField("address", adv.Addr()).Debug("Ignoring advertisement with malformed address")
		return
	}

	if s, ok := m.sessions.Get(addr); ok {
		s.setName(adv.LocalName())
	}

	reg, ok := m.registrations.Get(addr)
	if !ok {
		return
	}
	m.registrations.Delete(addr)

	m.logger.WithFields(logrus.Fields{
		"device":       addr,
		"registration": reg.token,
		"rssi":         adv.RSSI(),
		"waited":       time.Since(reg.created),
	}).Info("Awaited device discovered")

	m.stopScanIfIdle()
	m.startConnect(m.sessionFor(addr), false)
}

// handleScanFailed fails every parked auto-connect. There is no
// automatic scan retry.
func (m *Manager) handleScanFailed(cause error) {
	m.scanning = false
	m.logger.WithError(cause).Error("Discovery scan failed")

	if h := m.handlers.OnScanFailed; h != nil {
		m.dispatch(func() { h(cause) })
	}

	err := fmt.Errorf("%w: %v", transport.ErrScanFailed, cause)
	for m.registrations.Len() > 0 {
		pair := m.registrations.Oldest()
		m.registrations.Delete(pair.Key)
		if s, ok := m.sessions.Get(pair.Key); ok {
			m.connectFailedTerminal(s, err)
		}
	}
}

// connectAttemptFailed retries a failed attempt with identical
// parameters until the retry budget is spent, then reports the failure
// as terminal.
func (m *Manager) connectAttemptFailed(s *session, cause error) {
	if s.attempts <= m.cfg.ConnectRetries {
		s.attempts++
		m.logger.WithFields(logrus.Fields{
			"device":  s.addr,
			"attempt": s.attempts,
		}).WithError(cause).Info("Connect attempt failed, retrying")
		if err := m.transport.Connect(s.addr, s.autoDial); err != nil {
			m.connectAttemptFailed(s, err)
		}
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device":   s.addr,
		"attempts": s.attempts,
	}).WithError(cause).Warn("Connect failed terminally")

	terminal := error(transport.ErrConnectionFailed)
	if cause != nil {
		terminal = fmt.Errorf("%w: %v", transport.ErrConnectionFailed, cause)
	}
	m.connectFailedTerminal(s, terminal)
}

// connectFailedTerminal reverts the session to disconnected and reports
// the terminal failure exactly once.
func (m *Manager) connectFailedTerminal(s *session, err error) {
	s.attempts = 0
	s.autoDial = false
	s.setState(StateDisconnected)
	if h := m.handlers.OnConnectionFailed; h != nil {
		addr := s.addr
		m.dispatch(func() { h(addr, err) })
	}
	if s.removing {
		m.sessions.Del(s.addr)
		m.logger.WithField("device", s.addr).Debug("Session removed")
	}
}

// cancel runs on the loop.
func (m *Manager) cancel(addr string) {
	s, ok := m.sessions.Get(addr)
	if !ok {
		m.logger.WithField("device", addr).Debug("Cancel for unknown device")
		return
	}

	switch st := s.State(); st {
	case StateAwaitingDiscovery:
		m.registrations.Delete(addr)
		m.stopScanIfIdle()
		m.teardown(s, nil)

	case StateConnecting, StateConnected:
		s.setState(StateDisconnecting)
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"from":   st,
		}).Info("Disconnecting")
		if err := m.transport.Disconnect(addr); err != nil {
			m.logger.WithField("device", addr).WithError(err).Warn("Disconnect submission failed, forcing teardown")
			m.teardown(s, err)
		}

	case StateDisconnecting:
		m.logger.WithField("device", addr).Debug("Cancel while already disconnecting")

	default:
		m.logger.WithField("device", addr).Debug("Cancel with nothing to cancel")
	}
}

// removeDevice runs on the loop.
func (m *Manager) removeDevice(addr string) {
	s, ok := m.sessions.Get(addr)
	if !ok {
		return
	}
	if s.State() == StateDisconnected {
		m.sessions.Del(addr)
		m.logger.WithField("device", addr).Debug("Session removed")
		return
	}
	s.removing = true
	m.cancel(addr)
}

// handleConnectionState consumes a transport link transition.
func (m *Manager) handleConnectionState(addr string, state transport.ConnState, reason error) {
	s, ok := m.sessions.Get(addr)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"state":  state,
		}).Warn("Connection event for unknown device")
		return
	}

	switch state {
	case transport.StateConnected:
		m.handleConnected(s)
	case transport.StateDisconnected:
		m.handleDisconnected(s, reason)
	default:
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"state":  state,
		}).Debug("Ignoring transitional connection event")
	}
}

func (m *Manager) handleConnected(s *session) {
	switch s.State() {
	case StateDisconnecting:
		// A cancel crossed the connect confirmation; the cancel stands.
		m.logger.WithField("device", s.addr).Info("Connected while disconnecting, re-issuing disconnect")
		if err := m.transport.Disconnect(s.addr); err != nil {
			m.logger.WithField("device", s.addr).WithError(err).Warn("Disconnect submission failed, forcing teardown")
			m.teardown(s, nil)
		}
		return
	case StateDisconnected:
		// No request outstanding; the link is unwanted.
		m.logger.WithField("device", s.addr).Info("Unrequested connect confirmation, disconnecting")
		if err := m.transport.Disconnect(s.addr); err != nil {
			m.logger.WithField("device", s.addr).WithError(err).Warn("Disconnect submission failed")
		}
		return
	case StateConnected:
		m.logger.WithField("device", s.addr).Debug("Ignoring duplicate connect confirmation")
		return
	}

	s.attempts = 0
	s.autoDial = false
	if _, present := m.registrations.Delete(s.addr); present {
		m.stopScanIfIdle()
	}
	s.setState(StateConnected)

	m.logger.WithFields(logrus.Fields{
		"device": s.addr,
		"name":   s.name,
	}).Info("Device connected")

	if h := m.handlers.OnConnected; h != nil {
		addr := s.addr
		m.dispatch(func() { h(addr) })
	}
}

func (m *Manager) handleDisconnected(s *session, reason error) {
	switch st := s.State(); st {
	case StateConnecting:
		m.connectAttemptFailed(s, reason)
	case StateConnected:
		m.logger.WithField("device", s.addr).WithError(reason).Warn("Link lost")
		m.teardown(s, reason)
	case StateDisconnecting:
		m.teardown(s, nil)
	default:
		m.logger.WithFields(logrus.Fields{
			"device": s.addr,
			"state":  st,
		}).Debug("Ignoring disconnect event")
	}
}

// teardown moves s to disconnected, flushes its queue in FIFO order,
// resets link state, and reports the disconnect exactly once.
func (m *Manager) teardown(s *session, reason error) {
	s.setState(StateDisconnected)
	s.queue.FailAll(transport.ErrNotConnected)
	s.resetLink(m.cfg.MTU)
	s.attempts = 0
	s.autoDial = false

	if h := m.handlers.OnDisconnected; h != nil {
		addr := s.addr
		m.dispatch(func() { h(addr, reason) })
	}

	if s.removing {
		m.sessions.Del(s.addr)
		m.logger.WithField("device", s.addr).Debug("Session removed")
	}
}

// handleAdapterState reacts to adapter power transitions. Off forces
// every live session down without a disconnect handshake; on is
// reported but triggers no automatic reconnects.
func (m *Manager) handleAdapterState(state transport.AdapterState) {
	m.logger.WithField("adapter", state).Info("Adapter state changed")
	if h := m.handlers.OnAdapterState; h != nil {
		on := state == transport.AdapterOn
		m.dispatch(func() { h(on) })
	}
	if state != transport.AdapterOff {
		return
	}

	for m.registrations.Len() > 0 {
		m.registrations.Delete(m.registrations.Oldest().Key)
	}
	m.scanning = false

	reason := fmt.Errorf("%w: adapter powered off", transport.ErrNotConnected)
	m.sessions.Range(func(_ string, s *session) bool {
		if s.State() != StateDisconnected {
			m.teardown(s, reason)
		}
		return true
	})
}

func (m *Manager) handleBondState(addr string, state transport.BondState) {
	m.logger.WithFields(logrus.Fields{
		"device": addr,
		"bond":   state,
	}).Info("Bond state changed")
	if h := m.handlers.OnBondStateChanged; h != nil {
		bonded := state == transport.BondBonded
		m.dispatch(func() { h(addr, bonded) })
	}
}
