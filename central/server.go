package central

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/transfer"
	"github.com/srg/bleman/internal/transport"
)

// Server role: attributes this process hosts for remote centrals.
// Committed values live in a manager-wide table; reads are served in
// MTU-sized chunks, long writes reassemble through the session's
// inbound transfer store and commit atomically on execute.

// SetLocalValue stores the committed value for a locally hosted handle.
// Safe from any goroutine.
func (m *Manager) SetLocalValue(handle uint16, value []byte) {
	m.locals.Set(handle, clone(value))
}

// LocalValue returns a copy of the committed value for handle.
func (m *Manager) LocalValue(handle uint16) ([]byte, bool) {
	v, ok := m.locals.Get(handle)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// handleReadRequest serves one chunk of a hosted attribute. An offset
// exactly at the end serves an empty chunk, which is how a remote
// long-read learns it has everything; an offset past the end is an
// offset error.
func (m *Manager) handleReadRequest(addr string, requestID uint32, handle uint16, offset int) {
	value, ok := m.locals.Get(handle)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"handle": handle,
		}).Debug("Read request for a handle not hosted here")
		m.respond(addr, requestID, transport.StatusInvalidHandle, nil)
		return
	}

	chunk, err := transfer.Chunk(value, offset, m.serveChunkSize(addr))
	if err != nil {
		m.respond(addr, requestID, transport.StatusInvalidOffset, nil)
		return
	}
	m.respond(addr, requestID, transport.StatusSuccess, chunk)
}

// handleWriteRequest commits a plain write atomically or feeds a
// prepared chunk into the session's reassembly store. An out-of-
// sequence prepared offset aborts that handle's transfer and leaves
// the committed value untouched.
func (m *Manager) handleWriteRequest(addr string, requestID uint32, handle uint16, offset int, value []byte, prepared bool) {
	if !prepared {
		if offset != 0 {
			m.respond(addr, requestID, transport.StatusInvalidOffset, nil)
			return
		}
		m.commitLocal(addr, handle, value)
		m.respond(addr, requestID, transport.StatusSuccess, nil)
		return
	}

	s := m.sessionFor(addr)
	if err := s.inbound.Prepare(handle, offset, value); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device": addr,
			"handle": handle,
			"offset": offset,
		}).WithError(err).Warn("Rejecting out-of-sequence prepared write")
		m.respond(addr, requestID, transport.StatusInvalidOffset, nil)
		return
	}
	m.respond(addr, requestID, transport.StatusSuccess, value)
}

// handleExecuteWrite commits or cancels everything the peer prepared.
// Commit reports one local write per handle in ascending handle order.
func (m *Manager) handleExecuteWrite(addr string, requestID uint32, commit bool) {
	s, ok := m.sessions.Get(addr)
	if !ok {
		// Execute with nothing prepared succeeds by definition.
		m.respond(addr, requestID, transport.StatusSuccess, nil)
		return
	}

	committed := s.inbound.Execute(commit)
	for _, c := range committed {
		m.commitLocal(addr, c.Handle, c.Value)
	}

	m.logger.WithFields(logrus.Fields{
		"device":  addr,
		"commit":  commit,
		"handles": len(committed),
	}).Debug("Prepared writes executed")
	m.respond(addr, requestID, transport.StatusSuccess, nil)
}

// commitLocal atomically replaces the handle's committed value and
// reports the write to the application.
func (m *Manager) commitLocal(addr string, handle uint16, value []byte) {
	m.locals.Set(handle, clone(value))
	m.logger.WithFields(logrus.Fields{
		"device": addr,
		"handle": handle,
		"len":    len(value),
	}).Debug("Local attribute committed")

	if h := m.handlers.OnLocalWrite; h != nil {
		m.dispatch(func() { h(addr, handle, value) })
	}
}

// serveChunkSize is how many bytes one read response can carry for the
// peer: the negotiated MTU less the response opcode byte.
func (m *Manager) serveChunkSize(addr string) int {
	mtu := m.cfg.MTU
	if s, ok := m.sessions.Get(addr); ok {
		mtu = s.mtu
	}
	return mtu - 1
}

func (m *Manager) respond(addr string, requestID uint32, status transport.Status, value []byte) {
	if err := m.transport.Respond(addr, requestID, status, value); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device":  addr,
			"request": requestID,
			"status":  status,
		}).WithError(err).Warn("Failed to respond to attribute request")
	}
}
