// Package queue implements the per-session pending operation queue.
//
// Operations enter at the tail and leave from the head, one in flight
// at a time. The queue never touches the transport or the application
// directly: the owner wires it up through Hooks and calls every method
// from its own goroutine. Nothing here locks.
package queue

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/bleman/internal/transport"
)

// Op is one pending attribute operation. Only the fields meaningful for
// the Kind are set. Seq is assigned at enqueue and increases
// monotonically per queue; it exists for log correlation only and never
// drives ordering.
type Op struct {
	Kind         transport.OpKind
	Handle       uint16
	Value        []byte
	WithResponse bool
	Enable       bool
	MTU          int
	TxPHY        transport.PHY
	RxPHY        transport.PHY
	PHYOpts      transport.PHYOptions
	Priority     transport.ConnectionPriority
	Seq          uint64

	securityRetries int
}

// NewRead builds a read operation for the handle.
func NewRead(handle uint16) *Op {
	return &Op{Kind: transport.OpRead, Handle: handle}
}

// NewWrite builds a write operation carrying the payload.
func NewWrite(handle uint16, value []byte, withResponse bool) *Op {
	return &Op{Kind: transport.OpWrite, Handle: handle, Value: value, WithResponse: withResponse}
}

// NewSetNotify builds a subscription state change for the handle.
func NewSetNotify(handle uint16, enable bool) *Op {
	return &Op{Kind: transport.OpSetNotify, Handle: handle, Enable: enable}
}

// NewReadRSSI builds a signal strength poll.
func NewReadRSSI() *Op {
	return &Op{Kind: transport.OpReadRSSI}
}

// NewRequestMTU builds an MTU exchange request.
func NewRequestMTU(mtu int) *Op {
	return &Op{Kind: transport.OpRequestMTU, MTU: mtu}
}

// NewSetPHY builds a PHY change request.
func NewSetPHY(tx, rx transport.PHY, opts transport.PHYOptions) *Op {
	return &Op{Kind: transport.OpSetPHY, TxPHY: tx, RxPHY: rx, PHYOpts: opts}
}

// NewReadPHY builds a PHY read request.
func NewReadPHY() *Op {
	return &Op{Kind: transport.OpReadPHY}
}

// NewRequestPriority builds a connection parameter request.
func NewRequestPriority(prio transport.ConnectionPriority) *Op {
	return &Op{Kind: transport.OpRequestPriority, Priority: prio}
}

// Hooks connect the queue to its owner. Send submits the operation to
// the transport; a non-nil return fails the operation immediately.
// Complete surfaces a terminal outcome, exactly once per operation.
// SecurityUpgrade asks the orchestrator to raise link security before
// the operation's single retry.
type Hooks struct {
	Send            func(*Op) error
	Complete        func(*Op, transport.OpResult)
	SecurityUpgrade func(*Op)
}

// Queue is one session's FIFO of pending operations. Not safe for
// concurrent use; the owning loop serializes all calls.
type Queue struct {
	addr            string
	ops             []*Op
	inFlight        bool
	nextSeq         uint64
	processed       uint64
	securityRetries int
	hooks           Hooks
	logger          *logrus.Logger
}

// New creates a queue for the device at addr. securityRetries is the
// number of security-upgrade retries granted per operation.
func New(addr string, securityRetries int, hooks Hooks, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		addr:            addr,
		securityRetries: securityRetries,
		hooks:           hooks,
		logger:          logger,
	}
}

// Enqueue appends op at the tail and dispatches it right away when
// nothing is in flight.
func (q *Queue) Enqueue(op *Op) {
	q.nextSeq++
	op.Seq = q.nextSeq
	q.ops = append(q.ops, op)

	q.logger.WithFields(logrus.Fields{
		"device":    q.addr,
		"op":        op.Kind,
		"seq":       op.Seq,
		"queue_len": len(q.ops),
	}).Debug("Operation enqueued")

	q.dispatchHead()
}

// HandleResult consumes the outcome of the in-flight operation. A
// result with nothing in flight, or for a different operation kind than
// the one in flight, is logged and dropped.
func (q *Queue) HandleResult(res transport.OpResult) {
	if !q.inFlight {
		q.logger.WithFields(logrus.Fields{
			"device": q.addr,
			"op":     res.Kind,
		}).Warn("Ignoring operation result with nothing in flight")
		return
	}

	op := q.ops[0]
	if res.Kind != op.Kind {
		q.logger.WithFields(logrus.Fields{
			"device":    q.addr,
			"op":        res.Kind,
			"in_flight": op.Kind,
			"seq":       op.Seq,
		}).Warn("Ignoring operation result for a different operation kind")
		return
	}

	if transport.IsFailureKind(res.Err, transport.SecurityUpgradeRequired) && op.securityRetries < q.securityRetries {
		op.securityRetries++
		q.logger.WithFields(logrus.Fields{
			"device": q.addr,
			"op":     op.Kind,
			"seq":    op.Seq,
			"retry":  op.securityRetries,
		}).Info("Operation needs link security upgrade, retrying once")

		if q.hooks.SecurityUpgrade != nil {
			q.hooks.SecurityUpgrade(op)
		}
		// The operation stays at the head and goes out again.
		if err := q.hooks.Send(op); err != nil {
			q.completeHead(transport.OpResult{Kind: op.Kind, Handle: op.Handle, Err: err})
			q.dispatchHead()
		}
		return
	}

	q.completeHead(res)
	q.dispatchHead()
}

// FailAll completes every remaining operation, the in-flight one
// included, with err in FIFO order. Used on disconnect and shutdown.
func (q *Queue) FailAll(err error) {
	if len(q.ops) == 0 {
		q.inFlight = false
		return
	}

	q.logger.WithFields(logrus.Fields{
		"device":  q.addr,
		"dropped": len(q.ops),
	}).Debug("Failing all queued operations")

	failed := q.ops
	q.ops = nil
	q.inFlight = false
	for _, op := range failed {
		q.processed++
		if q.hooks.Complete != nil {
			q.hooks.Complete(op, transport.OpResult{Kind: op.Kind, Handle: op.Handle, Err: err})
		}
	}
}

// Len returns the number of queued operations, the in-flight one
// included.
func (q *Queue) Len() int { return len(q.ops) }

// InFlight returns the operation currently at the transport, or nil.
func (q *Queue) InFlight() *Op {
	if !q.inFlight {
		return nil
	}
	return q.ops[0]
}

// Processed returns how many operations have completed, successfully or
// not, over the queue's lifetime.
func (q *Queue) Processed() uint64 { return q.processed }

// completeHead removes the head operation and surfaces its outcome.
func (q *Queue) completeHead(res transport.OpResult) {
	op := q.ops[0]
	q.ops = q.ops[1:]
	q.inFlight = false
	q.processed++

	q.logger.WithFields(logrus.Fields{
		"device":    q.addr,
		"op":        op.Kind,
		"seq":       op.Seq,
		"processed": q.processed,
		"err":       res.Err,
	}).Debug("Operation completed")

	if q.hooks.Complete != nil {
		q.hooks.Complete(op, res)
	}
}

// dispatchHead pushes the head operation to the transport. An immediate
// Send failure completes the operation and moves on to the next.
func (q *Queue) dispatchHead() {
	for !q.inFlight && len(q.ops) > 0 {
		op := q.ops[0]
		q.inFlight = true
		err := q.hooks.Send(op)
		if err == nil {
			q.logger.WithFields(logrus.Fields{
				"device": q.addr,
				"op":     op.Kind,
				"seq":    op.Seq,
			}).Debug("Operation dispatched")
			return
		}

		q.logger.WithFields(logrus.Fields{
			"device": q.addr,
			"op":     op.Kind,
			"seq":    op.Seq,
		}).WithError(err).Warn("Operation submission failed")
		q.completeHead(transport.OpResult{Kind: op.Kind, Handle: op.Handle, Err: err})
	}
}
