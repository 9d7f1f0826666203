package central

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// mailbox is the engine loop's unbounded inbox. Posting never blocks
// and never drops; the loop drains it in batches. Unbounded is the
// point: transport callbacks and API calls must always hand off
// immediately, backpressure is surfaced through the warn threshold
// instead of blocking.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
	warn   int
	logger *logrus.Logger
}

func newMailbox(warn int, logger *logrus.Logger) *mailbox {
	mb := &mailbox{warn: warn, logger: logger}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// post queues fn for the loop. Returns false once the mailbox is
// closed; the caller decides whether that is an error.
func (mb *mailbox) post(fn func()) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.items = append(mb.items, fn)
	if mb.warn > 0 && len(mb.items) == mb.warn {
		mb.logger.WithField("depth", len(mb.items)).Warn("Engine mailbox backlog crossed warn threshold")
	}
	mb.cond.Signal()
	mb.mu.Unlock()
	return true
}

// take blocks until work arrives or the mailbox closes. open is false
// once closed; the returned batch still holds whatever was queued
// before the close so the loop can drain it.
func (mb *mailbox) take() (batch []func(), open bool) {
	mb.mu.Lock()
	for len(mb.items) == 0 && !mb.closed {
		mb.cond.Wait()
	}
	batch = mb.items
	mb.items = nil
	open = !mb.closed
	mb.mu.Unlock()
	return batch, open
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	if !mb.closed {
		mb.closed = true
		mb.cond.Broadcast()
	}
	mb.mu.Unlock()
}

func (mb *mailbox) depth() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}
