package central

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// dispatcher runs application callbacks off the engine loop. Thunks are
// delivered in submission order by a single goroutine, so callbacks for
// one device arrive in FIFO order and are never re-entrant with the
// loop. With an executor configured the dispatcher hands the already
// serialized thunks over instead of calling them itself.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	closed   bool
	executor func(func())
	done     chan struct{}
	logger   *logrus.Logger
}

func newDispatcher(executor func(func()), logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		executor: executor,
		done:     make(chan struct{}),
		logger:   logger,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// enqueue hands one callback thunk over. Thunks arriving after close
// are dropped.
func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("Dropping callback enqueued after dispatcher close")
		return
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	d.mu.Unlock()
}

// run delivers queued thunks until close, drains the backlog, then
// exits.
func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		for _, fn := range batch {
			d.deliver(fn)
		}
		if closed {
			return
		}
	}
}

func (d *dispatcher) deliver(fn func()) {
	if d.executor != nil {
		d.executor(fn)
		return
	}
	fn()
}

// close stops intake. Callbacks already queued are still delivered;
// wait blocks until the last one is out.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
}

func (d *dispatcher) wait() {
	<-d.done
}
