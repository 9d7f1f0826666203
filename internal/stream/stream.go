// Package stream adapts a stream of notification payloads into an
// io.ReadCloser, for peripherals that tunnel serial data over a
// notifying characteristic.
package stream

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// Reader buffers fed notification payloads and serves them through
// blocking Read calls. Feed never blocks: when the buffer is full the
// overflow is dropped and counted, so a slow consumer stalls nobody
// upstream. One goroutine feeds, one reads.
type Reader struct {
	buf    *ringbuffer.RingBuffer
	dataCh chan struct{}
	closed atomic.Bool

	fed     atomic.Uint64
	dropped atomic.Uint64
}

// NewReader creates a Reader buffering up to capacity bytes.
func NewReader(capacity int) *Reader {
	return &Reader{
		buf:    ringbuffer.New(capacity),
		dataCh: make(chan struct{}, 1),
	}
}

// Feed appends a payload to the buffer and returns the number of bytes
// accepted. Overflow is dropped, not blocked on; Feed after Close is a
// no-op.
func (r *Reader) Feed(p []byte) int {
	if r.closed.Load() || len(p) == 0 {
		return 0
	}

	// smallnest/ringbuffer reports partial writes via ErrIsFull with
	// the count of bytes that did fit.
	written, err := r.buf.Write(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		r.dropped.Add(uint64(len(p)))
		return 0
	}
	if written < len(p) {
		r.dropped.Add(uint64(len(p) - written))
	}
	r.fed.Add(uint64(written))

	select {
	case r.dataCh <- struct{}{}:
	default:
	}
	return written
}

// Read blocks until data is available, the Reader is closed, or the
// buffer is drained after Close (then io.EOF).
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := r.buf.TryRead(p)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
		if r.closed.Load() {
			return 0, io.EOF
		}
		<-r.dataCh
	}
}

// Close stops the stream. Blocked and subsequent reads drain what is
// buffered and then return io.EOF. The wake channel stays open so a
// racing Feed can never panic on it.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	select {
	case r.dataCh <- struct{}{}:
	default:
	}
	return nil
}

// Fed returns the total bytes accepted into the buffer.
func (r *Reader) Fed() uint64 { return r.fed.Load() }

// Dropped returns the total bytes discarded because the buffer was full.
func (r *Reader) Dropped() uint64 { return r.dropped.Load() }
