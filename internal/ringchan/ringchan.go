// Package ringchan provides a bounded channel with drop-oldest
// semantics, for event feeds where a slow consumer must never stall a
// producer.
package ringchan

import "sync/atomic"

// Metrics is a snapshot of a RingChannel's counters.
type Metrics struct {
	Sent      int64 // values accepted into the buffer
	Dropped   int64 // oldest values discarded to make room
	Processed int64 // values handed out via Receive/TryReceive
}

// RingChannel is a bounded channel-like buffer. When the buffer is
// full, Send discards the oldest value instead of blocking. Readers
// consume through C() like a normal channel, or through Receive for
// counted reads.
type RingChannel[T any] struct {
	ch chan T

	sent      atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C bypass the Processed
// counter.
func (rc *RingChannel[T]) C() <-chan T { return rc.ch }

// Send inserts v, discarding the oldest buffered value when full. It
// never blocks, even with competing producers.
func (rc *RingChannel[T]) Send(v T) {
	for {
		select {
		case rc.ch <- v:
			rc.sent.Add(1)
			return
		default:
		}
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
		default:
		}
	}
}

// TrySend inserts v only when room is available.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.sent.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.processed.Add(1)
	}
	return
}

// TryReceive performs a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.processed.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered values.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() { close(rc.ch) }

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Sent:      rc.sent.Load(),
		Dropped:   rc.dropped.Load(),
		Processed: rc.processed.Load(),
	}
}
