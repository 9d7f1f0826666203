package central

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// NotificationRecord is one captured notification.
type NotificationRecord struct {
	Addr   string
	Handle uint16
	Value  []byte
	TsUs   int64
	Seq    uint64
}

// CollectorMetrics tracks a NotificationCollector lock-free. All
// fields use atomic operations.
type CollectorMetrics struct {
	Captured    int64 // notifications accepted into the ring
	Overwritten int64 // records lost to ring overflow
	Drained     int64 // records handed to a consumer
	Errors      int64 // ring faults
}

func (m *CollectorMetrics) incrementCaptured()                 { atomic.AddInt64(&m.Captured, 1) }
func (m *CollectorMetrics) incrementOverwritten(count uint32)  { atomic.AddInt64(&m.Overwritten, int64(count)) }
func (m *CollectorMetrics) incrementDrained()                  { atomic.AddInt64(&m.Drained, 1) }
func (m *CollectorMetrics) incrementErrors()                   { atomic.AddInt64(&m.Errors, 1) }
func (m *CollectorMetrics) GetCaptured() int64                 { return atomic.LoadInt64(&m.Captured) }
func (m *CollectorMetrics) GetOverwritten() int64              { return atomic.LoadInt64(&m.Overwritten) }
func (m *CollectorMetrics) GetDrained() int64                  { return atomic.LoadInt64(&m.Drained) }
func (m *CollectorMetrics) GetErrors() int64                   { return atomic.LoadInt64(&m.Errors) }

// Reset zeroes every counter.
func (m *CollectorMetrics) Reset() {
	atomic.StoreInt64(&m.Captured, 0)
	atomic.StoreInt64(&m.Overwritten, 0)
	atomic.StoreInt64(&m.Drained, 0)
	atomic.StoreInt64(&m.Errors, 0)
}

// MaxCollectorCapacity caps the ring size to guard against accidental
// misconfiguration.
const MaxCollectorCapacity uint32 = 1024 * 1024

// NotificationCollector gathers notifications into a bounded ring that
// overwrites its oldest records under overflow, so a slow consumer
// costs memory-bounded history instead of engine backpressure. Capture
// plugs straight into Handlers.OnNotification; consumers drain with
// Drain. All methods are safe for concurrent use.
type NotificationCollector struct {
	buffer  mpmc.RichOverlappedRingBuffer[NotificationRecord]
	metrics CollectorMetrics
	seq     uint64
	onError func(error)
}

// NewNotificationCollector creates a collector with the given ring
// capacity. onError is called on unexpected ring faults; nil panics.
func NewNotificationCollector(capacity uint32, onError func(error)) (*NotificationCollector, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("collector capacity must be > 0")
	}
	if capacity > MaxCollectorCapacity {
		return nil, fmt.Errorf("collector capacity %d exceeds maximum %d", capacity, MaxCollectorCapacity)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("NotificationCollector: %v", err))
		}
	}

	return &NotificationCollector{
		buffer:  mpmc.NewOverlappedRingBuffer[NotificationRecord](capacity),
		onError: onError,
	}, nil
}

// Capture records one notification. Wire it directly as the
// OnNotification handler:
//
//	handlers.OnNotification = collector.Capture
func (c *NotificationCollector) Capture(addr string, handle uint16, value []byte) {
	rec := NotificationRecord{
		Addr:   addr,
		Handle: handle,
		Value:  append([]byte(nil), value...),
		TsUs:   time.Now().UnixMicro(),
		Seq:    atomic.AddUint64(&c.seq, 1),
	}

	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.metrics.incrementErrors()
		c.onError(fmt.Errorf("unexpected ring enqueue error: %w", err))
		return
	}
	c.metrics.incrementOverwritten(overwrites)
	c.metrics.incrementCaptured()
}

// IsEmpty reports whether anything is waiting to be drained.
func (c *NotificationCollector) IsEmpty() bool {
	return c.buffer.IsEmpty()
}

// Metrics returns a copy of the current counters.
func (c *NotificationCollector) Metrics() CollectorMetrics {
	return CollectorMetrics{
		Captured:    c.metrics.GetCaptured(),
		Overwritten: c.metrics.GetOverwritten(),
		Drained:     c.metrics.GetDrained(),
		Errors:      c.metrics.GetErrors(),
	}
}

// ResetMetrics zeroes the counters.
func (c *NotificationCollector) ResetMetrics() {
	c.metrics.Reset()
}

// ConsumerFunc consumes drained records.
//
// Protocol:
//   - record != nil: process it. Return (zero, nil) to keep going or a
//     non-zero result to stop early.
//   - record == nil: no more records; return the final result.
//
// The function owns whatever state it accumulates across calls. See
// HexLinesConsumerFunc for a ready-to-use implementation.
type ConsumerFunc[T any] func(record *NotificationRecord) (T, error)

// Drain hands every buffered record to consumer in capture order and
// returns the consumer's final result.
func Drain[T any](c *NotificationCollector, consumer ConsumerFunc[T]) (T, error) {
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			var zero T
			c.metrics.incrementErrors()
			return zero, fmt.Errorf("ring dequeue error: %w", err)
		}
		c.metrics.incrementDrained()

		result, err := consumer(&rec)
		if err != nil {
			return result, err
		}
		if !isZeroValue(result) {
			return result, nil
		}
	}
	return consumer(nil)
}

// HexLinesConsumerFunc returns a ConsumerFunc that renders each record
// as one "address handle hex-payload" line.
func HexLinesConsumerFunc() ConsumerFunc[string] {
	var buffer strings.Builder
	return func(record *NotificationRecord) (string, error) {
		if record == nil {
			return buffer.String(), nil
		}
		fmt.Fprintf(&buffer, "%s 0x%04X %s\n", record.Addr, record.Handle, hex.EncodeToString(record.Value))
		return "", nil
	}
}

// isZeroValue checks if a value is the zero value for its type.
func isZeroValue[T any](v T) bool {
	var zero T
	return reflect.DeepEqual(v, zero)
}
