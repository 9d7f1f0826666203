package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single-line progress message with the
// current phase and elapsed (or remaining) seconds.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// The printer is single-use: Start at most once, then Stop. Stop is safe
// to call multiple times and from multiple goroutines, which lets the
// phase callback and a deferred Stop race harmlessly.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value        // current phase name (string)
	stopPhases map[string]struct{} // phases that shut the printer down
	countdown  time.Duration       // >0 shows remaining time instead of elapsed

	start    time.Time
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer that counts up from zero.
// stopPhases name the phases that stop the display when reported
// through Callback.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that counts down from
// duration to zero.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, duration, stopPhases)
}

func newPrinter(prefix, phase string, countdown time.Duration, stopPhases []string) *ProgressPrinter {
	stops := make(map[string]struct{}, len(stopPhases))
	for _, s := range stopPhases {
		stops[s] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stops,
		countdown:  countdown,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics when called twice on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.start = time.Now()

	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.print(phase)
			}
		}
	}()
}

func (p *ProgressPrinter) print(phase string) {
	seconds := int(time.Since(p.start).Seconds())
	if p.countdown > 0 {
		remaining := p.countdown - time.Since(p.start)
		if remaining < 0 {
			remaining = 0
		}
		// Round to the nearest whole second.
		seconds = int(remaining.Seconds() + 0.5)
	}
	if seconds > 0 {
		fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase-update function safe to hand to the engine.
// Reporting a stop phase stops the printer.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop halts the display and clears the progress line. Only the first
// call does the work; later calls are no-ops.
func (p *ProgressPrinter) Stop() {
	if !p.started.Load() {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.done
		fmt.Print(clearLineSequence)
	})
}
