// Package search turns keystroke-driven input into rate-limited remote
// searches.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/metrics"
)

// DefaultDelay is the quiet period after the last keystroke before a search
// is issued.
const DefaultDelay = 500 * time.Millisecond

// Timer is a pending search that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SearchFunc performs the remote search. It is not cancelled when a newer
// input supersedes it; the receiver of the results must apply last-writer-wins.
type SearchFunc func(ctx context.Context, text string)

type Debouncer struct {
	delay     time.Duration
	scheduler Scheduler
	search    SearchFunc
	metrics   *metrics.Metrics

	running sync.WaitGroup // scheduled or running searches

	mu          sync.Mutex
	pending     Timer
	pendingText string
	pendingCtx  context.Context
}

// New creates a debouncer. A zero delay means DefaultDelay and a nil
// scheduler means wall-clock timers.
func New(delay time.Duration, scheduler Scheduler, search SearchFunc, m *metrics.Metrics) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if scheduler == nil {
		scheduler = realScheduler{}
	}
	return &Debouncer{
		delay:     delay,
		scheduler: scheduler,
		search:    search,
		metrics:   m,
	}
}

// OnInput cancels pending (if any), schedules a search for text after the
// quiet period and returns the new handle. The caller keeps the handle and
// passes it back on the next keystroke.
func (d *Debouncer) OnInput(ctx context.Context, text string, pending Timer) Timer {
	if pending != nil {
		pending.Stop()
	}
	d.running.Add(1)
	h := &handle{done: d.running.Done}
	h.Timer = d.scheduler.AfterFunc(d.delay, func() {
		defer h.release()
		d.metrics.Debounced()
		d.search(ctx, text)
	})
	return h
}

// Wait blocks until every scheduled or running search has finished or been
// cancelled. Input must not be called concurrently with Wait.
func (d *Debouncer) Wait() {
	d.running.Wait()
}

// handle releases its slot in the running group exactly once: when the
// search returns or when Stop cancels it before it fired.
type handle struct {
	Timer
	once sync.Once
	done func()
}

func (h *handle) Stop() bool {
	if !h.Timer.Stop() {
		return false
	}
	h.release()
	return true
}

func (h *handle) release() {
	h.once.Do(h.done)
}

// Input is OnInput with the handle kept inside the debouncer.
func (d *Debouncer) Input(ctx context.Context, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = d.OnInput(ctx, text, d.pending)
	d.pendingText = text
	d.pendingCtx = ctx
}

// Flush runs the pending search now instead of waiting out the quiet period.
// It reports whether there was one. The search runs on the caller's
// goroutine.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.pending == nil || !d.pending.Stop() {
		d.pending = nil
		d.mu.Unlock()
		return false
	}
	ctx, text := d.pendingCtx, d.pendingText
	d.pending = nil
	d.mu.Unlock()

	d.metrics.Debounced()
	d.search(ctx, text)
	return true
}

// Stop cancels the pending search, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}
