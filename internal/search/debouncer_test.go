package search

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/storefront/internal/metrics"
)

// fakeScheduler is a virtual clock. Timers fire only from Advance.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock to now+d, firing due timers in deadline order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].at < s.timers[j].at })
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= target {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.mu.Lock()
		s.now = t.at
		s.mu.Unlock()
		t.f()
	}

	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

func (s *fakeScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

type call struct {
	at   time.Duration
	text string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) get() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func newDebouncer(t *testing.T) (*Debouncer, *fakeScheduler, *recorder) {
	t.Helper()
	clock := &fakeScheduler{}
	rec := &recorder{}
	d := New(0, clock, func(_ context.Context, text string) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.calls = append(rec.calls, call{at: clock.Now(), text: text})
	}, nil)
	return d, clock, rec
}

func TestInput_KeystrokeBurstFiresOnce(t *testing.T) {
	d, clock, rec := newDebouncer(t)
	ctx := context.Background()

	for i, text := range []string{"b", "ba", "bas", "bask"} {
		if i > 0 {
			clock.Advance(100 * time.Millisecond)
		}
		d.Input(ctx, text)
	}

	clock.Advance(499 * time.Millisecond)
	assert.Empty(t, rec.get(), "nothing may fire before 500ms of silence")

	clock.Advance(1 * time.Millisecond)
	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Equal(t, 800*time.Millisecond, calls[0].at)
	assert.Equal(t, "bask", calls[0].text)

	clock.Advance(5 * time.Second)
	assert.Len(t, rec.get(), 1)
}

func TestInput_SeparatedBurstsFireEach(t *testing.T) {
	d, clock, rec := newDebouncer(t)
	ctx := context.Background()

	d.Input(ctx, "phone")
	clock.Advance(600 * time.Millisecond)
	d.Input(ctx, "ball")
	clock.Advance(500 * time.Millisecond)

	calls := rec.get()
	require.Len(t, calls, 2)
	assert.Equal(t, call{at: 500 * time.Millisecond, text: "phone"}, calls[0])
	assert.Equal(t, call{at: 1100 * time.Millisecond, text: "ball"}, calls[1])
}

func TestOnInput_CancelsPendingHandle(t *testing.T) {
	d, clock, rec := newDebouncer(t)
	ctx := context.Background()

	first := d.OnInput(ctx, "a", nil)
	clock.Advance(200 * time.Millisecond)
	second := d.OnInput(ctx, "ab", first)

	assert.False(t, first.Stop(), "first timer already stopped")
	clock.Advance(500 * time.Millisecond)

	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Equal(t, "ab", calls[0].text)
	assert.False(t, second.Stop(), "second timer already fired")
}

func TestStop_CancelsPending(t *testing.T) {
	d, clock, rec := newDebouncer(t)

	d.Input(context.Background(), "duffle")
	d.Stop()
	clock.Advance(time.Second)

	assert.Empty(t, rec.get())
	assert.NotPanics(t, d.Stop)
}

func TestDebouncer_CountsFired(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	clock := &fakeScheduler{}
	d := New(0, clock, func(context.Context, string) {}, m)

	d.Input(context.Background(), "a")
	d.Input(context.Background(), "ab")
	clock.Advance(DefaultDelay)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DebounceFired))
}

func TestDebouncer_RealTimers(t *testing.T) {
	done := make(chan string, 4)
	d := New(20*time.Millisecond, nil, func(_ context.Context, text string) { done <- text }, nil)

	d.Input(context.Background(), "x")
	d.Input(context.Background(), "xy")

	select {
	case got := <-done:
		assert.Equal(t, "xy", got)
	case <-time.After(time.Second):
		t.Fatal("debounced search never fired")
	}
	assert.Never(t, func() bool { return len(done) > 0 }, 60*time.Millisecond, 10*time.Millisecond)
}

func TestFlush_RunsPendingImmediately(t *testing.T) {
	d, clock, rec := newDebouncer(t)

	d.Input(context.Background(), "ten")
	d.Input(context.Background(), "tent")
	clock.Advance(100 * time.Millisecond)

	assert.True(t, d.Flush())
	calls := rec.get()
	require.Len(t, calls, 1)
	assert.Equal(t, call{at: 100 * time.Millisecond, text: "tent"}, calls[0])

	clock.Advance(time.Second)
	assert.Len(t, rec.get(), 1, "flushed search must not fire again")
	assert.False(t, d.Flush())
}

func TestFlush_AfterFireIsNoop(t *testing.T) {
	d, clock, rec := newDebouncer(t)

	d.Input(context.Background(), "bag")
	clock.Advance(DefaultDelay)

	assert.False(t, d.Flush())
	assert.Len(t, rec.get(), 1)
}

func TestWait_BlocksUntilFiredSearchReturns(t *testing.T) {
	clock := &fakeScheduler{}
	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	d := New(0, clock, func(context.Context, string) {
		close(started)
		<-release
		finished = true
	}, nil)

	d.Input(context.Background(), "lamp")
	go clock.Advance(DefaultDelay)
	<-started
	assert.False(t, d.Flush(), "search already fired")

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	assert.Never(t, func() bool {
		select {
		case <-waited:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the search finished")
	}
	assert.True(t, finished)
}

func TestWait_CancelledSearchesDoNotBlock(t *testing.T) {
	d, clock, rec := newDebouncer(t)

	d.Input(context.Background(), "l")
	d.Input(context.Background(), "la")
	d.Stop()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on cancelled searches")
	}
	clock.Advance(time.Second)
	assert.Empty(t, rec.get())
}
