// Package catalog owns the product snapshot the storefront displays.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/sequence"
)

const MsgUnreachable = "Something went wrong!"

// Source is the remote side of the catalog.
type Source interface {
	Products(ctx context.Context) ([]domain.Product, error)
	Search(ctx context.Context, query string) ([]domain.Product, error)
}

// Store holds the last applied catalog snapshot. Fetch and Search both
// replace the whole snapshot; they share one request sequence so a slow
// response never overwrites the result of a newer request.
type Store struct {
	source   Source
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	guard    sequence.Guard

	publishMu sync.Mutex
	mu        sync.RWMutex
	snapshot  []domain.Product
	inflight  int
	listeners []func([]domain.Product)
}

func NewStore(source Source, notifier notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		source:   source,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		snapshot: []domain.Product{},
	}
}

// Fetch loads the full catalog. On failure the user is notified and the
// snapshot becomes empty. The returned slice is the snapshot in effect after
// the call; a stale response leaves it untouched and returns no error.
func (s *Store) Fetch(ctx context.Context) ([]domain.Product, error) {
	tag := s.guard.Next()
	s.setLoading(+1)
	defer s.setLoading(-1)

	products, err := s.source.Products(ctx)
	if err != nil {
		if !s.guard.Latest(tag) {
			s.dropStale(ctx, "fetch", err)
			return s.Snapshot(), nil
		}
		s.notifyFailure(ctx, err)
		s.apply(tag, []domain.Product{})
		return s.Snapshot(), err
	}

	if !s.apply(tag, products) {
		s.dropStale(ctx, "fetch", nil)
	}
	return s.Snapshot(), nil
}

// Search replaces the snapshot with the products matching query. A not-found
// answer yields an empty snapshot without notifying anyone; any other
// failure notifies and keeps the previous snapshot.
func (s *Store) Search(ctx context.Context, query string) ([]domain.Product, error) {
	tag := s.guard.Next()

	products, err := s.source.Search(ctx, query)
	switch {
	case err == nil:
	case domain.IsNotFound(err):
		products = []domain.Product{}
	default:
		if !s.guard.Latest(tag) {
			s.dropStale(ctx, "search", err)
			return s.Snapshot(), nil
		}
		s.notifyFailure(ctx, err)
		return s.Snapshot(), err
	}

	if !s.apply(tag, products) {
		s.dropStale(ctx, "search", nil)
	}
	return s.Snapshot(), nil
}

// Snapshot returns a copy of the current catalog in server order.
func (s *Store) Snapshot() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, len(s.snapshot))
	copy(out, s.snapshot)
	return out
}

// Loading reports whether a full-catalog fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Subscribe registers fn to be called with the new snapshot after every
// replacement. fn runs on the goroutine that completed the request.
func (s *Store) Subscribe(fn func([]domain.Product)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// apply installs products if tag is still the latest request. It reports
// whether the snapshot was replaced.
func (s *Store) apply(tag int64, products []domain.Product) bool {
	s.mu.Lock()
	if !s.guard.Latest(tag) {
		s.mu.Unlock()
		return false
	}
	s.snapshot = products
	s.mu.Unlock()

	s.publish()
	return true
}

// publish hands the current snapshot to every listener. Deliveries are
// serialized and always carry the snapshot in effect at delivery time, so
// listeners never observe an older catalog after a newer one.
func (s *Store) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.RLock()
	listeners := append([]func([]domain.Product){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(s.Snapshot())
	}
}

func (s *Store) setLoading(delta int) {
	s.mu.Lock()
	s.inflight += delta
	s.mu.Unlock()
}

func (s *Store) notifyFailure(ctx context.Context, err error) {
	s.logger.WarnContext(ctx, "catalog request failed", "error", err)
	msg := MsgUnreachable
	if errors.Is(err, domain.ErrServerFault) || errors.Is(err, domain.ErrServerRejected) {
		msg = domain.MessageOf(err, MsgUnreachable)
	}
	s.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Message: msg})
}

func (s *Store) dropStale(ctx context.Context, call string, err error) {
	s.metrics.StaleDropped("catalog")
	s.logger.DebugContext(ctx, "dropped stale catalog response", "call", call, "error", err)
}
