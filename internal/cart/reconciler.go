// Package cart keeps the server's cart and the catalog snapshot joined into
// renderable line items.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/sequence"
)

const (
	MsgLoginRequired = "Please login to add into the cart"
	MsgDuplicate     = "item already in cart"
	MsgFetchFailed   = "Could not fetch cart details. Check that the backend is running, reachable and returns valid JSON."
	MsgUpdateFailed  = "Could not update the cart. Check that the backend is running, reachable and returns valid JSON."
	MsgInvalidItem   = "Invalid cart item"
)

// Remote is the server side of the cart.
type Remote interface {
	Cart(ctx context.Context, token string) ([]domain.CartEntry, error)
	UpsertCart(ctx context.Context, token string, entry domain.CartEntry) ([]domain.CartEntry, error)
}

type fetchResult struct {
	tag     int64
	entries []domain.CartEntry
}

// Options tunes a single AddOrUpdate call. Catalog "add" buttons set
// PreventDuplicate; quantity controls in the cart view leave it unset since
// they legitimately resend a product that is already in the cart.
type Options struct {
	PreventDuplicate bool
}

// Reconciler owns the last confirmed server cart. Every visible change comes
// from a server response: there is no optimistic update and no retry.
type Reconciler struct {
	remote   Remote
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	guard    sequence.Guard
	sfg      singleflight.Group // collapses concurrent fetches for one token

	publishMu sync.Mutex
	mu        sync.RWMutex
	raw       []domain.CartEntry
	catalog   []domain.Product
	inflight  int
	items     []domain.CartLineItem
	listeners []func([]domain.CartLineItem)
}

func NewReconciler(remote Remote, notifier notify.Notifier, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		remote:   remote,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		raw:      []domain.CartEntry{},
		catalog:  []domain.Product{},
		items:    []domain.CartLineItem{},
	}
}

// Materialize joins raw cart entries with catalog products, in raw order.
// Entries whose product is not in the catalog are left out.
func Materialize(raw []domain.CartEntry, catalog []domain.Product) []domain.CartLineItem {
	byID := make(map[string]domain.Product, len(catalog))
	for _, p := range catalog {
		if _, seen := byID[p.ID]; !seen {
			byID[p.ID] = p
		}
	}

	items := make([]domain.CartLineItem, 0, len(raw))
	for _, entry := range raw {
		p, ok := byID[entry.ProductID]
		if !ok {
			continue
		}
		items = append(items, domain.CartLineItem{Product: p, Quantity: entry.Quantity})
	}
	return items
}

// IsInCart reports whether productID has an entry in raw.
func IsInCart(raw []domain.CartEntry, productID string) bool {
	for _, entry := range raw {
		if entry.ProductID == productID {
			return true
		}
	}
	return false
}

// Fetch reads the cart for session. Without a token it returns an empty
// cart and makes no call. On failure it returns nil and leaves the current
// cart as it was. Callers that join an in-flight fetch share its tag, so a
// response older than a later mutation or Reset is never applied.
func (r *Reconciler) Fetch(ctx context.Context, session domain.Session) ([]domain.CartEntry, error) {
	if !session.Authenticated() {
		r.apply(r.guard.Next(), []domain.CartEntry{})
		return []domain.CartEntry{}, nil
	}

	r.setLoading(+1)
	defer r.setLoading(-1)

	v, err, _ := r.sfg.Do(session.Token, func() (interface{}, error) {
		tag := r.guard.Next()
		entries, err := r.remote.Cart(ctx, session.Token)
		return fetchResult{tag: tag, entries: entries}, err
	})
	res := v.(fetchResult)
	if err != nil {
		if !r.guard.Latest(res.tag) {
			r.dropStale(ctx, "fetch")
			return nil, err
		}
		r.logger.WarnContext(ctx, "cart fetch failed", "error", err)
		msg := MsgFetchFailed
		if errors.Is(err, domain.ErrServerRejected) {
			msg = domain.MessageOf(err, MsgFetchFailed)
		}
		r.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Message: msg})
		return nil, err
	}

	if !r.apply(res.tag, res.entries) {
		r.dropStale(ctx, "fetch")
		return r.Raw(), nil
	}
	return copyEntries(res.entries), nil
}

// AddOrUpdate sets productID to quantity in the server cart and, on success,
// rebuilds the line items from the server's answer. Quantity 0 removes the
// line on the server side.
func (r *Reconciler) AddOrUpdate(ctx context.Context, session domain.Session, productID string, quantity int, opts Options) ([]domain.CartLineItem, error) {
	if !session.Authenticated() {
		r.notifier.Notify(ctx, notify.Notification{Level: notify.LevelWarning, Message: MsgLoginRequired})
		return nil, domain.NewError(domain.ErrAuthRequired, 0, MsgLoginRequired)
	}
	if productID == "" || quantity < 0 {
		r.notifier.Notify(ctx, notify.Notification{Level: notify.LevelWarning, Message: MsgInvalidItem})
		return nil, domain.NewError(domain.ErrValidation, 0, MsgInvalidItem)
	}
	if opts.PreventDuplicate && IsInCart(r.Raw(), productID) {
		r.notifier.Notify(ctx, notify.Notification{Level: notify.LevelWarning, Message: MsgDuplicate})
		return nil, domain.NewError(domain.ErrDuplicateItem, 0, MsgDuplicate)
	}

	tag := r.guard.Next()
	r.sfg.Forget(session.Token)
	entries, err := r.remote.UpsertCart(ctx, session.Token, domain.CartEntry{ProductID: productID, Quantity: quantity})
	if err != nil {
		r.logger.WarnContext(ctx, "cart update failed", "product_id", productID, "quantity", quantity, "error", err)
		msg := MsgUpdateFailed
		if errors.Is(err, domain.ErrServerRejected) || errors.Is(err, domain.ErrServerFault) {
			msg = domain.MessageOf(err, MsgUpdateFailed)
		}
		r.notifier.Notify(ctx, notify.Notification{Level: notify.LevelError, Message: msg})
		return nil, err
	}

	if !r.apply(tag, entries) {
		r.dropStale(ctx, "upsert")
	}
	return r.Items(), nil
}

// Remove deletes productID from the server cart.
func (r *Reconciler) Remove(ctx context.Context, session domain.Session, productID string) ([]domain.CartLineItem, error) {
	return r.AddOrUpdate(ctx, session, productID, 0, Options{})
}

// SetCatalog rebuilds the line items against a new catalog snapshot.
func (r *Reconciler) SetCatalog(catalog []domain.Product) {
	r.mu.Lock()
	r.catalog = append([]domain.Product{}, catalog...)
	r.items = Materialize(r.raw, r.catalog)
	r.mu.Unlock()

	r.publish()
}

// Reset forgets the cart, e.g. after logout. Responses to requests issued
// before Reset are dropped.
func (r *Reconciler) Reset() {
	r.apply(r.guard.Next(), []domain.CartEntry{})
}

// Raw returns a copy of the last confirmed server cart.
func (r *Reconciler) Raw() []domain.CartEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyEntries(r.raw)
}

// Items returns a copy of the current line items.
func (r *Reconciler) Items() []domain.CartLineItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CartLineItem, len(r.items))
	copy(out, r.items)
	return out
}

// Loading reports whether a cart fetch is in flight.
func (r *Reconciler) Loading() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inflight > 0
}

// Subscribe registers fn to receive the line items after every change.
func (r *Reconciler) Subscribe(fn func([]domain.CartLineItem)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Reconciler) apply(tag int64, entries []domain.CartEntry) bool {
	r.mu.Lock()
	if !r.guard.Latest(tag) {
		r.mu.Unlock()
		return false
	}
	r.raw = copyEntries(entries)
	r.items = Materialize(r.raw, r.catalog)
	r.mu.Unlock()

	r.publish()
	return true
}

func (r *Reconciler) publish() {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.RLock()
	listeners := append([]func([]domain.CartLineItem){}, r.listeners...)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(r.Items())
	}
}

func (r *Reconciler) setLoading(delta int) {
	r.mu.Lock()
	r.inflight += delta
	r.mu.Unlock()
}

func (r *Reconciler) dropStale(ctx context.Context, call string) {
	r.metrics.StaleDropped("cart")
	r.logger.DebugContext(ctx, "dropped stale cart response", "call", call)
}

func copyEntries(entries []domain.CartEntry) []domain.CartEntry {
	out := make([]domain.CartEntry, len(entries))
	copy(out, entries)
	return out
}
