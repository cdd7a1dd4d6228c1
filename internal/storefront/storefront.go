// Package storefront wires the catalog, cart, search and session components
// into the single object a front end renders from.
package storefront

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/search"
	"github.com/fjod/storefront/internal/session"
)

// View is everything needed to render the products page.
type View struct {
	Products      []domain.Product
	Cart          []domain.CartLineItem
	Total         float64
	Loading       bool
	Authenticated bool
	Username      string
	Balance       string
}

type Options struct {
	// Debounce is the search quiet period; zero means search.DefaultDelay.
	Debounce time.Duration
	// Scheduler drives the debounce timer; nil means wall-clock timers.
	Scheduler search.Scheduler
}

// Storefront errors are always reported to the notifier before they are
// returned, so callers may ignore them; the View stays consistent either way.
type Storefront struct {
	catalog  *catalog.Store
	cart     *cart.Reconciler
	sessions *session.Manager
	search   *search.Debouncer
	logger   *slog.Logger

	publishMu sync.Mutex
	mu        sync.RWMutex
	session   domain.Session
	listeners []func(View)
}

func New(cat *catalog.Store, c *cart.Reconciler, sessions *session.Manager, logger *slog.Logger, m *metrics.Metrics, opts Options) *Storefront {
	s := &Storefront{
		catalog:  cat,
		cart:     c,
		sessions: sessions,
		logger:   logger,
	}
	s.search = search.New(opts.Debounce, opts.Scheduler, s.runSearch, m)

	cat.Subscribe(func(products []domain.Product) {
		c.SetCatalog(products)
	})
	c.Subscribe(func([]domain.CartLineItem) {
		s.publish()
	})
	return s
}

// Mount loads the stored session, the catalog and then the cart. The cart is
// read even when the catalog fails; both failures are returned.
func (s *Storefront) Mount(ctx context.Context) error {
	s.setSession(s.sessions.Current(ctx))

	_, catalogErr := s.catalog.Fetch(ctx)
	return errors.Join(catalogErr, s.refreshCart(ctx))
}

// SearchInput feeds one keystroke's worth of input text. The search runs
// once typing has paused for the debounce period.
func (s *Storefront) SearchInput(ctx context.Context, text string) {
	s.search.Input(ctx, text)
}

// FlushSearch runs a pending debounced search right away, e.g. when input
// ends, and waits for a debounced search that already fired to finish. It
// reports whether one was pending.
func (s *Storefront) FlushSearch() bool {
	flushed := s.search.Flush()
	s.search.Wait()
	return flushed
}

// Search runs a search immediately, bypassing the debouncer.
func (s *Storefront) Search(ctx context.Context, text string) error {
	if _, err := s.catalog.Search(ctx, text); err != nil {
		return err
	}
	return s.refreshCart(ctx)
}

// AddToCart adds one unit of productID; a product already in the cart is
// refused with a warning.
func (s *Storefront) AddToCart(ctx context.Context, productID string) error {
	_, err := s.cart.AddOrUpdate(ctx, s.Session(), productID, 1, cart.Options{PreventDuplicate: true})
	return err
}

// SetQuantity sets the quantity of productID; 0 removes it.
func (s *Storefront) SetQuantity(ctx context.Context, productID string, qty int) error {
	_, err := s.cart.AddOrUpdate(ctx, s.Session(), productID, qty, cart.Options{})
	return err
}

func (s *Storefront) Remove(ctx context.Context, productID string) error {
	_, err := s.cart.Remove(ctx, s.Session(), productID)
	return err
}

func (s *Storefront) Login(ctx context.Context, username, password string) error {
	sess, err := s.sessions.Login(ctx, username, password)
	if err != nil {
		return err
	}
	s.setSession(sess)
	return s.refreshCart(ctx)
}

// Logout forgets the session and the cart. Cart responses still in flight
// are dropped.
func (s *Storefront) Logout(ctx context.Context) error {
	if err := s.sessions.Logout(ctx); err != nil {
		s.logger.WarnContext(ctx, "logout failed", "error", err)
		return err
	}
	s.setSession(domain.Session{})
	s.cart.Reset()
	return nil
}

// Session returns the session the storefront currently acts with.
func (s *Storefront) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// View returns a consistent snapshot for rendering. Without a session the
// cart is empty and the page is browse-only.
func (s *Storefront) View() View {
	sess := s.Session()
	v := View{
		Products:      s.catalog.Snapshot(),
		Cart:          []domain.CartLineItem{},
		Loading:       s.catalog.Loading() || s.cart.Loading(),
		Authenticated: sess.Authenticated(),
		Username:      sess.Username,
		Balance:       sess.Balance,
	}
	if v.Authenticated {
		v.Cart = s.cart.Items()
		v.Total = domain.Total(v.Cart)
	}
	return v
}

// Subscribe registers fn to receive a fresh View after every state change.
func (s *Storefront) Subscribe(fn func(View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close cancels a pending debounced search.
func (s *Storefront) Close() {
	s.search.Stop()
}

func (s *Storefront) runSearch(ctx context.Context, text string) {
	if err := s.Search(ctx, text); err != nil {
		s.logger.DebugContext(ctx, "debounced search failed", "query", text, "error", err)
	}
}

// refreshCart re-reads the cart so line items match the catalog on screen.
func (s *Storefront) refreshCart(ctx context.Context) error {
	_, err := s.cart.Fetch(ctx, s.Session())
	return err
}

func (s *Storefront) setSession(sess domain.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.publish()
}

func (s *Storefront) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.RLock()
	listeners := append([]func(View){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(s.View())
	}
}
