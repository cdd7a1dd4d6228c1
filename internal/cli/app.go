package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/client"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/notify"
	"github.com/fjod/storefront/internal/session"
	"github.com/fjod/storefront/internal/storefront"
)

// app is the client side of the CLI, assembled from config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	sf      *storefront.Storefront
	closers []func()
}

func loadConfig(opts *RootOptions, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log, err := logger.New(stderr, level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, log, err := loadConfig(opts, stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log}

	store, err := a.sessionStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	api := client.New(client.Config{
		BaseURL:         cfg.API.Endpoint,
		Timeout:         cfg.API.Timeout,
		BreakerFailures: cfg.API.BreakerFailures,
		BreakerCooldown: cfg.API.BreakerCooldown,
	}, log, m)

	var notifier notify.Notifier = notify.NewWriterNotifier(stderr)
	if opts.Verbose {
		notifier = notify.Multi(notifier, notify.NewLogNotifier(log.With("component", "notify")))
	}
	a.sf = storefront.New(
		catalog.NewStore(api, notifier, log.With("component", "catalog"), m),
		cart.NewReconciler(api, notifier, log.With("component", "cart"), m),
		session.NewManager(api, store, notifier, log.With("component", "session")),
		log, m,
		storefront.Options{Debounce: cfg.Search.Debounce},
	)
	a.closers = append(a.closers, a.sf.Close)
	return a, nil
}

func (a *app) sessionStore() (session.Store, error) {
	switch a.cfg.Session.Backend {
	case config.SessionMemory:
		return session.NewMemoryStore(), nil
	case config.SessionFile:
		return session.NewFileStore(a.cfg.Session.Path), nil
	case config.SessionRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.Session.RedisAddr})
		a.closers = append(a.closers, func() { rdb.Close() })
		return session.NewRedisStore(rdb, a.cfg.Session.Profile, a.cfg.Session.TTL), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", a.cfg.Session.Backend)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
