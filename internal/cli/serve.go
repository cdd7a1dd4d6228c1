package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/fjod/storefront/internal/devserver"
	"github.com/fjod/storefront/internal/metrics"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		Long: `Run a backend implementing the storefront API: products in SQLite,
tokens and carts in Redis. Without a Redis address an embedded in-memory
Redis is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, rootOpts, cmd, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command, port string) error {
	cfg, log, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	dc := cfg.DevServer
	if port != "" {
		dc.HTTPPort = port
	}

	repo, err := devserver.NewRepository(dc.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations completed successfully", "db", dc.DBPath)

	rdb, closeRedis, err := devserver.OpenRedis(ctx, dc.RedisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()
	if dc.RedisAddr == "" {
		log.Info("using embedded redis")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srvCfg := devserver.Config{
		HTTPPort:        dc.HTTPPort,
		RequestTimeout:  dc.RequestTimeout,
		ShutdownTimeout: dc.ShutdownTimeout,
	}
	h := devserver.NewHandler(repo, devserver.NewRedisState(rdb), log.With("component", "devserver"))
	srv := devserver.NewServer(srvCfg, devserver.NewRouter(srvCfg, h, reg, m), log)
	return srv.Run(ctx)
}
