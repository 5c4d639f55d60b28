package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/floraexport/cartera/api"
	"github.com/floraexport/cartera/cache"
	"github.com/floraexport/cartera/cartera"
	"github.com/floraexport/cartera/config"
	"github.com/floraexport/cartera/ledger"
	"github.com/floraexport/cartera/ledger/store"
	"github.com/floraexport/cartera/logger"
	"github.com/floraexport/cartera/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: `  cartera serve --addr :3000
  cartera serve --store memory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	cmd.Flags().StringVar(&cfg.Store, "store", cfg.Store, "storage backend: sqlite or memory")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for a throwaway database)`)
	cmd.Flags().BoolVar(&cfg.DemoScenarios, "scenarios", cfg.DemoScenarios, "expose demo scenario endpoints")
	return cmd
}

// openStore returns the configured store, its health check (nil when it has
// none) and a close function.
func openStore(cfg *config.Config) (ledger.BalanceStore, api.Pinger, func() error, error) {
	if cfg.Store == "memory" {
		return store.NewMemory(), nil, func() error { return nil }, nil
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, st, st.Close, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.WithComponent("server")

	st, health, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var statementCache *cache.Cache
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, statements will not be cached")
		} else {
			defer client.Close()
			statementCache = cache.New(client, cfg.CacheTTL)
		}
	}

	svc := cartera.NewService(st,
		cartera.WithCache(statementCache),
		cartera.WithLogger(logger.WithComponent("cartera")),
		cartera.WithMaxCommitAttempts(cfg.MaxCommitAttempts),
	)
	handler := api.NewHandler(svc, logger.WithComponent("api"))
	handler.Health = health

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		WriteRateLimit: cfg.WriteRateLimit,
		Production:     cfg.IsProduction(),
		Scenarios:      cfg.DemoScenarios && !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.Store).
			Bool("cache", statementCache != nil).
			Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
