package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idleforge/internal/api"
	"idleforge/internal/config"
	"idleforge/internal/economy"
	"idleforge/internal/persist"
	"idleforge/internal/session"
	"idleforge/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.Logger(os.Stdout)

	catalog, err := loadCatalog(cfg.Economy.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "err", err)
		os.Exit(1)
	}
	for id, problem := range catalog.CurveProblems() {
		logger.Warn("catalog entry cannot be priced", "upgrade", id, "err", problem)
	}

	reward, err := cfg.Economy.Reward()
	if err != nil {
		logger.Error("invalid click reward", "value", cfg.Economy.ClickReward, "err", err)
		os.Exit(1)
	}

	st, closeStore, err := store.Open(ctx, store.Options{
		Kind:        cfg.Store.Kind,
		DataDir:     cfg.Store.DataDir,
		SQLitePath:  cfg.Store.SQLitePath,
		DatabaseURL: cfg.Store.DatabaseURL,
		CacheSize:   cfg.Store.CacheSize,
	})
	if err != nil {
		logger.Error("store open failed", "kind", cfg.Store.Kind, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	sessions, err := session.NewRegistry(session.Options{
		Catalog:     catalog,
		Store:       st,
		ClickReward: reward,
		TickEvery:   cfg.Economy.TickEvery.Duration,
		Save: persist.Options{
			Window:      cfg.Economy.SaveDebounce.Duration,
			MaxWait:     cfg.Economy.SaveMaxWait.Duration,
			SaveTimeout: cfg.Economy.SaveTimeout.Duration,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("session registry init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(logger, catalog, sessions)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Error("final saves failed", "err", err)
		}
	}()

	logger.Info("idleforge api listening", "addr", cfg.Addr, "store", cfg.Store.Kind, "upgrades", catalog.Len())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	<-done
}

func loadCatalog(path string) (*economy.Catalog, error) {
	if path == "" {
		return economy.DefaultCatalog(), nil
	}
	return economy.ReadCatalogFile(path)
}
