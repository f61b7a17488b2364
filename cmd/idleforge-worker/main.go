package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

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

	catalog := economy.DefaultCatalog()
	if cfg.Economy.CatalogPath != "" {
		catalog, err = economy.ReadCatalogFile(cfg.Economy.CatalogPath)
		if err != nil {
			logger.Error("catalog load failed", "err", err)
			os.Exit(1)
		}
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
		// The worker drives ticks itself so run-once and reporting share
		// one loop.
		ManualTicks: true,
	})
	if err != nil {
		logger.Error("session registry init failed", "err", err)
		os.Exit(1)
	}

	sess, err := sessions.Open(ctx, cfg.Worker.PlayerID)
	if err != nil {
		logger.Error("open player failed", "player_id", cfg.Worker.PlayerID, "err", err)
		os.Exit(1)
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Error("final save failed", "err", err)
			os.Exit(1)
		}
	}

	if cfg.Worker.RunOnce {
		res := sess.Engine.Tick()
		shutdown()
		logger.Info("worker run-once completed", "credited", res.Credited.String(), "balance", res.Balance.String())
		return
	}

	ticker := time.NewTicker(cfg.Economy.TickEvery.Duration)
	defer ticker.Stop()
	report := time.NewTicker(cfg.Worker.ReportEvery.Duration)
	defer report.Stop()

	logger.Info("worker started", "player_id", sess.PlayerID, "session_id", sess.ID, "tick_every", cfg.Economy.TickEvery.String())
	for {
		select {
		case <-ctx.Done():
			shutdown()
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			res := sess.Engine.Tick()
			if len(res.Skipped) > 0 {
				logger.Debug("tick skipped upgrades", "ids", res.Skipped)
			}
		case <-report.C:
			state := sess.Engine.State()
			bal, _ := state.Balance.Float64()
			ps, _ := state.PerSecond.Float64()
			logger.Info("progress",
				"balance", humanize.Commaf(bal),
				"per_second", humanize.FormatFloat("#,###.##", ps),
				"save_status", sess.Saves.Status().String(),
			)
		}
	}
}
