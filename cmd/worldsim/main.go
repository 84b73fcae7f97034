// Command worldsim runs one hex-world game instance and its HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/talgya/cli-mmo/internal/api"
	"github.com/talgya/cli-mmo/internal/config"
	"github.com/talgya/cli-mmo/internal/engine"
	"github.com/talgya/cli-mmo/internal/game"
	"github.com/talgya/cli-mmo/internal/persistence"
	"github.com/talgya/cli-mmo/internal/persistence/auditlog"
	"github.com/talgya/cli-mmo/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worldsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("cli-mmo world simulation",
		"instance", cfg.InstanceID,
		"tick_interval", cfg.TickInterval(),
		"store", cfg.StoreBackend,
	)

	ctx := context.Background()

	// ── Store ─────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// ── Biome templates ───────────────────────────────────────────────
	templates := world.NewRegistry()
	if err := templates.Load(cfg.Templates()); err != nil {
		return err
	}
	slog.Info("biome templates loaded", "biomes", len(templates.Types()))

	gen, err := cfg.GenConfig()
	if err != nil {
		return err
	}

	// ── Audit trail ───────────────────────────────────────────────────
	var sinks []engine.RecordSink
	if cfg.AuditDir != "" {
		audit := auditlog.NewTickLogger(cfg.AuditDir)
		defer audit.Close()
		sinks = append(sinks, audit)
		slog.Info("tick audit enabled", "dir", cfg.AuditDir)
	}

	// ── Game instance ─────────────────────────────────────────────────
	g, err := game.New(game.Options{
		InstanceID:   cfg.InstanceID,
		Gen:          gen,
		Templates:    templates,
		Store:        store,
		Log:          slog.Default(),
		TickInterval: cfg.TickInterval(),
		ClaimTicks:   cfg.ClaimTicks,
		MaxAttempts:  cfg.MaxJobAttempts,
		SaveEvery:    uint64(cfg.SaveEveryTicks),
		Sinks:        sinks,
	})
	if err != nil {
		return err
	}
	if err := g.Open(ctx); err != nil {
		return err
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("WORLDSIM_ADMIN_KEY not set, nation creation is disabled")
	}
	apiServer := api.NewServer(g, cfg.APIPort, cfg.AdminKey, slog.Default())
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	if err := g.StartTicking(); err != nil {
		return err
	}
	st := g.Status()
	fmt.Printf("\nWorld %s is live: %d territories, %d nations.\n", st.InstanceID, st.Territories, st.Nations)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	if st.Tick > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", st.Tick, st.GameTime)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}
	slog.Info("final save...")
	if err := g.StopTicking(ctx); err != nil {
		return err
	}
	fmt.Println("Simulation stopped. World state saved.")
	return nil
}

type closingStore interface {
	game.Store
	io.Closer
}

func openStore(ctx context.Context, cfg config.Config) (closingStore, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		s, err := persistence.OpenRedis(ctx, persistence.RedisOptions{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("redis store opened", "address", cfg.RedisAddress)
		return s, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, err
		}
		db, err := persistence.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		slog.Info("database opened", "path", cfg.DBPath)
		return db, nil
	}
}

