package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/schedcall/intake-engine/internal/cache"
	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/dialog"
	"github.com/schedcall/intake-engine/internal/health"
	"github.com/schedcall/intake-engine/internal/persist"
	"github.com/schedcall/intake-engine/internal/provider"
	"github.com/schedcall/intake-engine/internal/redact"
	"github.com/schedcall/intake-engine/internal/routing"
	"github.com/schedcall/intake-engine/internal/server"
	"github.com/schedcall/intake-engine/internal/slots"
	"github.com/schedcall/intake-engine/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("intake-engine", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	provider.RegisterBuiltins()
	providers, err := provider.CreateAll(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to create providers: %v", err)
	}
	if len(providers) == 0 {
		log.Fatal("No providers configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := persist.FromConfig(ctx, cfg.Persistence)
	if err != nil {
		log.Fatalf("Failed to create transcript sink: %v", err)
	}
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error("failed to close sink", slog.String("error", err.Error()))
			}
		}()
	}

	monitor := health.NewMonitor(health.Config{
		ConsecutiveFailures:  cfg.Breaker.ConsecutiveFailures,
		FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
		Window:               cfg.Breaker.Window,
		MinSamples:           cfg.Breaker.MinSamples,
		Cooldown:             cfg.Breaker.Cooldown,
		MaxCooldown:          cfg.Breaker.MaxCooldown,
		BackoffFactor:        cfg.Breaker.BackoffFactor,
	})
	respCache := cache.New(cache.Config{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		TTL:                 cfg.Cache.TTL,
		Capacity:            cfg.Cache.Capacity,
		Shards:              cfg.Cache.Shards,
	})
	engine := routing.NewEngine(providers, cfg.Providers, monitor, respCache, cfg.Routing, logger)

	policy := slots.PolicyFromConfig(cfg.Slots.Required, cfg.Slots.MinConfidence, cfg.Slots.ReadyConfidence)
	store := dialog.NewStore(cfg.Dialog.IdleTimeout, logger)
	machine := dialog.NewMachine(store, engine, redact.New(), sink, policy, cfg.Dialog, logger)

	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, logger)
	server.NewHandler(machine, monitor, logger).Mount(srv.Router)

	logger.Info("intake engine starting",
		slog.Int("port", cfg.Server.Port),
		slog.Int("providers", len(providers)),
		slog.String("persistence", cfg.Persistence.Type),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return store.Sweep(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
