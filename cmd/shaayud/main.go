// Shaayud - Behavioral telemetry ingest and risk scoring.
// Copyright (c) 2025 shaayud
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shaayud/shaayud/internal/api"
	"github.com/shaayud/shaayud/internal/bus"
	"github.com/shaayud/shaayud/internal/cache"
	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/graph"
	"github.com/shaayud/shaayud/internal/ingest"
	"github.com/shaayud/shaayud/internal/journal"
	"github.com/shaayud/shaayud/internal/rules"
	"github.com/shaayud/shaayud/internal/telemetry"
	"github.com/shaayud/shaayud/internal/velocity"
	"github.com/shaayud/shaayud/internal/verdict"
	"github.com/shaayud/shaayud/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment alone is enough.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting shaayud",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"graph", cfg.Graph.Driver,
		"journal", cfg.Journal.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Load the rule set before touching any store: a bad document aborts startup.
	ruleSet, err := loadRuleSet(cfg.Rules.Path)
	if err != nil {
		slog.Error("failed to load rule set", "path", cfg.Rules.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("rule set loaded",
		"version", ruleSet.Version,
		"default", ruleSet.Default,
		"rules_count", len(ruleSet.Rules),
	)

	// Initialize Graph Store
	store, err := graph.New(ctx, cfg.Graph)
	if err != nil {
		slog.Error("failed to initialize graph store", "error", err)
		os.Exit(1)
	}
	slog.Info("graph store initialized", "driver", cfg.Graph.Driver)

	// Initialize Journal (optional)
	journalImpl, err := journal.New(cfg.Journal)
	if err != nil {
		slog.Error("failed to initialize journal", "error", err)
		os.Exit(1)
	}
	if journalImpl != nil {
		defer journalImpl.Close()
		slog.Info("journal initialized", "driver", cfg.Journal.Driver)
	}

	// Initialize EventBus (optional)
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	if busImpl != nil {
		defer busImpl.Close()
		slog.Info("event bus initialized", "type", cfg.EventBus.Type)
	}

	checks := []api.Check{{Name: "graph", Ping: store.Ping}}
	opts := []ingest.Option{}

	// Initialize Velocity Service
	if cfg.Velocity.Enabled {
		counter, err := cache.New(cfg.Cache)
		if err != nil {
			slog.Error("failed to initialize cache", "error", err)
			os.Exit(1)
		}
		defer counter.Close()
		checks = append(checks, api.Check{Name: "cache", Ping: counter.Ping})
		opts = append(opts, ingest.WithVelocity(velocity.NewService(counter, cfg.Velocity.Window)))
		slog.Info("velocity service initialized", "cache", cfg.Cache.Type, "window", cfg.Velocity.Window)
	}
	if journalImpl != nil {
		checks = append(checks, api.Check{Name: "journal", Ping: journalImpl.Ping})
		opts = append(opts, ingest.WithJournal(journalImpl))
	}
	if busImpl != nil {
		checks = append(checks, api.Check{Name: "eventbus", Ping: busImpl.Ping})
		opts = append(opts, ingest.WithEventBus(busImpl))
	}

	// Initialize Ingest Service
	classifier := verdict.NewClassifier(cfg.Rules.ReviewThreshold, cfg.Rules.RejectThreshold)
	svc := ingest.NewService(ruleSet, graph.NewUpserter(store), classifier, ingest.Config{
		MaxInFlightTx: cfg.Graph.MaxInFlightTx,
		TxTimeout:     cfg.Graph.TxTimeout,
	}, opts...)
	slog.Info("ingest service initialized",
		"max_inflight_tx", cfg.Graph.MaxInFlightTx,
		"tx_timeout", cfg.Graph.TxTimeout,
		"review_threshold", classifier.Review,
		"reject_threshold", classifier.Reject,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if busImpl != nil && cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Worker.Count}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "workers", cfg.Worker.Count)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Ingester:     svc,
		Rules:        ruleSet,
		Journal:      journalImpl,
		Bus:          busImpl,
		Checks:       checks,
		Version:      Version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shaayud is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining the worker so no record is queued after it stops.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	if err := store.Close(shutdownCtx); err != nil {
		slog.Error("failed to close graph store", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("shaayud shutdown complete")
}

// newLogger builds the process logger. SHAAYUD_DEBUG=true forces debug level.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if os.Getenv("SHAAYUD_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRuleSet reads the rule document at path. Without a path the service
// starts with an empty rule set and every record scores zero.
func loadRuleSet(path string) (*rules.RuleSet, error) {
	if path == "" {
		slog.Warn("no rule set configured (SHAAYUD_RULES_PATH), scoring with an empty rule set")
		return rules.New(0, 0, nil)
	}
	return rules.Load(path)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 SHAAYUD                   ║")
	fmt.Println("  ║   Behavioral Telemetry Ingest & Scoring   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Graph:    %s\n", cfg.Graph.Driver)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /ingest                  - Score and persist a record")
	fmt.Println("    POST /ingest/async            - Queue a record for the worker")
	fmt.Println("    GET  /events/{id}/scores      - Journal entries for an event")
	fmt.Println("    GET  /identities/{id}/events  - Recent events for an identity")
	fmt.Println("    GET  /rules                   - Loaded rule set")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println("    GET  /ready                   - Readiness check")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println()
}
