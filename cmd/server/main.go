// Sidekick - live GM assistant trigger engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/sidekick/internal/advisor"
	"github.com/ashureev/sidekick/internal/api"
	"github.com/ashureev/sidekick/internal/classifier"
	"github.com/ashureev/sidekick/internal/clock"
	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/ingest"
	"github.com/ashureev/sidekick/internal/lexicon"
	"github.com/ashureev/sidekick/internal/middleware"
	"github.com/ashureev/sidekick/internal/pacing"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/ashureev/sidekick/internal/telemetry"
)

// version is set at build time.
var version = "dev"

// pruneEvery is the number of ticks between snapshot pruning passes.
const pruneEvery = 30

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocognit,funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", version)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    "sidekick",
		Version:        version,
		Insecure:       cfg.Telemetry.Insecure,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	hub := advisor.NewHub(cfg.HubSettings(), logger)
	defer hub.Close()

	// Advisor is optional; without one every batch is summarized locally.
	var (
		proc          advisor.Processor = advisor.SummaryProcessor{}
		advisorHealth api.AdvisorHealth
	)
	if cfg.AdvisorAddr != "" {
		gc, err := advisor.NewGrpcClient(advisor.GrpcClientConfig{Address: cfg.AdvisorAddr}, logger)
		if err != nil {
			slog.Warn("Failed to connect to advisor, falling back to batch summaries", "error", err)
		} else {
			defer gc.Close()
			proc = gc
			advisorHealth = gc
		}
	} else {
		slog.Info("Advisor disabled (SIDEKICK_ADVISOR_ADDR not set), using batch summaries")
	}

	dispatcher := advisor.NewDispatcher(proc, repo, hub, cfg.DispatcherSettings(), logger)

	opts := []classifier.Option{classifier.WithLogger(logger)}
	var lex *lexicon.Controller
	if cfg.LexiconPath != "" {
		lex = lexicon.NewController(cfg.LexiconPath, logger)
		opts = append(opts, classifier.WithCacheController(lex))
	}
	clf := classifier.New(cfg.ClassifierSettings(), nil, clock.Real{}, dispatcher, opts...)
	defer clf.Close()

	snap, err := repo.LatestSnapshot(ctx)
	switch {
	case err != nil:
		slog.Warn("Failed to load pacing snapshot, starting fresh", "error", err)
		clf.StartSession()
	case snap == nil:
		clf.StartSession()
	default:
		clf.Restore(*snap)
		slog.Info("Pacing state restored", "state", snap.AssistantState, "act", snap.Act, "scene", snap.Scene)
	}

	if lex != nil {
		lex.Bind(clf)
		if err := lex.Build(); err != nil {
			slog.Warn("Lexicon build failed, NPC and scene detection disabled until reload", "error", err)
		}
		if cfg.WatchLexicon {
			watcher, err := lexicon.NewWatcher(cfg.LexiconPath, lex.Apply, logger)
			if err != nil {
				return fmt.Errorf("create lexicon watcher: %w", err)
			}
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("Lexicon watcher failed to start", "error", err)
			}
			defer watcher.Stop()
		}
	}

	dispatcher.Start(ctx, clf)
	defer dispatcher.Stop()

	ticks := 0
	classifier.StartTickWorker(ctx, clf, cfg.TickInterval, func(state pacing.State) {
		hub.Publish(advisor.EventState, state)
		if err := repo.SaveSnapshot(ctx, state, time.Now()); err != nil {
			slog.Warn("Failed to persist pacing snapshot", "error", err)
		}
		ticks++
		if ticks%pruneEvery == 0 {
			if n, err := repo.PruneSnapshots(ctx, cfg.SnapshotKeep); err != nil {
				slog.Warn("Failed to prune snapshots", "error", err)
			} else if n > 0 {
				slog.Debug("Pruned pacing snapshots", "removed", n)
			}
		}
	})

	bridges := ingest.NewBridgeManager()
	baseHandler := api.NewHandler(clf, repo)
	sessionHandler := api.NewSessionHandler(baseHandler, hub)
	healthHandler := api.NewHealthHandler(repo, advisorHealth)
	wsHandler := ingest.NewWebSocketHandler(clf, bridges, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	r.Get("/health", healthHandler.ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.BridgeToken))
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/bridge", wsHandler.ServeHTTP)
	})

	// SSE needs no WriteTimeout; the hub keeps connections alive.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		bridges.CloseAll()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
