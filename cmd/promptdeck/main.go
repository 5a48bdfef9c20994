package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	pdhttp "github.com/promptdeck/promptdeck/internal/adapter/http"
	"github.com/promptdeck/promptdeck/internal/adapter/mcp"
	pdnats "github.com/promptdeck/promptdeck/internal/adapter/nats"
	"github.com/promptdeck/promptdeck/internal/adapter/natskv"
	pdotel "github.com/promptdeck/promptdeck/internal/adapter/otel"
	"github.com/promptdeck/promptdeck/internal/adapter/postgres"
	"github.com/promptdeck/promptdeck/internal/adapter/ristretto"
	"github.com/promptdeck/promptdeck/internal/adapter/scoringhttp"
	"github.com/promptdeck/promptdeck/internal/adapter/tiered"
	"github.com/promptdeck/promptdeck/internal/adapter/ws"
	"github.com/promptdeck/promptdeck/internal/config"
	"github.com/promptdeck/promptdeck/internal/logger"
	"github.com/promptdeck/promptdeck/internal/middleware"
	"github.com/promptdeck/promptdeck/internal/resilience"
	"github.com/promptdeck/promptdeck/internal/service"
)

const version = "0.1.0"

func main() {
	// Bootstrap logger until the configured one takes over.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "admin" {
		if err := runAdmin(args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, yamlPath)

	log, logClose := logger.New(cfg.Logging)
	defer logClose.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"eval_interval", cfg.Decision.EvalInterval,
	)

	ctx := context.Background()

	// --- Telemetry ---
	var metrics *pdotel.Metrics
	if cfg.Otel.Enabled {
		shutdown, err := pdotel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Error("otel shutdown", "error", err)
			}
		}()

		metrics, err = pdotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	// Run migrations
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := pdnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Prompt cache: in-process L1 in front of a shared JetStream KV L2, so
	// every instance agrees on active versions without hitting Postgres on
	// each job dispatch.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	promptCache := tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)

	// Scoring engine client, behind a circuit breaker.
	scores := scoringhttp.NewClient(cfg.Scoring.BaseURL, cfg.Scoring.APIKey)
	scores.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	promptSvc := service.NewPromptService(store, queue, hub)
	promptSvc.SetCache(promptCache, cfg.Cache.TTL)
	experimentSvc := service.NewExperimentService(store, queue, hub)
	decisionSvc := service.NewDecisionService(store, scores, experimentSvc, promptSvc, hub, &cfg.Decision)
	assignSvc := service.NewAssignService(store, promptSvc)
	if metrics != nil {
		promptSvc.SetMetrics(metrics)
		experimentSvc.SetMetrics(metrics)
		decisionSvc.SetMetrics(metrics)
	}

	// Cross-instance cache invalidation on activation events.
	cancelActivations, err := promptSvc.StartActivationSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("activation subscriber: %w", err)
	}
	defer cancelActivations()

	// Periodic evaluation of running experiments.
	stopEvaluator := decisionSvc.StartEvaluator(ctx)
	defer stopEvaluator()

	// --- HTTP ---
	handlers := &pdhttp.Handlers{
		Prompts:     promptSvc,
		Experiments: experimentSvc,
		Decisions:   decisionSvc,
		Assignments: assignSvc,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(pdhttp.SecurityHeaders)
	r.Use(pdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(pdhttp.Logger)
	r.Use(chimw.Recoverer)
	// The limiter keys buckets on the TCP peer, so it must run before
	// RealIP rewrites RemoteAddr from forwarding headers.
	r.Use(limiter.Handler)
	r.Use(chimw.RealIP)
	if cfg.Otel.Enabled {
		r.Use(pdotel.HTTPMiddleware(cfg.Logging.Service))
	}

	// Health endpoint with component status. Probes carry their own
	// deadline, so it lives outside the timeout group.
	r.Get("/health", healthHandler(pool, queue, scores, hub))

	// WebSocket endpoint. Also outside the timeout group: the handler
	// blocks for the life of the connection and a request deadline would
	// cut every client off after 30 seconds.
	r.Get("/ws", hub.HandleWS)

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		pdhttp.MountRoutes(r, handlers)
	})

	// --- MCP (optional) ---
	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "promptdeck",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{
			Prompts:     promptSvc,
			Experiments: experimentSvc,
			Decisions:   decisionSvc,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		slog.Info("mcp server started", "addr", cfg.MCP.Addr)
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP reloads the config file; only the log level takes effect without
	// a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			logger.SetLevel(holder.Get().Logging.Level)
			slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
		}
	}()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			slog.Error("mcp shutdown", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return queue.Drain()
}

// healthHandler returns an http.HandlerFunc that reports component health.
func healthHandler(pool *pgxpool.Pool, queue *pdnats.Queue, scores *scoringhttp.Client, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Postgres      string `json:"postgres"`
		NATS          string `json:"nats"`
		Scoring       string `json:"scoring"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{
			Status:        "ok",
			Postgres:      "up",
			NATS:          "up",
			Scoring:       "up",
			WSConnections: hub.ConnectionCount(),
		}
		if err := pool.Ping(ctx); err != nil {
			status.Postgres = "down"
			status.Status = "degraded"
		}
		if !queue.IsConnected() {
			status.NATS = "down"
			status.Status = "degraded"
		}
		// The scoring engine is a soft dependency: experiments keep recording
		// results while it is down, only evaluations stall.
		if ok, _ := scores.Health(ctx); !ok {
			status.Scoring = "down"
			if status.Status == "ok" {
				status.Status = "degraded"
			}
		}

		code := http.StatusOK
		if status.Postgres == "down" || status.NATS == "down" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
