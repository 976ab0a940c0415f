// Package main provides the intake API entry point: a backend-for-frontend
// that hosts wizard sessions, dashboards and the assistant for thin clients.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/api/handlers"
	"github.com/maatrinet/go-intake/internal/api/middleware"
	"github.com/maatrinet/go-intake/internal/assistant"
	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/config"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/observability/logging"
	"github.com/maatrinet/go-intake/internal/observability/metrics"
	"github.com/maatrinet/go-intake/internal/observability/tracing"
	"github.com/maatrinet/go-intake/internal/session"
	"github.com/maatrinet/go-intake/pkg/workerpool"
)

const serviceName = "intake-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSample
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	backendCfg := backend.DefaultConfig()
	backendCfg.BaseURL = cfg.BackendURL
	backendCfg.Timeout = cfg.BackendTimeout
	backendCfg.Retries = cfg.BackendRetries
	client := backend.New(backendCfg, logger).WithObserver(m)

	// The journal is optional; without a database drafts and events stay
	// in memory only.
	var (
		pool    *pgxpool.Pool
		journal handlers.EventSink
	)
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		j := wizard.NewJournal(pool, logger)
		if err := j.Migrate(ctx); err != nil {
			logger.Fatal("journal migration failed", zap.Error(err))
		}
		journal = j
		logger.Info("wizard journal enabled")
	}

	sessions := session.NewMemoryStore(12 * time.Hour)
	registry := handlers.NewRegistry(cfg.WizardIdleTTL, logger)
	go registry.Run(ctx, time.Minute)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.SubmitWorkers
	poolCfg.QueueSize = cfg.SubmitWorkers * 32
	wizards, err := handlers.NewWizardHandler(handlers.WizardConfig{
		Registry:      registry,
		Submitters:    handlers.BackendSubmitters(client),
		Seeder:        handlers.ProfileSeeder(client),
		Journal:       journal,
		Metrics:       m,
		Fallbacks:     cfg.Fallbacks(),
		SubmitTimeout: cfg.BackendTimeout + 5*time.Second,
		Logger:        logger,
	}, poolCfg)
	if err != nil {
		logger.Fatal("wizard handler init failed", zap.Error(err))
	}
	wizards.Start()

	auth := handlers.NewAuthHandler(client, sessions, logger)
	dashboards := handlers.NewDashboardHandler(handlers.ClientFor(client), logger)
	chat := handlers.NewAssistantHandler(responders(cfg, client), m, logger)

	go publishBreakers(ctx, client, m)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ready := map[string]any{
			"backend": client.Breakers(),
			"submits": wizards.Stats(),
		}
		status := http.StatusOK
		if !wizards.Healthy() {
			status = http.StatusServiceUnavailable
		}
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				ready["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(ready)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", auth.Login)
		r.Post("/logout", auth.Logout)
		r.Get("/me", auth.Me)

		// self-registration runs without a session
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalSession(sessions))
			r.Mount("/wizards", wizards.Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(sessions))
			r.Mount("/assistant", chat.Routes())
			r.Mount("/", dashboards.Routes())
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting intake API",
		zap.String("port", cfg.Port),
		zap.String("backend", cfg.BackendURL),
		zap.Duration("wizard_idle_ttl", cfg.WizardIdleTTL))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	if err := wizards.Stop(); err != nil {
		logger.Warn("submit pool stop", zap.Error(err))
	}
	logger.Info("server stopped")
}

func responders(cfg *config.Config, client *backend.Client) handlers.ResponderFor {
	if cfg.AssistantMode == config.AssistantOpenAI {
		oa := assistant.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, "")
		return func(session.User) assistant.Responder { return oa }
	}
	return func(u session.User) assistant.Responder { return assistant.Backend(client.WithToken(u.Token)) }
}

func publishBreakers(ctx context.Context, client *backend.Client, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetBreakers(client.Breakers())
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"intake-api"}`))
}
