// Package main provides the journal relay entry point. It publishes wizard
// lifecycle events from PostgreSQL to the event topic.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/maatrinet/go-intake/internal/config"
	"github.com/maatrinet/go-intake/internal/domain/wizard"
	"github.com/maatrinet/go-intake/internal/infrastructure/postgres"
	"github.com/maatrinet/go-intake/internal/infrastructure/redpanda"
	"github.com/maatrinet/go-intake/internal/observability/logging"
	"github.com/maatrinet/go-intake/internal/observability/metrics"
	"github.com/maatrinet/go-intake/internal/observability/tracing"
)

const retention = 30 * 24 * time.Hour

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

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for the journal relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig("journal-relay")
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSample
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := wizard.NewJournal(pool, logger).Migrate(ctx); err != nil {
		logger.Fatal("journal migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	relayCfg := postgres.DefaultRelayConfig(cfg.EventsTopic)

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureEventTopics(ctx, relayCfg.Topic, relayCfg.DeadLetterTopic); err != nil {
		logger.Fatal("ensure topics failed", zap.Error(err))
	}
	admin.Close()

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	m := metrics.New(prometheus.DefaultRegisterer)
	relay := postgres.NewRelay(pool, producer, m, relayCfg, logger)
	relay.Start()

	go cleanup(ctx, relay, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := redpanda.HealthCheck(r.Context(), cfg.KafkaBrokers); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	relay.Stop()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(sctx)
}

func cleanup(ctx context.Context, relay *postgres.Relay, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := relay.Cleanup(ctx, retention)
			if err != nil {
				logger.Warn("journal cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("journal cleaned up", zap.Int64("rows", n))
			}
		}
	}
}
