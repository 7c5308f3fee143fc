package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/corona-data-etl/internal/adapter/feed"
	"github.com/couchcryptid/corona-data-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/corona-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/corona-data-etl/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/corona-data-etl/internal/adapter/redis"
	"github.com/couchcryptid/corona-data-etl/internal/config"
	"github.com/couchcryptid/corona-data-etl/internal/observability"
	"github.com/couchcryptid/corona-data-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, closers, err := openSinks(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open sinks", "error", err)
		os.Exit(1)
	}

	client := feed.NewClient(cfg.FetchTimeout, cfg.MaxBodyBytes, logger)
	loader := pipeline.NewLoader(cfg.Sources(), client, logger, metrics)
	snaps := pipeline.NewSnapshots()
	runner := pipeline.NewRunner(loader, snaps, sinks, clockwork.NewRealClock(), cfg.RefreshInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, snaps, runner, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start refresh loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil {
			logger.Error("refresh loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("refresh still in flight at shutdown deadline")
	}
	for name, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("sink close error", "sink", name, "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openSinks connects every configured sink. A sink that is configured but
// unreachable at startup is a fatal error.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]pipeline.Sink, map[string]io.Closer, error) {
	var sinks []pipeline.Sink
	closers := map[string]io.Closer{}
	fail := func(err error) ([]pipeline.Sink, map[string]io.Closer, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, nil, err
	}

	if cfg.KafkaEnabled {
		w := kafkaadapter.NewWriter(cfg, logger)
		if err := w.EnsureTopic(ctx); err != nil {
			logger.Warn("could not ensure kafka topic, relying on broker auto-creation", "topic", cfg.KafkaSinkTopic, "error", err)
		}
		sinks = append(sinks, w)
		closers[w.Name()] = w
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fail(err)
		}
		closers[store.Name()] = store
		if err := store.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
		logger.Info("postgres sink enabled")
	}

	if cfg.RedisAddr != "" {
		store := redisadapter.NewStore(cfg, logger)
		closers[store.Name()] = store
		if err := store.Ping(ctx); err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
		logger.Info("redis sink enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
	}

	if len(sinks) == 0 {
		logger.Info("no sinks configured, serving the dataset over http only")
	}
	return sinks, closers, nil
}
