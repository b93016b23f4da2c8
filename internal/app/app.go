// Package app wires configuration into a runnable pipeline. Both binaries
// share it.
package app

import (
	"context"
	"fmt"

	"order-etl/config"
	"order-etl/internal/broker"
	"order-etl/internal/redisclient"
	"order-etl/internal/service"
	"order-etl/internal/source"
	"order-etl/internal/store"
	"order-etl/internal/worker"

	"go.uber.org/zap"
)

// App holds the pipeline and whichever backing services are configured
type App struct {
	Runner    *service.Runner
	Store     *store.Store
	Redis     *redisclient.Client
	Producer  *broker.Producer
	Publisher *broker.EventPublisher

	logger  *zap.Logger
	closers []func() error
}

// New connects the configured backing services and builds the runner.
// Services without configuration are skipped.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	if cfg.Database.URL != "" {
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Store = db
		logger.Info("Database connected")
	}

	if cfg.Redis.Addr != "" {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		a.Redis = rc
		logger.Info("Redis connected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.Producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRuns)
		a.closers = append(a.closers, a.Producer.Close)
		a.Publisher = broker.NewEventPublisher(a.Producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	a.Runner = a.buildRunner(cfg)
	return a, nil
}

func (a *App) buildRunner(cfg *config.Config) *service.Runner {
	p := cfg.Pipeline

	zuora := source.NewZuoraReader(p.ZuoraPath, a.logger).WithDelimiter(p.ZuoraDelimiter)

	var stripe service.OrderSource
	if p.StripeURL != "" {
		stripe = source.NewStripeReader(p.StripeURL, p.StripeAPIKey, p.StripeTimeout, a.logger)
	}

	orch := service.NewOrchestrator(zuora, stripe, p.OutputPath, a.logger)
	runner := service.NewRunner(orch, p.StripeEnabled, a.logger)

	if a.Store != nil {
		orch.WithRecorder(a.Store)
		runner.WithStore(a.Store)
	}
	if a.Redis != nil {
		runner.WithLock(a.Redis, cfg.Redis.LockTTL).WithCache(a.Redis)
	}
	if a.Publisher != nil {
		runner.WithPublisher(a.Publisher)
	}
	return runner
}

// EventLog returns the event dedup log for the run worker, preferring the
// database over Redis. It is nil when neither is configured.
func (a *App) EventLog() worker.EventLog {
	if a.Store != nil {
		return a.Store
	}
	if a.Redis != nil {
		return a.Redis
	}
	return nil
}

// Close releases backing services in reverse order of creation
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close: %w", err)
		}
	}
	a.closers = nil
	return firstErr
}
