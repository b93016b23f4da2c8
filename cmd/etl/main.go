package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-etl/config"
	"order-etl/internal/app"
	"order-etl/internal/service"
	"order-etl/internal/util"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	stripe := flag.String("stripe", "", "override the optional Stripe source: true or false")
	output := flag.String("output", "", "override the output location")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	// -output replaces the configured location outright
	if *output != "" {
		cfg.Pipeline.OutputPath = *output
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer util.SyncLogger()

	logger := util.GetLogger()

	tp, err := util.InitTracer("order-etl", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Error("Failed to initialize tracer", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", zap.Error(err))
		return 1
	}
	defer a.Close()

	req := service.RunRequest{}
	switch *stripe {
	case "":
	case "true", "false":
		include := *stripe == "true"
		req.IncludeStripe = &include
	default:
		logger.Error("Invalid -stripe value, expected true or false", zap.String("value", *stripe))
		return 2
	}

	runResult, runErr := a.Runner.Run(ctx, req)

	if cfg.Observ.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := util.PushMetrics(pushCtx, cfg.Observ.PushgatewayURL, "order-etl"); err != nil {
			logger.Warn("Failed to push metrics", zap.Error(err))
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("Run failed",
			zap.String("run_id", runResult.ID),
			zap.String("stage", runResult.FailedStage),
			zap.Error(runErr))
		return 1
	}

	logger.Info("Run finished",
		zap.String("run_id", runResult.ID),
		zap.String("output", runResult.OutputPath),
		zap.Int("records", runResult.RowsWritten),
		zap.String("stripe_status", runResult.StripeStatus))
	return 0
}
