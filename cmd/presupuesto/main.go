package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"presupuesto/internal/amqp"
	"presupuesto/internal/cli"
	apphttp "presupuesto/internal/http"
	"presupuesto/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(log.New(log.DefaultConfig()), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(log.ComponentApp, cfg.SlogLevel(), os.Stdout)

	rt, err := cli.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize engine", err)
	}
	rt.Caches.StartCleanup(cfg.CacheSweepInterval)

	srv := apphttp.NewServer(":"+cfg.Port, rt.Engine, apphttp.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger,
	})

	var broker *amqp.Client
	if cfg.AMQPURL != "" {
		broker, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Refresh notifications are optional; entries still expire by TTL.
			logger.Warn("AMQP unavailable, cache invalidation on refresh disabled", log.FieldError, err)
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		rt.Caches.Stop()
		if broker != nil {
			broker.Close()
		}
	})

	if broker != nil {
		go func() {
			err := broker.ConsumeRefresh(ctx, func(ctx context.Context, msg *amqp.RefreshMessage) error {
				logger.InfoContext(ctx, "Refresh announced, invalidating cache",
					log.FieldRunID, msg.RunID,
					log.FieldFallback, msg.Fallback)
				rt.Engine.Invalidate()
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Refresh consumption stopped", log.FieldError, err)
			}
		}()
	}

	go func() {
		m := rt.Engine.Budget(ctx)
		rt.Engine.Mobility(ctx)
		srv.MarkReady()
		logger.Info("Warm-up complete",
			log.FieldSource, m.Source,
			log.FieldFallback, m.Fallback)
	}()

	logger.Info("Starting presupuesto server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
