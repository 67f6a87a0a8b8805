package main

import (
	"context"
	"os"
	"time"

	"presupuesto/internal/amqp"
	"presupuesto/internal/cli"
	"presupuesto/internal/log"
	"presupuesto/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(log.New(log.DefaultConfig()), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(log.ComponentWorker, cfg.SlogLevel(), os.Stdout)
	logger.Info("Starting presupuesto-worker", "interval", cfg.RefreshInterval)

	rt, err := cli.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize engine", err)
	}

	var publisher amqp.Publisher
	var broker *amqp.Client
	if cfg.AMQPURL != "" {
		broker, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize AMQP client", err)
		}
		publisher = broker
	} else {
		logger.Info("AMQP_URL not set, refreshing without notifications")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if broker != nil {
			broker.Close()
		}
	})

	w := worker.NewRefreshWorker(rt.Engine, publisher, cfg.RefreshInterval, logger)
	if err := w.Run(ctx); err != nil {
		cli.Fatal(logger, "Refresh worker failed", err)
	}

	<-done
	logger.Info("Worker stopped gracefully")
}
