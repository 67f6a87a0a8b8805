// Package cli holds the start-up steps shared by cmd/presupuesto,
// cmd/presupuesto-worker and cmd/budgetctl.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"presupuesto/internal/backend"
	"presupuesto/internal/cache"
	"presupuesto/internal/config"
	"presupuesto/internal/ingest"
	"presupuesto/internal/log"
	"presupuesto/internal/sources/snapshot"
)

// SetupLogger builds the process logger and makes it the slog default.
func SetupLogger(component string, level slog.Level, out io.Writer) *log.Logger {
	logger := log.New(log.Config{Level: level, Component: component, Output: out})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads a .env file for local development. A missing file is
// not an error.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runtime is everything a command needs to serve results.
type Runtime struct {
	Config   *config.Config
	Catalog  *config.Catalog
	Snapshot *snapshot.Snapshot
	Engine   *ingest.Engine
	Caches   *cache.Manager
}

// Bootstrap loads the catalog and the fallback snapshot, builds every
// candidate source and wires the engine. Nothing is fetched yet.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	cat, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	snap, err := snapshot.New()
	if err != nil {
		return nil, fmt.Errorf("load fallback snapshot: %w", err)
	}
	if y := snap.Budget().FiscalYear; y != cat.FiscalYear {
		logger.Warn("Fallback snapshot covers a different fiscal year",
			log.FieldFiscalYear, cat.FiscalYear,
			"snapshot_fiscal_year", y,
			log.FieldSnapshotVersion, snap.Version())
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	pipelines, err := backend.BuildPipelines(ctx, backend.NewFactory(backendCfg, logger), cat)
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}

	cl := cat.Classification
	engine, err := ingest.NewEngine(pipelines, ingest.Fallbacks{
		Budget:   snapshot.BudgetProvider{S: snap},
		Mobility: snapshot.MobilityProvider{S: snap},
	}, ingest.Options{
		FiscalYear:      cat.FiscalYear,
		PriorFiscalYear: cat.PriorFiscalYear,
		Schema:          cat.SchemaTable(),
		Classifier:      ingest.NewClassifier(cl.TravelConceptPrefix, cl.FuelConceptPrefix, cl.FlightLineItemPrefixes...),
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	caches := cache.NewManager(logger.Logger.With(log.FieldComponent, log.ComponentCache))
	engine.RegisterCaches(caches)

	logger.Info("Engine ready",
		log.FieldOperation, log.OpStartup,
		log.FieldFiscalYear, cat.FiscalYear,
		"budget_candidates", len(pipelines.Budget),
		"mobility_candidates", len(pipelines.MobilityCurrent),
		"prior_candidates", len(pipelines.MobilityPrior),
		log.FieldSnapshotVersion, snap.Version(),
		"snapshot_published_at", snap.PublishedAt().Format(time.DateOnly))

	return &Runtime{Config: cfg, Catalog: cat, Snapshot: snap, Engine: engine, Caches: caches}, nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. After
// the signal, cleanup runs with a context bounded by timeout and the
// returned channel is closed once it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		stop()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// Fatal logs err and exits.
func Fatal(logger *log.Logger, msg string, err error) {
	logger.Error(msg, log.FieldError, err)
	os.Exit(1)
}
