package handlers

import (
	"fmt"
	"path/filepath"

	"infodigest/internal/agents"
	"infodigest/internal/config"
	"infodigest/internal/email"
	"infodigest/internal/entitystore"
	"infodigest/internal/feeds"
	"infodigest/internal/fetch"
	"infodigest/internal/infostore"
	"infodigest/internal/llm"
	"infodigest/internal/logger"
	"infodigest/internal/orchestrator"
	"infodigest/internal/pipeline"
	"infodigest/internal/store"
	"infodigest/internal/telemetry"
	"infodigest/internal/vectorindex"
)

// app bundles the assembled components a command needs, plus their cleanup.
type app struct {
	cfg       *config.Config
	service   *pipeline.Service
	telemetry *telemetry.Recorder
	closers   []func() error
}

// close releases resources in reverse construction order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("cleanup failed", "error", err.Error())
		}
	}
}

// buildApp assembles the full pipeline from configuration. Overrides run
// after loading and before assembly, so command-line flags can trump the
// config file.
func buildApp(overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &app{cfg: cfg}

	articles, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open article store: %w", err)
	}
	a.closers = append(a.closers, articles.Close)

	var index vectorindex.Index
	if cfg.Storage.VectorDSN != "" {
		pgIndex, err := vectorindex.NewPgVectorIndex(cfg.Storage.VectorDSN)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open pgvector index: %w", err)
		}
		a.closers = append(a.closers, pgIndex.Close)
		index = pgIndex
	} else {
		sqliteIndex, err := vectorindex.NewSQLiteIndex(articles.DB())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open vector index: %w", err)
		}
		index = sqliteIndex
	}

	units, err := infostore.NewStore(articles.DB(), index)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open unit store: %w", err)
	}
	entities, err := entitystore.NewStore(articles.DB())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.NewRecorder(cfg.Telemetry.StoragePath,
			cfg.Telemetry.RetentionDays, cfg.Telemetry.MaxContentLength)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open telemetry recorder: %w", err)
		}
		a.closers = append(a.closers, recorder.Close)
		a.telemetry = recorder
	}

	var llmRecorder llm.Recorder
	if recorder != nil {
		llmRecorder = recorder
	}
	gateway, err := llm.NewClient(cfg.AI, llmRecorder)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to build llm gateway: %w", err)
	}

	registry, err := feeds.NewRegistry(cfg.App.FeedsFile)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load feed catalog: %w", err)
	}

	fetcher := fetch.NewFetcher(
		fetch.WithFetchWorkers(cfg.Concurrency.MaxConcurrentFetches),
		fetch.WithExtractWorkers(cfg.Concurrency.MaxConcurrentExtractions),
	)

	orch := orchestrator.New(gateway, index, units, entities,
		cfg.Entity.L3Roots, cfg.Concurrency.MaxConcurrentAnalyses)
	curator := agents.NewCurator(gateway, cfg.Filter.TopPickCount)
	sender := email.NewSender(cfg.Email)

	a.service = pipeline.NewService(cfg, registry, fetcher, articles, units, entities, orch, curator, sender)
	return a, nil
}

// telemetryPath returns the recorder database location for display.
func telemetryPath(cfg *config.Config) string {
	return filepath.Join(cfg.Telemetry.StoragePath, "telemetry.db")
}
