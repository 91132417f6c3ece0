package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/masahif/jobforge/internal/analyzer"
	"github.com/masahif/jobforge/internal/config"
	"github.com/masahif/jobforge/internal/lock"
	"github.com/masahif/jobforge/internal/logging"
	"github.com/masahif/jobforge/internal/normalize"
	"github.com/masahif/jobforge/internal/pipeline"
	"github.com/masahif/jobforge/internal/sanitize"
	"github.com/masahif/jobforge/internal/storage"
)

// newAnalyzer builds the external analyzer. It returns nil when no API key
// is configured; tests replace it with a fake.
var newAnalyzer = func(cfg *config.Config, logger *slog.Logger) pipeline.Analyzer {
	apiKey := cfg.AnalyzerAPIKey()
	if apiKey == "" {
		return nil
	}
	claude := analyzer.NewClaude(apiKey, cfg.Analyzer.Model, cfg.Analyzer.MaxTokens, cfg.Analyzer.Timeout,
		logging.Component(logger, "analyzer"))
	return analyzer.NewThrottled(claude, cfg.Analyzer.RequestsPerMinute)
}

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStore
	locker  pipeline.Locker
	closers []io.Closer
}

// newApp validates cfg, sets up logging, opens the store and picks the
// stage locker.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, logCloser, err := logging.Setup(logging.Config{
		Level:      level,
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	// Create database directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0750); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	store.SetLogger(logging.Component(logger, "storage"))
	a.store = store
	a.closers = append(a.closers, store)

	if cfg.RedisURL != "" {
		redisLock, err := lock.DialRedis(ctx, cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.locker = redisLock
		a.closers = append(a.closers, redisLock)
	} else {
		a.locker = lock.NewLocal()
	}

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *app) ingester() *pipeline.Ingester {
	opts := sanitize.DefaultOptions()
	opts.MaxLength = a.cfg.Sanitizer.MaxLength
	return pipeline.NewIngester(a.store, sanitize.New(opts), logging.Component(a.logger, "ingest"))
}

// runner wires every stage. Without an analyzer the analyze stage reports
// an error and the other stages still run.
func (a *app) runner() *pipeline.Runner {
	cleaner := pipeline.NewCleaner(a.store, normalize.NewExtractor(a.cfg.Normalizer.DefaultCurrency),
		a.cfg.Batch.CleanSize, logging.Component(a.logger, "clean"))
	transfer := pipeline.NewTransfer(a.store, a.cfg.Batch.TransferSize, logging.Component(a.logger, "transfer"))

	var analysis *pipeline.Analysis
	if az := newAnalyzer(a.cfg, a.logger); az != nil {
		analysis = pipeline.NewAnalysis(a.store, az, a.cfg.Batch.QueueSize, a.cfg.StaleQueueTimeout,
			logging.Component(a.logger, "analysis"))
	} else {
		a.logger.Warn("No analyzer API key configured; analyze stage disabled",
			"api_key_env", a.cfg.Analyzer.APIKeyEnv)
	}

	return pipeline.NewRunner(a.store, a.locker, cleaner, transfer, analysis, logging.Component(a.logger, "runner"))
}
