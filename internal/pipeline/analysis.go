package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/masahif/jobforge/internal/jobs"
)

// AnalysisStore is what one analysis round trip needs.
type AnalysisStore interface {
	QueueStore
	MergeStore
}

// Analysis runs queue-select, redaction, the analyzer call and the merge
// as one fail-closed unit.
type Analysis struct {
	store        AnalysisStore
	analyzer     Analyzer
	merger       *Merger
	validate     *validator.Validate
	batchSize    int
	staleTimeout time.Duration
	logger       *slog.Logger
}

// NewAnalysis creates the analysis stage. A positive staleTimeout releases
// rows left queued by an earlier crashed run before selecting.
func NewAnalysis(store AnalysisStore, analyzer Analyzer, batchSize int, staleTimeout time.Duration, logger *slog.Logger) *Analysis {
	return &Analysis{
		store:        store,
		analyzer:     analyzer,
		merger:       NewMerger(store, logger),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		batchSize:    batchSize,
		staleTimeout: staleTimeout,
		logger:       logger,
	}
}

// Run performs one analysis batch. If the analyzer fails or answers with
// malformed data nothing is merged, the selected rows are released for a
// later run and the result reports Success=false.
func (a *Analysis) Run(ctx context.Context) jobs.BatchResult {
	start := time.Now()
	res := jobs.BatchResult{Stage: jobs.StageAnalyzed}
	finish := func(msg string) jobs.BatchResult {
		res.Message = msg
		res.Duration = time.Since(start)
		a.logger.Info("Analysis batch finished", batchAttrs(res)...)
		return res
	}

	if a.staleTimeout > 0 {
		if n, err := a.store.ReleaseStaleQueued(ctx, a.staleTimeout); err != nil {
			a.logger.Warn("Failed to release stale queued rows", "error", err)
		} else if n > 0 {
			a.logger.Info("Released stale queued rows", "count", n)
		}
	}

	rows, err := a.store.ClaimForAnalysis(ctx, a.batchSize)
	if err != nil {
		return finish(fmt.Sprintf("failed to select jobs for analysis: %v", err))
	}
	if len(rows) == 0 {
		res.Success = true
		return finish("no jobs eligible for analysis")
	}
	res.Total = len(rows)

	batch := Redact(rows)
	results, err := a.analyze(ctx, batch)
	if err != nil {
		a.release(batch.Keys())
		res.Failed = res.Total
		a.logger.Error("Analyzer call failed", "jobs", res.Total, "error", err)
		return finish(fmt.Sprintf("analysis aborted: %v", err))
	}

	merged, failedKeys := a.merger.Merge(ctx, results)
	if len(failedKeys) > 0 {
		a.release(failedKeys)
	}
	res.Success = merged.Success
	res.Created = merged.Created
	res.Duplicates = merged.Duplicates
	res.Orphaned = merged.Orphaned
	res.Failed = merged.Failed
	return finish(merged.Message)
}

// analyze calls the analyzer and validates its whole answer before any of
// it is merged.
func (a *Analysis) analyze(ctx context.Context, batch *RedactedBatch) ([]jobs.AnalysisResult, error) {
	responses, err := a.analyzer.Analyze(ctx, batch.Requests)
	if err != nil {
		if errors.Is(err, jobs.ErrAnalyzer) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", jobs.ErrAnalyzer, err)
	}

	results, err := batch.Correlate(responses)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if err := a.validate.Struct(&results[i].AnalyzerResponse); err != nil {
			return nil, fmt.Errorf("%w: response %d is malformed: %v", jobs.ErrAnalyzer, i+1, err)
		}
	}
	return results, nil
}

// release un-queues keys with a context detached from the batch so that a
// cancelled run still frees its rows.
func (a *Analysis) release(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := a.store.ReleaseQueued(ctx, keys)
	if err != nil {
		a.logger.Error("Failed to release queued rows", "count", len(keys), "error", err)
		return
	}
	a.logger.Info("Released queued rows", "count", n)
}
