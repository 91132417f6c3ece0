package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// Stage names accepted by RunStage, in pipeline order.
const (
	StageClean    = "clean"
	StageTransfer = "transfer"
	StageAnalyze  = "analyze"
)

// Stages lists the runnable stages in order.
var Stages = []string{StageClean, StageTransfer, StageAnalyze}

// producedStage maps a runnable stage to the table it writes.
var producedStage = map[string]jobs.Stage{
	StageClean:    jobs.StageCleaned,
	StageTransfer: jobs.StagePreAnalyzed,
	StageAnalyze:  jobs.StageAnalyzed,
}

// Runner executes stages serially, each under its own lock, and records
// when each stage last ran.
type Runner struct {
	store    Store
	locker   Locker
	cleaner  *Cleaner
	transfer *Transfer
	analysis *Analysis
	logger   *slog.Logger
}

// NewRunner wires the stages around a store. analysis may be nil, in which
// case the analyze stage returns an error instead of running.
func NewRunner(store Store, locker Locker, cleaner *Cleaner, transfer *Transfer, analysis *Analysis, logger *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		locker:   locker,
		cleaner:  cleaner,
		transfer: transfer,
		analysis: analysis,
		logger:   logger,
	}
}

// RunStage runs one named stage. It returns jobs.ErrStageBusy if another
// run holds the stage lock.
func (r *Runner) RunStage(ctx context.Context, stage string) (jobs.BatchResult, error) {
	run, err := r.stageFunc(stage)
	if err != nil {
		return jobs.BatchResult{}, err
	}

	unlock, err := r.locker.TryLock(ctx, stage)
	if err != nil {
		return jobs.BatchResult{}, fmt.Errorf("stage %s: %w", stage, err)
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			r.logger.Warn("Failed to release stage lock", "stage", stage, "error", err)
		}
	}()

	res := run(ctx)
	if err := r.store.SetMeta(ctx, lastRunPrefix+stage, time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.logger.Warn("Failed to record last run", "stage", stage, "error", err)
	}
	return res, nil
}

// RunAll runs clean, transfer and analyze in order. A busy stage is
// reported as an unsuccessful result and the remaining stages still run.
func (r *Runner) RunAll(ctx context.Context) []jobs.BatchResult {
	results := make([]jobs.BatchResult, 0, len(Stages))
	for _, stage := range Stages {
		if ctx.Err() != nil {
			break
		}
		res, err := r.RunStage(ctx, stage)
		if err != nil {
			res = jobs.BatchResult{Stage: producedStage[stage], Message: err.Error()}
			if errors.Is(err, jobs.ErrStageBusy) {
				r.logger.Warn("Skipped busy stage", "stage", stage)
			} else {
				r.logger.Error("Stage failed", "stage", stage, "error", err)
			}
		}
		results = append(results, res)
	}
	return results
}

func (r *Runner) stageFunc(stage string) (func(context.Context) jobs.BatchResult, error) {
	switch stage {
	case StageClean:
		return r.cleaner.RunBatch, nil
	case StageTransfer:
		return r.transfer.RunBatch, nil
	case StageAnalyze:
		if r.analysis == nil {
			return nil, fmt.Errorf("stage %s: no analyzer configured", stage)
		}
		return r.analysis.Run, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}
