package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// Merger commits analyzer results as canonical analyzed jobs.
type Merger struct {
	store  MergeStore
	logger *slog.Logger
}

// NewMerger creates a result merger.
func NewMerger(store MergeStore, logger *slog.Logger) *Merger {
	return &Merger{store: store, logger: logger}
}

// Merge commits each result in its own transaction. Unknown keys are
// counted as orphaned and existing analysis keys as duplicates; neither is
// fatal. The keys of results that failed for any other reason are returned
// so the caller can release them.
func (m *Merger) Merge(ctx context.Context, results []jobs.AnalysisResult) (jobs.BatchResult, []string) {
	start := time.Now()
	res := jobs.BatchResult{Stage: jobs.StageAnalyzed, Total: len(results)}
	var failedKeys []string

	for i := range results {
		r := &results[i]
		id, err := m.store.CommitAnalysis(ctx, r)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			res.Orphaned++
			m.logger.Warn("Orphaned analysis result", "industry", r.PrimaryIndustry)
		case errors.Is(err, jobs.ErrDuplicate):
			res.Duplicates++
			m.logger.Debug("Skipped duplicate analysis", "industry", r.PrimaryIndustry)
		case err != nil:
			res.Failed++
			failedKeys = append(failedKeys, r.DedupKeyPre)
			m.logger.Error("Failed to merge analysis result", "error", err)
		default:
			res.Created++
			m.logger.Debug("Saved analyzed job", "analyzed_id", id, "industry", r.PrimaryIndustry)
		}
	}

	res.Success = res.Failed == 0
	res.Message = fmt.Sprintf("merged %d results: %d saved, %d skipped", res.Total, res.Created, res.Skipped())
	res.Duration = time.Since(start)
	return res, failedKeys
}
