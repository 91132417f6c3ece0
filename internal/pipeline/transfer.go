package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// Transfer promotes cleaned jobs to the pre-analyzed stage, consolidating
// postings that share a title, company, city and province.
type Transfer struct {
	store     TransferStore
	batchSize int
	logger    *slog.Logger
}

// NewTransfer creates the transfer stage.
func NewTransfer(store TransferStore, batchSize int, logger *slog.Logger) *Transfer {
	return &Transfer{store: store, batchSize: batchSize, logger: logger}
}

// RunBatch examines up to batchSize cleaned jobs not yet promoted.
func (t *Transfer) RunBatch(ctx context.Context) jobs.BatchResult {
	start := time.Now()
	res := jobs.BatchResult{Stage: jobs.StagePreAnalyzed}

	pending, err := t.store.PendingCleaned(ctx, t.batchSize)
	if err != nil {
		res.Message = fmt.Sprintf("failed to fetch cleaned jobs: %v", err)
		res.Duration = time.Since(start)
		t.logger.Error("Transfer batch aborted", "error", err)
		return res
	}
	res.Total = len(pending)

	for _, c := range pending {
		if ctx.Err() != nil {
			break
		}
		id, err := t.store.TransferCleaned(ctx, c)
		switch {
		case errors.Is(err, jobs.ErrDuplicate):
			res.Duplicates++
			t.logger.Debug("Skipped duplicate posting", "cleaned_id", c.ID)
		case err != nil:
			res.Failed++
			t.logger.Error("Failed to transfer cleaned job", "cleaned_id", c.ID, "error", err)
		default:
			res.Created++
			t.logger.Debug("Transferred cleaned job", "cleaned_id", c.ID, "pre_analyzed_id", id)
		}
	}

	res.Success = ctx.Err() == nil && res.Failed == 0
	res.Message = fmt.Sprintf("examined %d cleaned jobs: %d transferred, %d duplicates",
		res.Total, res.Created, res.Duplicates)
	res.Duration = time.Since(start)
	t.logger.Info("Transfer batch finished", batchAttrs(res)...)
	return res
}
