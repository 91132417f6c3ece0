package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
	"github.com/masahif/jobforge/internal/normalize"
)

// Cleaner turns pending raw scrapes into cleaned jobs, merging repeat
// sightings of the same (external_job_id, source_website).
type Cleaner struct {
	store     CleanStore
	extractor *normalize.Extractor
	batchSize int
	logger    *slog.Logger
}

// NewCleaner creates the cleaning stage.
func NewCleaner(store CleanStore, extractor *normalize.Extractor, batchSize int, logger *slog.Logger) *Cleaner {
	return &Cleaner{store: store, extractor: extractor, batchSize: batchSize, logger: logger}
}

// RunBatch processes up to batchSize raw scrapes. Each item commits on its
// own; a failing item is counted and skipped.
func (c *Cleaner) RunBatch(ctx context.Context) jobs.BatchResult {
	start := time.Now()
	res := jobs.BatchResult{Stage: jobs.StageCleaned}

	pending, err := c.store.PendingRaw(ctx, c.batchSize)
	if err != nil {
		res.Message = fmt.Sprintf("failed to fetch raw scrapes: %v", err)
		res.Duration = time.Since(start)
		c.logger.Error("Cleaning batch aborted", "error", err)
		return res
	}
	res.Total = len(pending)

	for _, raw := range pending {
		if ctx.Err() != nil {
			break
		}
		c.cleanOne(ctx, raw, &res)
	}

	res.Success = ctx.Err() == nil && res.Failed == 0
	res.Message = fmt.Sprintf("cleaned %d raw scrapes: %d created, %d merged, %d rejected",
		res.Total, res.Created, res.Merged, res.Rejected)
	res.Duration = time.Since(start)
	c.logger.Info("Cleaning batch finished", batchAttrs(res)...)
	return res
}

func (c *Cleaner) cleanOne(ctx context.Context, raw *jobs.RawScrape, res *jobs.BatchResult) {
	posting, err := c.extractor.Extract(raw)
	if errors.Is(err, jobs.ErrRejected) {
		res.Rejected++
		c.logger.Warn("Rejected raw scrape", "scrape_id", raw.ScrapeID, "source_website", raw.SourceWebsite)
		if err := c.store.RecordCleanRejected(ctx, raw.ScrapeID); err != nil && !errors.Is(err, jobs.ErrDuplicate) {
			c.logger.Error("Failed to record rejection", "scrape_id", raw.ScrapeID, "error", err)
		}
		return
	}
	if err != nil {
		res.Failed++
		c.logger.Error("Failed to extract raw scrape", "scrape_id", raw.ScrapeID, "error", err)
		return
	}

	score := normalize.Score(posting)
	id, merged, err := c.store.UpsertCleaned(ctx, raw.ScrapeID, posting, score)
	switch {
	case errors.Is(err, jobs.ErrDuplicate):
		// another run examined this scrape concurrently
		res.Duplicates++
	case err != nil:
		res.Failed++
		c.logger.Error("Failed to store cleaned job", "scrape_id", raw.ScrapeID, "error", err)
	case merged:
		res.Merged++
		c.logger.Debug("Merged duplicate posting", "scrape_id", raw.ScrapeID, "cleaned_id", id)
	default:
		res.Created++
		c.logger.Debug("Created cleaned job", "scrape_id", raw.ScrapeID, "cleaned_id", id, "confidence", score)
	}
}
