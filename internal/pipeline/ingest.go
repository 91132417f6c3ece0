package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/masahif/jobforge/internal/jobs"
	"github.com/masahif/jobforge/internal/sanitize"
)

// ErrInvalidRequest is returned for ingest requests that fail validation.
var ErrInvalidRequest = errors.New("invalid ingest request")

// Ingester validates, sanitizes and appends raw scrapes.
type Ingester struct {
	store     RawStore
	sanitizer *sanitize.Sanitizer
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngester creates an ingester writing to store.
func NewIngester(store RawStore, sanitizer *sanitize.Sanitizer, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:     store,
		sanitizer: sanitizer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores one scrape and returns the persisted record.
func (i *Ingester) Ingest(ctx context.Context, req *jobs.IngestRequest) (*jobs.RawScrape, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if err := i.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	site := i.sanitizer.String(req.SourceWebsite)
	if site == "" {
		return nil, fmt.Errorf("%w: source_website is empty after sanitization", ErrInvalidRequest)
	}

	cleaned := i.sanitizer.Sanitize(req.RawData)
	raw := &jobs.RawScrape{
		ScrapeID:          uuid.NewString(),
		SourceWebsite:     site,
		SourceURL:         i.sanitizer.String(req.SourceURL),
		Payload:           cleaned.Payload,
		SynthesizedFields: cleaned.Synthesized,
		ScraperIdentity:   i.sanitizer.String(req.ScraperUsed),
		ScraperRunID:      i.sanitizer.String(req.ScraperRunID),
		CapturedAt:        i.now(),
	}

	if err := i.store.InsertRaw(ctx, raw); err != nil {
		return nil, err
	}
	if len(raw.SynthesizedFields) > 0 {
		i.logger.Debug("Synthesized identity fields", "scrape_id", raw.ScrapeID, "fields", raw.SynthesizedFields)
	}
	return raw, nil
}

// IngestAll stores every request independently. Invalid requests are
// counted as rejected; storage errors as failed.
func (i *Ingester) IngestAll(ctx context.Context, reqs []*jobs.IngestRequest) jobs.BatchResult {
	start := time.Now()
	res := jobs.BatchResult{Stage: jobs.StageRaw, Total: len(reqs)}

	for idx, req := range reqs {
		if err := ctx.Err(); err != nil {
			res.Message = "ingestion cancelled"
			res.Duration = time.Since(start)
			return res
		}
		_, err := i.Ingest(ctx, req)
		switch {
		case err == nil:
			res.Created++
		case errors.Is(err, ErrInvalidRequest):
			res.Rejected++
			i.logger.Warn("Rejected ingest request", "index", idx, "error", err)
		case errors.Is(err, jobs.ErrDuplicate):
			res.Duplicates++
		default:
			res.Failed++
			i.logger.Error("Failed to ingest scrape", "index", idx, "source_website", req.SourceWebsite, "error", err)
		}
	}

	res.Success = res.Failed == 0
	res.Message = fmt.Sprintf("ingested %d of %d scrapes", res.Created, res.Total)
	res.Duration = time.Since(start)
	i.logger.Info("Ingestion finished", batchAttrs(res)...)
	return res
}

// batchAttrs flattens a result into slog key/value pairs.
func batchAttrs(r jobs.BatchResult) []any {
	return []any{
		"stage", r.Stage,
		"success", r.Success,
		"total", r.Total,
		"created", r.Created,
		"merged", r.Merged,
		"duplicates", r.Duplicates,
		"rejected", r.Rejected,
		"orphaned", r.Orphaned,
		"failed", r.Failed,
		"duration", r.Duration,
	}
}
