// Package pipeline runs the job-record stages: ingestion, cleaning,
// pre-analysis transfer, and the redacted analysis round trip. Every stage
// call returns a jobs.BatchResult so orchestration can treat them alike.
package pipeline

import (
	"context"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// RawStore persists immutable raw scrapes.
type RawStore interface {
	InsertRaw(ctx context.Context, r *jobs.RawScrape) error
}

// CleanStore is what the cleaning stage needs.
type CleanStore interface {
	PendingRaw(ctx context.Context, limit int) ([]*jobs.RawScrape, error)
	UpsertCleaned(ctx context.Context, scrapeID string, p *jobs.Posting, score float64) (id int64, merged bool, err error)
	RecordCleanRejected(ctx context.Context, scrapeID string) error
}

// TransferStore is what the pre-analysis transfer stage needs.
type TransferStore interface {
	PendingCleaned(ctx context.Context, limit int) ([]*jobs.CleanedJob, error)
	TransferCleaned(ctx context.Context, c *jobs.CleanedJob) (int64, error)
}

// QueueStore selects and releases rows for analysis.
type QueueStore interface {
	ClaimForAnalysis(ctx context.Context, limit int) ([]*jobs.PreAnalyzedJob, error)
	ReleaseQueued(ctx context.Context, keys []string) (int64, error)
	ReleaseStaleQueued(ctx context.Context, timeout time.Duration) (int64, error)
}

// MergeStore commits analyzer results.
type MergeStore interface {
	CommitAnalysis(ctx context.Context, r *jobs.AnalysisResult) (int64, error)
}

// StatsStore provides the read-only snapshot for statistics.
type StatsStore interface {
	Counts(ctx context.Context) (*jobs.Counts, error)
	ListMeta(ctx context.Context, prefix string) (map[string]string, error)
}

// Store is the full persistence surface used by the Runner.
type Store interface {
	RawStore
	CleanStore
	TransferStore
	QueueStore
	MergeStore
	StatsStore
	SetMeta(ctx context.Context, key, value string) error
}

// Analyzer is the external AI collaborator. Responses are matched to
// requests by position. The call blocks until the full answer arrives.
type Analyzer interface {
	Analyze(ctx context.Context, reqs []jobs.AnalyzerRequest) ([]jobs.AnalyzerResponse, error)
}

// Locker grants exclusive use of a named stage. TryLock returns
// jobs.ErrStageBusy when another holder has it.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}
