package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// Conversion rate names in the statistics output.
const (
	RateCleanedFromRaw         = "cleaned_from_raw"
	RatePreAnalyzedFromCleaned = "pre_analyzed_from_cleaned"
	RateAnalyzedFromPre        = "analyzed_from_pre_analyzed"
	RateCompletedFromAnalyzed  = "completed_from_analyzed"
)

const lastRunPrefix = "last_run."

// Stats reads per-stage counts and derives conversion rates. It has no side effects.
func Stats(ctx context.Context, store StatsStore) (*jobs.Stats, error) {
	counts, err := store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage counts: %w", err)
	}

	meta, err := store.ListMeta(ctx, lastRunPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read last runs: %w", err)
	}
	lastRuns := make(map[string]string, len(meta))
	for k, v := range meta {
		lastRuns[strings.TrimPrefix(k, lastRunPrefix)] = v
	}

	return &jobs.Stats{
		Counts:          *counts,
		ConversionRates: ConversionRates(counts),
		LastRuns:        lastRuns,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// ConversionRates expresses each stage count as a percentage of the
// previous stage. A zero denominator yields 0.
func ConversionRates(c *jobs.Counts) map[string]float64 {
	return map[string]float64{
		RateCleanedFromRaw:         percent(c.Cleaned, c.Raw),
		RatePreAnalyzedFromCleaned: percent(c.PreAnalyzed, c.Cleaned),
		RateAnalyzedFromPre:        percent(c.Analyzed, c.PreAnalyzed),
		RateCompletedFromAnalyzed:  percent(c.AnalysisCompleted, c.Analyzed),
	}
}

func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 100
}
