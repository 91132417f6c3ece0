package jobs

import "time"

// BatchResult is the uniform outcome of every stage call so orchestration
// can treat them identically. Counters that do not apply to a stage stay zero.
type BatchResult struct {
	Stage      Stage         `json:"stage"`
	Success    bool          `json:"success"`
	Total      int           `json:"total"`
	Created    int           `json:"created"`
	Merged     int           `json:"merged,omitempty"`
	Duplicates int           `json:"duplicates,omitempty"`
	Rejected   int           `json:"rejected,omitempty"`
	Orphaned   int           `json:"orphaned,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration_ns"`
}

// Skipped is the number of items not turned into a new record for a reason
// other than failure.
func (r *BatchResult) Skipped() int {
	return r.Merged + r.Duplicates + r.Rejected + r.Orphaned
}

// Counts is the raw per-stage row count snapshot read by the statistics aggregator.
type Counts struct {
	Raw                  int `json:"raw_count"`
	Cleaned              int `json:"cleaned_count"`
	PreAnalyzed          int `json:"pre_analyzed_count"`
	PreAnalyzedQueued    int `json:"pre_analyzed_queued_count"`
	PreAnalyzedProcessed int `json:"pre_analyzed_processed_count"`
	Analyzed             int `json:"analyzed_count"`
	AnalysisCompleted    int `json:"analysis_completed_count"`
	Companies            int `json:"company_count"`
}

// Stats is the statistics query output: counts plus stage conversion rates
// expressed as percentages.
type Stats struct {
	Counts
	ConversionRates map[string]float64 `json:"stage_conversion_rates"`
	LastRuns        map[string]string  `json:"last_runs,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}
