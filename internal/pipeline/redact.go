package pipeline

import (
	"fmt"
	"strconv"

	"github.com/masahif/jobforge/internal/jobs"
)

// ephemeralPrefix names batch-scoped ids sent to the analyzer.
const ephemeralPrefix = "batch_job_"

// RedactedBatch is an analyzer request list plus the locally held mapping
// from ephemeral id to pre-analysis key. Only Requests leaves the process.
type RedactedBatch struct {
	Requests []jobs.AnalyzerRequest
	keys     map[string]string
}

// Redact builds the analyzer-facing records for rows. Each request carries
// only a sequential ephemeral id, the title, the description and the
// company name.
func Redact(rows []*jobs.PreAnalyzedJob) *RedactedBatch {
	b := &RedactedBatch{
		Requests: make([]jobs.AnalyzerRequest, 0, len(rows)),
		keys:     make(map[string]string, len(rows)),
	}
	for i, row := range rows {
		id := ephemeralPrefix + strconv.Itoa(i+1)
		b.Requests = append(b.Requests, jobs.AnalyzerRequest{
			ID:          id,
			Title:       row.JobTitle,
			Description: row.Description,
			CompanyName: row.CompanyName,
		})
		b.keys[id] = row.DedupKeyPre
	}
	return b
}

// Keys returns the pre-analysis keys of the batch in request order.
func (b *RedactedBatch) Keys() []string {
	out := make([]string, 0, len(b.Requests))
	for _, r := range b.Requests {
		out = append(out, b.keys[r.ID])
	}
	return out
}

// KeyFor resolves an ephemeral id back to its pre-analysis key.
func (b *RedactedBatch) KeyFor(ephemeralID string) (string, bool) {
	k, ok := b.keys[ephemeralID]
	return k, ok
}

// Correlate pairs responses with the batch by position. A length mismatch
// means the analyzer answer cannot be trusted and is an ErrAnalyzer.
func (b *RedactedBatch) Correlate(responses []jobs.AnalyzerResponse) ([]jobs.AnalysisResult, error) {
	if len(responses) != len(b.Requests) {
		return nil, fmt.Errorf("%w: got %d responses for %d requests", jobs.ErrAnalyzer, len(responses), len(b.Requests))
	}
	out := make([]jobs.AnalysisResult, len(responses))
	for i, resp := range responses {
		out[i] = jobs.AnalysisResult{
			DedupKeyPre:      b.keys[b.Requests[i].ID],
			AnalyzerResponse: resp,
		}
	}
	return out, nil
}
