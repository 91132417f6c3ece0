package analyzer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/masahif/jobforge/internal/jobs"
)

// Throttled spaces calls to the wrapped analyzer to at most
// requestsPerMinute, waiting rather than failing.
type Throttled struct {
	next    Analyzer
	limiter *rate.Limiter
}

// NewThrottled wraps next. A non-positive rate disables throttling.
func NewThrottled(next Analyzer, requestsPerMinute int) *Throttled {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Analyze waits for a token, then delegates.
func (t *Throttled) Analyze(ctx context.Context, reqs []jobs.AnalyzerRequest) ([]jobs.AnalyzerResponse, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle wait: %v", jobs.ErrAnalyzer, err)
	}
	return t.next.Analyze(ctx, reqs)
}
