package normalize

import (
	"strings"

	"github.com/masahif/jobforge/internal/jobs"
)

// InferArrangement scans job-type tags first, then the given texts:
// "remote" wins, then "hybrid"/"flexible", otherwise onsite.
func InferArrangement(tags []string, texts ...string) jobs.WorkArrangement {
	sources := append(append([]string{}, tags...), texts...)
	for _, src := range sources {
		lower := strings.ToLower(src)
		if strings.Contains(lower, "remote") {
			return jobs.ArrangementRemote
		}
		if strings.Contains(lower, "hybrid") || strings.Contains(lower, "flexible") {
			return jobs.ArrangementHybrid
		}
	}
	return jobs.ArrangementOnsite
}

var jobTypes = []struct {
	canonical string
	markers   []string
}{
	{"full-time", []string{"full-time", "full time", "fulltime"}},
	{"part-time", []string{"part-time", "part time", "parttime"}},
	{"contract", []string{"contract", "contractor"}},
	{"temporary", []string{"temporary", "temp"}},
	{"internship", []string{"internship", "intern", "co-op"}},
	{"permanent", []string{"permanent"}},
	{"casual", []string{"casual"}},
	{"freelance", []string{"freelance"}},
	{"seasonal", []string{"seasonal"}},
}

// NormalizeJobType returns the first recognized employment type among tags.
func NormalizeJobType(tags []string) string {
	for _, tag := range tags {
		lower := strings.ToLower(strings.TrimSpace(tag))
		for _, jt := range jobTypes {
			for _, m := range jt.markers {
				if lower == m || strings.Contains(lower, m) {
					return jt.canonical
				}
			}
		}
	}
	return ""
}
