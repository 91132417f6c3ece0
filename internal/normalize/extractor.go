// Package normalize turns sanitized scrape payloads into structured postings
// and scores how complete the result is. Malformed sub-fields degrade to
// empty values; a record is rejected only when it has neither a title nor a
// company.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
	"github.com/masahif/jobforge/internal/sanitize"
)

// Payload key aliases, in lookup order.
var (
	locationKeys    = []string{"location", "jobLocation", "formattedLocation", "job_location"}
	salaryKeys      = []string{"salary", "salaryText", "salaryRange", "baseSalary", "salary_text"}
	tagKeys         = []string{"jobType", "jobTypes", "employmentType", "job_type", "tags"}
	descriptionKeys = []string{"description", "descriptionText", "jobDescription", "description_text"}
	dateKeys        = []string{"postedAt", "postingDateParsed", "datePosted", "postedDate", "posted_at", "date"}
	websiteKeys     = []string{"companyUrl", "companyWebsite", "companyLink", "company_url"}
	urlKeys         = []string{"url", "jobUrl", "externalApplyLink", "job_url"}
)

// Extractor builds posting candidates from raw scrapes.
type Extractor struct {
	defaultCurrency string
	now             func() time.Time
}

// NewExtractor creates an extractor. defaultCurrency applies to salary text
// that names no currency.
func NewExtractor(defaultCurrency string) *Extractor {
	if defaultCurrency == "" {
		defaultCurrency = DefaultCurrency
	}
	return &Extractor{
		defaultCurrency: strings.ToUpper(defaultCurrency),
		now:             time.Now,
	}
}

// WithClock overrides the reference time used for relative dates.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract normalizes one raw scrape. It returns jobs.ErrRejected when both
// title and company are empty; every other malformed field is left empty.
func (e *Extractor) Extract(raw *jobs.RawScrape) (*jobs.Posting, error) {
	p := raw.Payload

	posting := &jobs.Posting{
		SourceWebsite: strings.TrimSpace(raw.SourceWebsite),
		SourceURL:     strings.TrimSpace(raw.SourceURL),
	}

	if !raw.IsSynthesized(sanitize.KeyTitle) {
		posting.JobTitle = firstString(p, sanitize.TitleKeys)
	}
	if !raw.IsSynthesized(sanitize.KeyCompany) {
		posting.CompanyName = companyName(p)
	}
	if posting.JobTitle == "" && posting.CompanyName == "" {
		return nil, jobs.ErrRejected
	}
	if !raw.IsSynthesized(sanitize.KeyID) {
		posting.ExternalJobID = firstString(p, sanitize.IDKeys)
	}
	if posting.SourceURL == "" {
		posting.SourceURL = firstString(p, urlKeys)
	}

	posting.Location = e.location(p)
	posting.Salary = e.salary(p)
	posting.Description = firstString(p, descriptionKeys)
	posting.CompanyWebsite = firstString(p, websiteKeys)
	posting.PostedAt = e.postedAt(p)

	tags := stringList(p, tagKeys)
	posting.JobType = NormalizeJobType(tags)
	if remote, ok := p["isRemote"].(bool); ok && remote {
		posting.WorkArrangement = jobs.ArrangementRemote
	} else {
		posting.WorkArrangement = InferArrangement(tags, posting.Location.City, posting.Description)
	}

	return posting, nil
}

func (e *Extractor) location(p map[string]any) jobs.Location {
	for _, k := range locationKeys {
		switch v := p[k].(type) {
		case string:
			if loc := ParseLocation(v); !loc.IsZero() {
				return loc
			}
		case map[string]any:
			loc := ParseLocation(strings.Join([]string{
				firstString(v, []string{"city", "locality"}),
				firstString(v, []string{"province", "state", "region"}),
			}, ","))
			if country := firstString(v, []string{"country", "countryCode"}); country != "" {
				loc.Country = normalizeCountry(country)
			}
			if !loc.IsZero() {
				return loc
			}
		}
	}
	return jobs.Location{}
}

func (e *Extractor) salary(p map[string]any) jobs.Salary {
	for _, k := range salaryKeys {
		switch v := p[k].(type) {
		case string:
			if s := ParseSalary(v, e.defaultCurrency); s.HasRange() {
				return s
			}
		case float64, json.Number:
			if n := number(v); n != nil {
				return SalaryFromBounds(n, n, e.defaultCurrency, jobs.PeriodAnnually)
			}
		case map[string]any:
			minV, maxV := number(v["min"]), number(v["max"])
			currency := firstString(v, []string{"currency"})
			if currency == "" {
				currency = e.defaultCurrency
			}
			if s := SalaryFromBounds(minV, maxV, currency, ParsePeriod(firstString(v, []string{"period", "unit"}))); s.HasRange() {
				return s
			}
		}
	}
	return jobs.Salary{}
}

func (e *Extractor) postedAt(p map[string]any) *time.Time {
	for _, k := range dateKeys {
		switch v := p[k].(type) {
		case string:
			if t := ParseDate(v, e.now()); t != nil {
				return t
			}
		case float64, json.Number:
			if n := number(v); n != nil {
				if t := ParseEpoch(*n); t != nil {
					return t
				}
			}
		}
	}
	return nil
}

func companyName(p map[string]any) string {
	for _, k := range sanitize.CompanyKeys {
		switch v := p[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if name := firstString(v, []string{"name", "displayName", "display_name"}); name != "" {
				return name
			}
		}
	}
	return ""
}

// firstString returns the first non-empty scalar among keys, rendered as text.
func firstString(p map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			// verbatim, so integer ids beyond 2^53 keep every digit
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int, int64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringList(p map[string]any, keys []string) []string {
	var out []string
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func number(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64); err == nil {
			return &f
		}
	}
	return nil
}
