// Package jobs defines the records, dedup keys and errors shared by every
// stage of the job-record pipeline: raw -> cleaned -> pre-analyzed -> analyzed.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage names a table/identity space in the pipeline's monotonic progression.
type Stage string

const (
	StageRaw         Stage = "raw"
	StageCleaned     Stage = "cleaned"
	StagePreAnalyzed Stage = "pre_analyzed"
	StageAnalyzed    Stage = "analyzed"
)

// WorkArrangement is inferred from job-type tags and description text.
type WorkArrangement string

const (
	ArrangementRemote WorkArrangement = "remote"
	ArrangementHybrid WorkArrangement = "hybrid"
	ArrangementOnsite WorkArrangement = "onsite"
)

// SalaryPeriod is the pay period a salary range refers to.
type SalaryPeriod string

const (
	PeriodHourly   SalaryPeriod = "hourly"
	PeriodMonthly  SalaryPeriod = "monthly"
	PeriodAnnually SalaryPeriod = "annually"
)

// ApplicationStatus mirrors the application_status column of analyzed_jobs.
type ApplicationStatus string

const (
	StatusNotApplied   ApplicationStatus = "not_applied"
	StatusApplied      ApplicationStatus = "applied"
	StatusInterviewing ApplicationStatus = "interviewing"
	StatusOffered      ApplicationStatus = "offered"
	StatusRejected     ApplicationStatus = "rejected"
	StatusWithdrawn    ApplicationStatus = "withdrawn"
)

// ParseApplicationStatus converts a raw string to an ApplicationStatus,
// returning an error for unknown values.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	st := ApplicationStatus(s)
	switch st {
	case StatusNotApplied, StatusApplied, StatusInterviewing, StatusOffered, StatusRejected, StatusWithdrawn:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IngestRequest is one payload handed over by the scraping collaborator.
type IngestRequest struct {
	SourceWebsite string         `json:"source_website" validate:"required,max=255"`
	SourceURL     string         `json:"source_url" validate:"omitempty,max=2048"`
	RawData       map[string]any `json:"raw_data" validate:"required"`
	ScraperUsed   string         `json:"scraper_used,omitempty" validate:"max=255"`
	ScraperRunID  string         `json:"scraper_run_id,omitempty" validate:"max=255"`
}

// RawScrape is an immutable, sanitized scrape payload plus its provenance.
type RawScrape struct {
	ScrapeID          string
	SourceWebsite     string
	SourceURL         string
	Payload           map[string]any
	SynthesizedFields []string // identity fields the sanitizer had to invent
	ScraperIdentity   string
	ScraperRunID      string
	CapturedAt        time.Time
}

// IsSynthesized reports whether the sanitizer substituted a fallback for key.
func (r *RawScrape) IsSynthesized(key string) bool {
	for _, f := range r.SynthesizedFields {
		if f == key {
			return true
		}
	}
	return false
}

// Location is the parsed city/province/country triple. Empty means unknown.
type Location struct {
	City     string `json:"city,omitempty"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"`
}

// IsZero reports whether no location component is known.
func (l Location) IsZero() bool {
	return l.City == "" && l.Province == "" && l.Country == ""
}

// Salary is a parsed salary range. Min and Max are nil when no number was found.
type Salary struct {
	Min      *float64     `json:"min,omitempty"`
	Max      *float64     `json:"max,omitempty"`
	Currency string       `json:"currency,omitempty"`
	Period   SalaryPeriod `json:"period,omitempty"`
}

// HasRange reports whether at least one salary bound was extracted.
func (s Salary) HasRange() bool {
	return s.Min != nil || s.Max != nil
}

// Posting holds the normalized fields shared by the cleaned, pre-analyzed
// and analyzed stages.
type Posting struct {
	JobTitle        string
	CompanyName     string
	Location        Location
	Salary          Salary
	WorkArrangement WorkArrangement
	JobType         string
	Description     string
	PostedAt        *time.Time
	CompanyWebsite  string
	ExternalJobID   string // empty when the source carried no usable id
	SourceWebsite   string
	SourceURL       string
}

// CleanedJob is the canonical record for one (external_job_id, source_website) pair.
type CleanedJob struct {
	ID int64
	Posting
	RawScrapeID     string
	ConfidenceScore float64
	DuplicatesCount int
	CreatedAt       time.Time
	LastSeenAt      time.Time
}

// Company is a canonical employer resolved by case-insensitive name.
type Company struct {
	ID   int64
	Name string
}

// PreAnalyzedJob is a cleaned record promoted for external analysis,
// unique per content fingerprint (DedupKeyPre).
type PreAnalyzedJob struct {
	ID              int64
	CleanedSourceID int64
	CompanyID       int64
	Posting
	ConfidenceScore   float64
	DedupKeyPre       string
	IsActive          bool
	QueuedForAnalysis bool
	QueuedAt          *time.Time
	ProcessedAt       *time.Time
	CreatedAt         time.Time
}

// AIFields are the analyzer-produced attributes of an AnalyzedJob.
type AIFields struct {
	PrimaryIndustry     string
	SecondaryIndustries []string
	SeniorityLevel      string
	AuthenticityScore   float64
	SkillsAnalysis      json.RawMessage
	StructuredData      json.RawMessage
	ModelUsed           string
	TokensUsed          int
}

// AnalyzedJob is the canonical AI-enriched record, unique per DedupKeyAnalyzed.
type AnalyzedJob struct {
	ID                  int64
	PreAnalyzedSourceID int64
	CompanyID           int64
	Posting
	AIFields
	DedupKeyAnalyzed  string
	AnalysisDate      time.Time
	ApplicationStatus ApplicationStatus
	EligibilityFlag   bool
}
