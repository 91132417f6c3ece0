package normalize

import (
	"math"
	"strings"

	"github.com/masahif/jobforge/internal/jobs"
)

// Component weights of the confidence score. They sum to 1.
const (
	weightTitle       = 0.30
	weightCompany     = 0.30
	weightDescription = 0.15
	weightLocation    = 0.15
	weightSalary      = 0.05
	weightExternalID  = 0.05

	bonusPerOptional = 0.025
	maxBonus         = 0.10
)

var (
	titleKeywords = []string{
		"senior", "junior", "lead", "principal", "staff", "head", "director", "manager", "intern",
		"engineer", "developer", "analyst", "designer", "architect", "specialist", "coordinator",
		"administrator", "consultant", "scientist", "technician", "assistant", "officer",
		"sales", "marketing", "finance", "operations", "support", "software", "data",
	}
	legalSuffixes       = []string{"inc", "inc.", "corp", "corp.", "corporation", "ltd", "ltd.", "llc", "limited", "co.", "gmbh", "llp"}
	placeholderCompany  = []string{"unknown company", "unknown", "confidential", "n/a", "na", "company", "hiring", "employer", "private", "undisclosed"}
	descriptionKeywords = []string{"responsibilities", "requirements", "experience"}
)

// Score rates how complete a normalized posting is, in [0,1]. It is advisory
// only and never blocks a record from progressing. Every component is always
// evaluated, so adding a field can only raise the score.
func Score(p *jobs.Posting) float64 {
	type component struct {
		weight float64
		value  float64
	}
	components := []component{
		{weightTitle, titleQuality(p.JobTitle)},
		{weightCompany, companyQuality(p.CompanyName)},
		{weightDescription, descriptionQuality(p.Description)},
		{weightLocation, presence(!p.Location.IsZero())},
		{weightSalary, presence(p.Salary.HasRange())},
		{weightExternalID, presence(p.ExternalJobID != "")},
	}

	var sum, weights float64
	for _, c := range components {
		sum += c.weight * c.value
		weights += c.weight
	}
	score := 0.0
	if weights > 0 {
		score = sum / weights
	}

	optional := []bool{
		p.WorkArrangement != "",
		p.JobType != "",
		p.PostedAt != nil,
		p.CompanyWebsite != "",
	}
	bonus := 0.0
	for _, present := range optional {
		if present {
			bonus += bonusPerOptional
		}
	}
	score += math.Min(bonus, maxBonus)

	return clamp(score)
}

func titleQuality(title string) float64 {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0
	}
	q := 0.4
	if len(title) >= 10 {
		q += 0.2
	}
	if len(title) >= 20 {
		q += 0.2
	}
	if containsAny(strings.ToLower(title), titleKeywords) {
		q += 0.2
	}
	return clamp(q)
}

func companyQuality(company string) float64 {
	company = strings.TrimSpace(company)
	if company == "" {
		return 0
	}
	lower := strings.ToLower(company)
	for _, placeholder := range placeholderCompany {
		if lower == placeholder {
			return 0.1
		}
	}
	q := 0.5
	if len(company) >= 5 {
		q += 0.25
	}
	for _, token := range strings.Fields(strings.ReplaceAll(lower, ",", " ")) {
		if containsWord(legalSuffixes, token) {
			q += 0.25
			break
		}
	}
	return clamp(q)
}

func descriptionQuality(desc string) float64 {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return 0
	}
	q := 0.2
	for _, threshold := range []int{100, 300, 500} {
		if len(desc) >= threshold {
			q += 0.2
		}
	}
	if containsAny(strings.ToLower(desc), descriptionKeywords) {
		q += 0.2
	}
	return clamp(q)
}

func presence(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsWord(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
