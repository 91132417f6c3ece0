package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// fingerprint hashes the lowercased, trimmed parts joined with '|'.
func fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}

// PreAnalysisKey is the pre-analyzed stage identity:
// hash(title|company|city|province).
func PreAnalysisKey(title, company, city, province string) string {
	return fingerprint(title, company, city, province)
}

// AnalysisKey is the analyzed stage identity:
// hash(title|company_id|primary_industry).
func AnalysisKey(title string, companyID int64, primaryIndustry string) string {
	return fingerprint(title, strconv.FormatInt(companyID, 10), primaryIndustry)
}

// PreAnalysisKeyFor derives the pre-analysis key of a normalized posting.
func PreAnalysisKeyFor(p *Posting) string {
	return PreAnalysisKey(p.JobTitle, p.CompanyName, p.Location.City, p.Location.Province)
}
