package jobs

import "encoding/json"

// AnalyzerRequest is the redacted record sent to the external analyzer.
// It must never carry a persistent identifier of this system.
type AnalyzerRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CompanyName string `json:"company_name"`
}

// AnalyzerResponse is one analyzer answer, matched by position to the request list.
type AnalyzerResponse struct {
	PrimaryIndustry     string          `json:"primary_industry" validate:"required,max=255"`
	SecondaryIndustries []string        `json:"secondary_industries"`
	SeniorityLevel      string          `json:"seniority_level" validate:"max=64"`
	AuthenticityScore   float64         `json:"authenticity_score" validate:"gte=0,lte=1"`
	SkillsAnalysis      json.RawMessage `json:"skills_analysis"`
	StructuredData      json.RawMessage `json:"structured_data"`
	ModelUsed           string          `json:"model_used"`
	TokensUsed          int             `json:"tokens_used" validate:"gte=0"`
}

// AnalysisResult is an analyzer response re-correlated to the pre-analysis
// key that was held back locally when the request was built.
type AnalysisResult struct {
	DedupKeyPre string
	AnalyzerResponse
}

// Fields converts the response into the AI attributes stored on an AnalyzedJob.
func (r *AnalyzerResponse) Fields() AIFields {
	return AIFields{
		PrimaryIndustry:     r.PrimaryIndustry,
		SecondaryIndustries: r.SecondaryIndustries,
		SeniorityLevel:      r.SeniorityLevel,
		AuthenticityScore:   r.AuthenticityScore,
		SkillsAnalysis:      r.SkillsAnalysis,
		StructuredData:      r.StructuredData,
		ModelUsed:           r.ModelUsed,
		TokensUsed:          r.TokensUsed,
	}
}
