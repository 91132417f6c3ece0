// Package analyzer implements the external AI analysis collaborator and a
// request throttle around it.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/masahif/jobforge/internal/jobs"
)

// Analyzer answers one response per request, in request order.
type Analyzer interface {
	Analyze(ctx context.Context, reqs []jobs.AnalyzerRequest) ([]jobs.AnalyzerResponse, error)
}

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-7-sonnet-latest"

// Claude analyzes job postings with Anthropic's Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewClaude creates a Claude analyzer. Extra request options (base URL,
// retries) are appended after the API key and timeout.
func NewClaude(apiKey, model string, maxTokens int, timeout time.Duration, logger *slog.Logger, opts ...option.RequestOption) *Claude {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		base = append(base, option.WithRequestTimeout(timeout))
	}
	return &Claude{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Analyze sends the whole batch in one message and blocks for the answer.
func (c *Claude) Analyze(ctx context.Context, reqs []jobs.AnalyzerRequest) ([]jobs.AnalyzerResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	start := time.Now()

	payload, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyzer request: %w", err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(string(payload), len(reqs)))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call Claude API: %v", jobs.ErrAnalyzer, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	responses, err := parseResponses(text.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrAnalyzer, err)
	}

	tokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	for i := range responses {
		if responses[i].ModelUsed == "" {
			responses[i].ModelUsed = string(msg.Model)
		}
		if responses[i].TokensUsed == 0 {
			responses[i].TokensUsed = tokens / len(responses)
		}
	}

	c.logger.Info("Claude analysis completed",
		"jobs", len(reqs),
		"responses", len(responses),
		"tokens", tokens,
		"duration", time.Since(start),
	)
	return responses, nil
}

const systemPrompt = `You classify job postings. You answer with JSON only, never prose.`

func buildPrompt(payload string, n int) string {
	return fmt.Sprintf(`Analyze the %d job postings below. Return a JSON array with exactly %d objects, one per posting, in the same order as the input. Each object must have these fields:

{
  "primary_industry": "string - the single best-fitting industry",
  "secondary_industries": ["array of strings - other relevant industries"],
  "seniority_level": "string - one of intern, junior, mid, senior, lead, executive",
  "authenticity_score": number between 0 and 1 - how likely the posting is a genuine job,
  "skills_analysis": {"required": ["skills"], "preferred": ["skills"]},
  "structured_data": {"responsibilities": ["..."], "benefits": ["..."]}
}

Do not echo the input ids. Return ONLY the JSON array.

POSTINGS:
%s`, n, n, payload)
}

// parseResponses extracts a JSON array of responses, tolerating a markdown
// code fence around it.
func parseResponses(text string) ([]jobs.AnalyzerResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("no text content in Claude response")
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	var out []jobs.AnalyzerResponse
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response from Claude: %w", err)
	}
	return out, nil
}
