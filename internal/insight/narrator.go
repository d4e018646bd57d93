package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/vitalsync/vitalsync/pkg/model"
	"go.uber.org/zap"
)

// MetricSummary is the compact, pre-aggregated view of a user's recent
// metrics handed to the narrator. Raw samples never cross this boundary.
type MetricSummary struct {
	HealthScore     float64            `json:"health_score"`
	AverageByMetric map[string]float64 `json:"average_by_metric"`
	AlertMessages   []string           `json:"alert_messages,omitempty"`
	TrendSummaries  []string           `json:"trend_summaries,omitempty"`
}

// Narrator produces free-text insights from an analysis summary. It is
// strictly advisory: callers time-box it and discard its output on any
// failure.
type Narrator interface {
	Generate(ctx context.Context, profile *model.UserProfile, summary MetricSummary, existingTypes []model.InsightType) ([]model.HealthInsight, error)
}

// OpenAINarrator implements Narrator against the OpenAI chat completions
// API. Responses are parsed as JSON; anything malformed is an error the
// caller treats as "narrator unavailable".
type OpenAINarrator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAINarrator creates a narrator backed by OpenAI chat completions
func NewOpenAINarrator(apiKey, chatModel string, timeout time.Duration, logger *zap.Logger) (*OpenAINarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if chatModel == "" {
		chatModel = openai.ChatModelGPT4oMini
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &OpenAINarrator{
		client:  &client,
		model:   chatModel,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Generate asks the model for additional insights. The request carries
// its own deadline so a slow model can never stall the caller past the
// configured timeout.
func (n *OpenAINarrator) Generate(ctx context.Context, profile *model.UserProfile, summary MetricSummary, existingTypes []model.InsightType) ([]model.HealthInsight, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	startTime := time.Now()
	prompt := n.buildPrompt(profile, summary, existingTypes)

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage("Generate the insights for the health summary above and return them as a JSON array."),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("empty content in response")
	}

	insights, err := n.parseResponse(content)
	if err != nil {
		n.logger.Error("failed to parse narrator response",
			zap.Error(err),
			zap.String("response", content),
		)
		return nil, fmt.Errorf("failed to parse narrator response: %w", err)
	}

	n.logger.Info("narrative insights generated",
		zap.Int("count", len(insights)),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("processing_time", time.Since(startTime)),
	)

	return insights, nil
}

func (n *OpenAINarrator) buildPrompt(profile *model.UserProfile, summary MetricSummary, existingTypes []model.InsightType) string {
	summaryJSON, _ := json.Marshal(summary)
	profileJSON, _ := json.Marshal(profile)

	taken := make([]string, 0, len(existingTypes))
	for _, t := range existingTypes {
		taken = append(taken, string(t))
	}

	return fmt.Sprintf(`You are a health insight assistant. Based on the user profile and metric summary below, generate up to 3 additional wellness insights.

User profile:
%s

Metric summary:
%s

Insight types already covered by rule-based analysis (do not produce these types): [%s]

Return a JSON array of insights with this shape:
[
  {
    "type": "recommendation/alert/trend/anomaly",
    "priority": 1-10,
    "title": "short title",
    "description": "one or two sentences",
    "recommendations": ["concrete actionable step"],
    "confidence": 0.0-1.0
  }
]

Rules:
- Be specific to the numbers in the summary, never generic
- Never give medical diagnoses; suggest consulting a professional where relevant
- Return ONLY the JSON array, no additional text

Return the JSON now:`, profileJSON, summaryJSON, strings.Join(taken, ", "))
}

// parseResponse parses the model output into insights. Models sometimes
// wrap JSON in markdown code fences, so those are stripped first.
func (n *OpenAINarrator) parseResponse(response string) ([]model.HealthInsight, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var insights []model.HealthInsight
	if err := json.Unmarshal([]byte(response), &insights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return normalize(insights), nil
}

// normalize clamps model-supplied fields into their valid ranges and
// drops entries with no usable content.
func normalize(insights []model.HealthInsight) []model.HealthInsight {
	out := make([]model.HealthInsight, 0, len(insights))
	for _, ins := range insights {
		if ins.Title == "" && ins.Description == "" {
			continue
		}
		switch ins.Type {
		case model.InsightRecommendation, model.InsightAlert, model.InsightTrend, model.InsightAnomaly:
		default:
			ins.Type = model.InsightRecommendation
		}
		if ins.Confidence < 0 {
			ins.Confidence = 0
		}
		if ins.Confidence > 1 {
			ins.Confidence = 1
		}
		if ins.Priority < 1 {
			ins.Priority = 1
		}
		if ins.Priority > 10 {
			ins.Priority = 10
		}
		out = append(out, ins)
	}
	return out
}
