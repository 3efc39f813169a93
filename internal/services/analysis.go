package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gorm.io/datatypes"

	"github.com/yungbote/callbridge-backend/internal/clients/openai"
	"github.com/yungbote/callbridge-backend/internal/logger"
)

// AnalysisResult is the structured outcome of transcript analysis.
// Payload carries the model's full JSON object verbatim; the named
// fields are the pieces the rest of the system indexes on.
type AnalysisResult struct {
	Sentiment  string
	Mood       string
	Confidence *float64
	Summary    string
	Payload    datatypes.JSON
	Model      string
}

// AnalysisContext is the call metadata handed to the model alongside
// the transcript so it can reason about direction and duration.
type AnalysisContext struct {
	Direction       string
	DurationSeconds int
	CompanyName     string
}

type AnalysisService interface {
	AnalyzeTranscript(ctx context.Context, transcript string, meta AnalysisContext) (*AnalysisResult, error)
}

type analysisService struct {
	log    *logger.Logger
	ai     openai.Client
	schema map[string]any
}

func NewAnalysisService(baseLog *logger.Logger, ai openai.Client) AnalysisService {
	return &analysisService{
		log:    baseLog.With("service", "AnalysisService"),
		ai:     ai,
		schema: callAnalysisSchema(),
	}
}

const analysisSystemPrompt = `You are a call-center quality analyst. You are given the transcript of one recorded phone call. Assess the caller's sentiment and overall mood of the conversation, and summarize what the call was about. Base every judgment strictly on the transcript text.`

// systemPrompt appends operator-configured assessment rules, if any, to
// the base prompt. ANALYSIS_RULES is free text.
func systemPrompt() string {
	rules := strings.TrimSpace(os.Getenv("ANALYSIS_RULES"))
	if rules == "" {
		return analysisSystemPrompt
	}
	return analysisSystemPrompt + "\n\nAdditional assessment rules:\n" + rules
}

func callAnalysisSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"sentiment", "mood", "confidence", "summary", "topics"},
		"properties": map[string]any{
			"sentiment": map[string]any{
				"type": "string",
				"enum": []string{"positive", "neutral", "negative"},
			},
			"mood": map[string]any{
				"type":        "string",
				"description": "One or two words describing the conversation's overall mood.",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Confidence in the sentiment judgment, 0 to 1.",
			},
			"summary": map[string]any{
				"type":        "string",
				"description": "Two to four sentences summarizing the call.",
			},
			"topics": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func (s *analysisService) AnalyzeTranscript(ctx context.Context, transcript string, meta AnalysisContext) (*AnalysisResult, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, fmt.Errorf("transcript required for analysis")
	}

	var user strings.Builder
	if meta.Direction != "" {
		fmt.Fprintf(&user, "Call direction: %s\n", meta.Direction)
	}
	if meta.DurationSeconds > 0 {
		fmt.Fprintf(&user, "Call duration: %d seconds\n", meta.DurationSeconds)
	}
	if meta.CompanyName != "" {
		fmt.Fprintf(&user, "Caller's company: %s\n", meta.CompanyName)
	}
	user.WriteString("\nTranscript:\n")
	user.WriteString(transcript)

	obj, err := s.ai.GenerateJSON(ctx, systemPrompt(), user.String(), "call_analysis", s.schema)
	if err != nil {
		return nil, fmt.Errorf("analysis generation: %w", err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis payload: %w", err)
	}

	result := &AnalysisResult{
		Sentiment: normalizeSentiment(stringField(obj, "sentiment")),
		Mood:      strings.TrimSpace(stringField(obj, "mood")),
		Summary:   strings.TrimSpace(stringField(obj, "summary")),
		Payload:   datatypes.JSON(raw),
		Model:     s.ai.ModelName(),
	}
	if c, ok := floatField(obj, "confidence"); ok && c >= 0 && c <= 1 {
		result.Confidence = &c
	}
	return result, nil
}

func normalizeSentiment(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	default:
		return "neutral"
	}
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func floatField(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
