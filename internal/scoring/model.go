package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
)

var scoringTracer = otel.Tracer("scamdetective.internal.scoring")

const (
	modelTemperature    = 0.15
	modelMaxTokens      = 240
	modelTimeout        = 8 * time.Second
	maxModelChunks      = 40
)

// ModelError classifies a remote-model failure (§4.5): retryable, rate
// limited with a retry-after hint, or fatal.
type ModelError struct {
	Status       int
	RetryAfterMs int64
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("scoring: model error status=%d retry_after_ms=%d", e.Status, e.RetryAfterMs)
}

// Scorer is the abstract remote model advice source (C5). A nil *advice
// with a nil error means the scorer is not configured.
type Scorer interface {
	Score(ctx context.Context, chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) (*coaching.CoachingAdvice, error)
}

const systemPrompt = `You are a real-time anti-scam call coach reviewing a live phone call transcript.
Return ONLY a JSON object with this exact shape:
{"risk_score":0,"feedback":"","what_to_say":"","what_to_do":"","next_steps":["",""],"confidence":0.0}

Rules:
- Never advise sharing personal data, passwords, one-time codes, or account numbers.
- Be action-first: what_to_do must be a concrete next action, not a general observation.
- Do not move the score sharply without concrete evidence in the transcript.
- risk_score is an integer 0-100. confidence is 0.0-1.0.
`

func buildUserMessage(chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) string {
	recent := chunks
	if len(recent) > maxModelChunks {
		recent = recent[len(recent)-maxModelChunks:]
	}

	var b strings.Builder
	if previous != nil {
		if raw, err := json.Marshal(previous); err == nil {
			b.WriteString("Previous advice (continuity snapshot):\n")
			b.Write(raw)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("Transcript (oldest first):\n")
	for _, c := range recent {
		speaker := c.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, c.Text)
	}
	return b.String()
}

// --- Bedrock-backed scorer -------------------------------------------------

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockScorer calls Amazon Bedrock's Converse API for the remote model
// scorer (C5).
type BedrockScorer struct {
	api   bedrockConverseAPI
	model string
}

// NewBedrockScorer constructs a Bedrock-backed scorer.
func NewBedrockScorer(api bedrockConverseAPI, model string) *BedrockScorer {
	if api == nil {
		panic("scoring: bedrock converse client cannot be nil")
	}
	return &BedrockScorer{api: api, model: strings.TrimSpace(model)}
}

func (s *BedrockScorer) Score(ctx context.Context, chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) (advice *coaching.CoachingAdvice, err error) {
	if s == nil || strings.TrimSpace(s.model) == "" {
		return nil, nil
	}
	ctx, span := scoringTracer.Start(ctx, "scoring.bedrock", trace.WithAttributes(
		attribute.String("scoring.model", s.model),
		attribute.Int("scoring.chunk_count", len(chunks)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	scoreCtx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	userMsg := buildUserMessage(chunks, previous)
	temp := float32(modelTemperature)

	out, err := s.api.Converse(scoreCtx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(s.model),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: userMsg},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(modelMaxTokens),
			Temperature: aws.Float32(temp),
		},
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}

	text, err := bedrockExtractText(out)
	if err != nil {
		return nil, &ModelError{Status: 502}
	}
	return parseModelJSON(text)
}

func bedrockExtractText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("scoring: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok || len(msgOut.Value.Content) == 0 {
		return "", errors.New("scoring: bedrock response had no message content")
	}
	var b strings.Builder
	for _, block := range msgOut.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(tb.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("scoring: bedrock response contained no text")
	}
	return b.String(), nil
}

func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.ErrorCode(); code == "ThrottlingException" || code == "TooManyRequestsException" {
			return &ModelError{Status: 429, RetryAfterMs: 0}
		}
	}
	return &ModelError{Status: 500}
}

// --- Gemini fallback scorer -------------------------------------------------

// GeminiScorer is the fallback remote model scorer, mirroring the
// LLMFallbackProvider pattern: used directly when LLM_PROVIDER=gemini, or,
// when LLM_FALLBACK_ENABLED is set, in place of an unconfigured Bedrock
// scorer or behind it as the FallbackScorer's secondary.
type GeminiScorer struct {
	client *genai.Client
	model  string
}

// NewGeminiScorer constructs a Gemini-backed scorer.
func NewGeminiScorer(ctx context.Context, apiKey, model string) (*GeminiScorer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("scoring: gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("scoring: create gemini client: %w", err)
	}
	return &GeminiScorer{client: client, model: model}, nil
}

func (s *GeminiScorer) Score(ctx context.Context, chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) (advice *coaching.CoachingAdvice, err error) {
	if s == nil {
		return nil, nil
	}
	ctx, span := scoringTracer.Start(ctx, "scoring.gemini", trace.WithAttributes(
		attribute.String("scoring.model", s.model),
		attribute.Int("scoring.chunk_count", len(chunks)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	scoreCtx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	model := s.client.GenerativeModel(s.model)
	model.SetTemperature(modelTemperature)
	model.SetMaxOutputTokens(modelMaxTokens)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	userMsg := buildUserMessage(chunks, previous)
	resp, err := model.GenerateContent(scoreCtx, genai.Text(userMsg))
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ModelError{Status: 502}
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return parseModelJSON(b.String())
}

// Close releases the underlying Gemini client.
func (s *GeminiScorer) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 429 {
			return &ModelError{Status: 429}
		}
	}
	return &ModelError{Status: 500}
}

// --- Fallback composition ---------------------------------------------------

// FallbackScorer tries primary, and on a non-429 model error falls back to a
// secondary provider once — the 429 case is left to the caller's backoff
// controller rather than masked by switching providers.
type FallbackScorer struct {
	primary  Scorer
	fallback Scorer
}

// NewFallbackScorer composes a primary and fallback scorer.
func NewFallbackScorer(primary, fallback Scorer) *FallbackScorer {
	return &FallbackScorer{primary: primary, fallback: fallback}
}

func (s *FallbackScorer) Score(ctx context.Context, chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) (*coaching.CoachingAdvice, error) {
	if s.primary == nil {
		if s.fallback == nil {
			return nil, nil
		}
		return s.fallback.Score(ctx, chunks, previous)
	}
	advice, err := s.primary.Score(ctx, chunks, previous)
	if err == nil {
		return advice, nil
	}
	var merr *ModelError
	if errors.As(err, &merr) && merr.Status == 429 {
		return nil, err
	}
	if s.fallback == nil {
		return nil, err
	}
	return s.fallback.Score(ctx, chunks, previous)
}

// --- Response parsing (shared extraction idiom) -----------------------------

type modelResponsePayload struct {
	RiskScore  float64  `json:"risk_score"`
	Feedback   string   `json:"feedback"`
	WhatToSay  string   `json:"what_to_say"`
	WhatToDo   string   `json:"what_to_do"`
	NextSteps  []string `json:"next_steps"`
	Confidence float64  `json:"confidence"`
}

func parseModelJSON(raw string) (*coaching.CoachingAdvice, error) {
	text := sanitizeModelJSON(raw)
	if text == "" {
		return nil, &ModelError{Status: 502}
	}
	var payload modelResponsePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, &ModelError{Status: 502}
	}

	score := int(math.Round(payload.RiskScore))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	advice := &coaching.CoachingAdvice{
		RiskScore:  score,
		RiskLevel:  coaching.DeriveRiskLevel(score),
		Feedback:   payload.Feedback,
		WhatToSay:  payload.WhatToSay,
		WhatToDo:   payload.WhatToDo,
		NextSteps:  payload.NextSteps,
		Confidence: confidence,
	}
	advice.ClampFields()
	return advice, nil
}

func sanitizeModelJSON(raw string) string {
	text := stripCodeFence(raw)
	text = extractJSONObject(text)
	return strings.TrimSpace(text)
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func extractJSONObject(text string) string {
	if strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// parseRetryAfterSeconds parses an HTTP Retry-After header value (seconds)
// into milliseconds. Nothing in the service calls it: the Bedrock and Gemini
// error classifiers leave RetryAfterMs at 0.
func parseRetryAfterSeconds(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return int64(secs) * 1000
}
