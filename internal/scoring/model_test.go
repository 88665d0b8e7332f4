package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
)

func TestExtractJSONObjectFencedBlock(t *testing.T) {
	raw := "```json\n{\"risk_score\":80,\"confidence\":0.9}\n```"
	got := sanitizeModelJSON(raw)
	if got != `{"risk_score":80,"confidence":0.9}` {
		t.Fatalf("unexpected sanitized json: %q", got)
	}
}

func TestExtractJSONObjectLeadingProse(t *testing.T) {
	raw := "Sure, here is the advice: {\"risk_score\":55} — let me know if you need more."
	got := extractJSONObject(raw)
	if got != `{"risk_score":55}` {
		t.Fatalf("unexpected extracted json: %q", got)
	}
}

func TestParseModelJSONClampsAndDerivesLevel(t *testing.T) {
	advice, err := parseModelJSON(`{"risk_score":140,"confidence":2.5,"what_to_do":"hang up now"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advice.RiskScore != 100 {
		t.Fatalf("expected score clamped to 100, got %d", advice.RiskScore)
	}
	if advice.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", advice.Confidence)
	}
	if advice.RiskLevel != coaching.RiskHigh {
		t.Fatalf("expected high risk level, got %q", advice.RiskLevel)
	}
}

func TestParseModelJSONMalformedIsModelError(t *testing.T) {
	_, err := parseModelJSON("not json at all")
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
	if merr.Status != 502 {
		t.Fatalf("expected status 502, got %d", merr.Status)
	}
}

type fakeBedrockAPI struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeBedrockAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.output, f.err
}

func TestBedrockScorerParsesConverseOutput(t *testing.T) {
	api := &fakeBedrockAPI{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: `{"risk_score":85,"confidence":0.8,"what_to_do":"hang up"}`},
					},
				},
			},
		},
	}
	scorer := NewBedrockScorer(api, "anthropic.claude-3-haiku")
	advice, err := scorer.Score(context.Background(), []coaching.TranscriptChunk{{Text: "wire the money now"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advice.RiskScore != 85 {
		t.Fatalf("expected score 85, got %d", advice.RiskScore)
	}
}

func TestBedrockScorerSkipsWhenModelUnset(t *testing.T) {
	scorer := NewBedrockScorer(&fakeBedrockAPI{}, "")
	advice, err := scorer.Score(context.Background(), nil, nil)
	if err != nil || advice != nil {
		t.Fatalf("expected nil/nil for unconfigured scorer, got %v/%v", advice, err)
	}
}

type fakeScorer struct {
	advice *coaching.CoachingAdvice
	err    error
}

func (f *fakeScorer) Score(ctx context.Context, chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) (*coaching.CoachingAdvice, error) {
	return f.advice, f.err
}

func TestFallbackScorerFallsBackOnNon429Error(t *testing.T) {
	primary := &fakeScorer{err: &ModelError{Status: 500}}
	fallback := &fakeScorer{advice: &coaching.CoachingAdvice{RiskScore: 10}}
	s := NewFallbackScorer(primary, fallback)
	advice, err := s.Score(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advice.RiskScore != 10 {
		t.Fatalf("expected fallback advice, got %+v", advice)
	}
}

func TestFallbackScorerPropagates429WithoutFallback(t *testing.T) {
	primary := &fakeScorer{err: &ModelError{Status: 429, RetryAfterMs: 2000}}
	fallback := &fakeScorer{advice: &coaching.CoachingAdvice{RiskScore: 10}}
	s := NewFallbackScorer(primary, fallback)
	_, err := s.Score(context.Background(), nil, nil)
	var merr *ModelError
	if !errors.As(err, &merr) || merr.Status != 429 {
		t.Fatalf("expected 429 ModelError to propagate, got %v", err)
	}
}
