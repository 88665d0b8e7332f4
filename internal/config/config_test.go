package config

import "testing"

func TestLoadModelRPMLimitDefault(t *testing.T) {
	cfg := Load()
	if cfg.ModelRPMLimit != 30 {
		t.Fatalf("expected default model rpm limit 30, got %d", cfg.ModelRPMLimit)
	}
}

func TestLoadLiveTranscriptLimitClamped(t *testing.T) {
	t.Setenv("LIVE_TRANSCRIPT_LIMIT", "10000")

	cfg := Load()
	if cfg.LiveTranscriptLimit != 500 {
		t.Fatalf("expected live transcript limit clamped to 500, got %d", cfg.LiveTranscriptLimit)
	}
}

func TestLoadLiveTranscriptLimitBelowFloor(t *testing.T) {
	t.Setenv("LIVE_TRANSCRIPT_LIMIT", "0")

	cfg := Load()
	if cfg.LiveTranscriptLimit != 1 {
		t.Fatalf("expected live transcript limit floored to 1, got %d", cfg.LiveTranscriptLimit)
	}
}

func TestWebhookSkipSignatureValidationDefaultFalse(t *testing.T) {
	cfg := Load()
	if cfg.WebhookSkipSignatureValidation {
		t.Fatalf("expected signature validation enabled by default")
	}
}

func TestEffectiveBaseURLPrefersPublic(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://public.example.com")
	t.Setenv("APP_BASE_URL", "https://app.example.com")

	cfg := Load()
	if got := cfg.EffectiveBaseURL(); got != "https://public.example.com" {
		t.Fatalf("expected public base url to win, got %q", got)
	}
}

func TestModelConfigured(t *testing.T) {
	cfg := &Config{}
	if cfg.ModelConfigured() {
		t.Fatalf("expected unconfigured model scorer")
	}
	cfg.ModelAPIKey = "sk-test"
	if !cfg.ModelConfigured() {
		t.Fatalf("expected model scorer to be configured")
	}
}
