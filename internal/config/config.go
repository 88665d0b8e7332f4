package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration for the coaching service.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	PublicBaseURL  string
	AppBaseURL     string
	DatabaseURL    string
	PruneInterval  time.Duration

	// Provider webhook authentication (§6 signature scheme).
	ProviderAccountID                string
	ProviderAuthToken                string
	WebhookSkipSignatureValidation   bool

	// Remote model scorer (C5).
	ModelAPIKey         string
	ModelName           string
	ModelRPMLimit       int
	ModelMinIntervalMS  int
	ModelRegion         string

	// LLM fallback provider, mirrors the bedrock/gemini dual-provider shape.
	LLMProvider         string // "bedrock" (default) or "gemini"
	LLMFallbackEnabled  bool
	LLMFallbackProvider string // default "gemini"
	GeminiAPIKey        string
	GeminiModelID       string
	GeminiProjectID     string
	GeminiLocation      string

	// Live view read path (C8).
	LiveTranscriptLimit int

	// Rate limiter & cooldown (C9) — optional multi-instance backend.
	RateLimitBackend string // "memory" (default) or "redis"
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool

	// AWS wiring shared by the Bedrock model client and any AWS-backed collaborator.
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string

	// Out-of-core collaborators (§1 thin components, still wired concretely).
	ProviderAPIKey      string // outbound call placement credential
	ProviderFromNumber  string
}

// Load reads configuration from environment variables.
func Load() *Config {
	modelMinInterval := getEnvAsInt("MODEL_MIN_INTERVAL_MS", 0)

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		AppBaseURL:    getEnv("APP_BASE_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		PruneInterval: getEnvAsDuration("PRUNE_INTERVAL", 60*time.Second),

		ProviderAccountID:              getEnv("PROVIDER_ACCOUNT_ID", ""),
		ProviderAuthToken:              getEnv("PROVIDER_AUTH_TOKEN", ""),
		WebhookSkipSignatureValidation: getEnvAsBool("WEBHOOK_SKIP_SIGNATURE_VALIDATION", false),

		ModelAPIKey:        getEnv("MODEL_API_KEY", ""),
		ModelName:          getEnv("MODEL_NAME", ""),
		ModelRPMLimit:      getEnvAsInt("MODEL_RPM_LIMIT", 30),
		ModelMinIntervalMS: modelMinInterval,
		ModelRegion:        getEnv("AWS_REGION", "us-east-1"),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		LLMFallbackEnabled:  getEnvAsBool("LLM_FALLBACK_ENABLED", false),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", "gemini"))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiProjectID:     getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GeminiLocation:      getEnv("GEMINI_LOCATION", "us-central1"),

		LiveTranscriptLimit: clampInt(getEnvAsInt("LIVE_TRANSCRIPT_LIMIT", 200), 1, 500),

		RateLimitBackend: strings.ToLower(strings.TrimSpace(getEnv("RATE_LIMIT_BACKEND", "memory"))),
		RedisAddr:        getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ProviderAPIKey:     getEnv("PROVIDER_API_KEY", ""),
		ProviderFromNumber: getEnv("PROVIDER_FROM_NUMBER", ""),
	}
}

// EffectiveBaseURL returns the configured base URL for generating outbound
// webhook URLs, preferring PUBLIC_BASE_URL over APP_BASE_URL.
func (c *Config) EffectiveBaseURL() string {
	if v := strings.TrimSpace(c.PublicBaseURL); v != "" {
		return v
	}
	return strings.TrimSpace(c.AppBaseURL)
}

// ModelConfigured reports whether the remote model scorer has credentials.
func (c *Config) ModelConfigured() bool {
	return strings.TrimSpace(c.ModelAPIKey) != "" || strings.TrimSpace(c.AWSAccessKeyID) != ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
