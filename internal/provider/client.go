// Package provider implements the Outbound Call Placement collaborator (A6):
// a thin client that asks the telephony provider to bridge a monitor call
// into the user's ongoing conversation, and the POST /call handler that
// fronts it. Out-of-core per the distilled spec, but the core's ingest and
// worker still need a real call_id flowing in from somewhere.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/phone"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	callPlaceTimeout = 15 * time.Second
)

// VoiceClient initiates outbound monitor calls via the provider's voice API.
type VoiceClient struct {
	apiKey     string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VoiceClientConfig configures the outbound call client.
type VoiceClientConfig struct {
	// APIKey is the provider API key (Bearer token).
	APIKey string
	// FromNumber is the number the monitor call is placed from.
	FromNumber string
	// BaseURL overrides the provider API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewVoiceClient creates a client for placing outbound monitor calls.
func NewVoiceClient(cfg VoiceClientConfig) (*VoiceClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider voice client: API key required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("provider voice client: from number required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: callPlaceTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &VoiceClient{
		apiKey:     cfg.APIKey,
		fromNumber: cfg.FromNumber,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CallRequest contains the parameters for initiating an outbound monitor call.
type CallRequest struct {
	From string `json:"From"`
	To   string `json:"To"`
}

// CallResponse is the provider's response to a call-placement request.
type CallResponse struct {
	CallControlID string `json:"call_control_id"`
	IsAlive       bool   `json:"is_alive"`
}

type callAPIResponse struct {
	Data CallResponse `json:"data"`
}

// PlaceMonitorCall asks the provider to dial protectedNumber and bridge it
// into the in-flight conversation.
func (c *VoiceClient) PlaceMonitorCall(ctx context.Context, protectedNumber string) (*CallResponse, error) {
	if strings.TrimSpace(protectedNumber) == "" {
		return nil, fmt.Errorf("provider voice: protected number required")
	}

	req := CallRequest{From: c.fromNumber, To: protectedNumber}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("provider voice: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/calls", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider voice: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Info("provider voice: placing monitor call",
		"from", phone.Mask(c.fromNumber),
		"to", phone.Mask(protectedNumber),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider voice: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider voice: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("provider voice: API error",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("provider voice: API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp callAPIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("provider voice: decode response: %w", err)
	}

	c.logger.Info("provider voice: monitor call placed",
		"call_control_id", apiResp.Data.CallControlID,
		"to", phone.Mask(protectedNumber),
	)

	return &apiResp.Data, nil
}
