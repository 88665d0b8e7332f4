package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewVoiceClientMissingAPIKey(t *testing.T) {
	_, err := NewVoiceClient(VoiceClientConfig{FromNumber: "+15551234567"})
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewVoiceClientMissingFromNumber(t *testing.T) {
	_, err := NewVoiceClient(VoiceClientConfig{APIKey: "key_123"})
	if err == nil {
		t.Error("expected error for missing from number")
	}
}

func TestPlaceMonitorCallMissingProtectedNumber(t *testing.T) {
	client, _ := NewVoiceClient(VoiceClientConfig{APIKey: "key_123", FromNumber: "+15559876543"})
	_, err := client.PlaceMonitorCall(context.Background(), "")
	if err == nil {
		t.Error("expected error for missing protected number")
	}
}

func TestPlaceMonitorCallSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test_key" {
			t.Errorf("auth: got %q", r.Header.Get("Authorization"))
		}

		var req CallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.From != "+15559876543" {
			t.Errorf("From: got %q", req.From)
		}
		if req.To != "+15551234567" {
			t.Errorf("To: got %q", req.To)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(callAPIResponse{
			Data: CallResponse{CallControlID: "cc_123", IsAlive: true},
		})
	}))
	defer server.Close()

	client, err := NewVoiceClient(VoiceClientConfig{
		APIKey:     "test_key",
		FromNumber: "+15559876543",
		BaseURL:    server.URL,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	resp, err := client.PlaceMonitorCall(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("PlaceMonitorCall: %v", err)
	}
	if resp.CallControlID != "cc_123" {
		t.Errorf("CallControlID: got %q", resp.CallControlID)
	}
	if !resp.IsAlive {
		t.Error("expected IsAlive=true")
	}
}

func TestPlaceMonitorCallAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Unauthorized"}]}`))
	}))
	defer server.Close()

	client, _ := NewVoiceClient(VoiceClientConfig{
		APIKey:     "bad_key",
		FromNumber: "+15559876543",
		BaseURL:    server.URL,
	})

	_, err := client.PlaceMonitorCall(context.Background(), "+15551234567")
	if err == nil {
		t.Error("expected error for 401")
	}
}
