package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"
)

func TestVerifierAcceptsValidFormSignature(t *testing.T) {
	v := NewVerifier("secret-token", false)
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}
	rawURL := "https://example.com/webhook?slug=case-a"
	sig := signForm("secret-token", rawURL, form)

	if !v.Verify([]string{rawURL}, false, nil, form, "", sig) {
		t.Fatal("expected valid form signature to verify")
	}
}

func TestVerifierRejectsWrongFormSignature(t *testing.T) {
	v := NewVerifier("secret-token", false)
	form := url.Values{"CallSid": {"CA1"}}
	rawURL := "https://example.com/webhook"

	if v.Verify([]string{rawURL}, false, nil, form, "", "bogus") {
		t.Fatal("expected mismatched signature to fail")
	}
}

func TestVerifierTriesEachCandidateURL(t *testing.T) {
	v := NewVerifier("secret-token", false)
	form := url.Values{"a": {"1"}}
	actualURL := "https://real-host.example.com/webhook"
	sig := signForm("secret-token", actualURL, form)

	candidates := []string{"https://as-received.example.com/webhook", actualURL}
	if !v.Verify(candidates, false, nil, form, "", sig) {
		t.Fatal("expected the matching candidate to verify even when tried second")
	}
}

func TestVerifierJSONRequiresBodyHashMatch(t *testing.T) {
	v := NewVerifier("secret-token", false)
	body := []byte(`{"CallSid":"CA1"}`)
	rawURL := "https://example.com/webhook?bodySHA256=abc"

	sum := sha256.Sum256(body)
	correctHash := hex.EncodeToString(sum[:])
	sig := signURL("secret-token", rawURL)

	if v.Verify([]string{rawURL}, true, body, nil, "wrong-hash", sig) {
		t.Fatal("expected a mismatched bodySHA256 to be rejected")
	}
	if !v.Verify([]string{rawURL}, true, body, nil, correctHash, sig) {
		t.Fatal("expected a matching bodySHA256 and URL signature to verify")
	}
}

func TestVerifierSkipDisablesCheck(t *testing.T) {
	v := NewVerifier("secret-token", true)
	if !v.Verify(nil, false, nil, nil, "", "") {
		t.Fatal("expected skip=true to always verify")
	}
}

func TestVerifierRejectsMissingSignature(t *testing.T) {
	v := NewVerifier("secret-token", false)
	if v.Verify([]string{"https://example.com/webhook"}, false, nil, url.Values{}, "", "") {
		t.Fatal("expected an empty signature header to fail")
	}
}
