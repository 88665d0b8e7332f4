// Package events implements the transcript-event parser (C1): decoding a
// telephony provider's webhook payload (form-encoded or JSON, with
// provider-specific field spellings) into a normalized ParsedEvent, and
// computing the deterministic dedup fingerprint used by the live store.
package events

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Speaker classifies which side of the call produced a transcript fragment.
type Speaker string

const (
	SpeakerCaller  Speaker = "caller"
	SpeakerOther   Speaker = "other"
	SpeakerUnknown Speaker = "unknown"
)

// TranscriptFragment is the transcript portion of a parsed webhook event, if any.
type TranscriptFragment struct {
	SourceEventID string
	Speaker       Speaker
	Text          string
	TimestampMs   int64
	IsFinal       bool
}

// ParsedEvent is the normalized result of decoding a provider webhook body.
type ParsedEvent struct {
	CallID     string
	AccountID  string
	Slug       string
	Status     string
	Transcript *TranscriptFragment
}

// FieldExtractor abstracts over the wire format (form map or JSON tree) so
// the parser below can be written once against a single interface, per the
// source system's dynamic/loosely-typed payload design.
type FieldExtractor interface {
	// Get returns the first non-empty value found for any of aliases,
	// matched by case-insensitive, non-alphanumeric-stripped key comparison.
	Get(aliases ...string) (string, bool)
}

var finalEventTypePattern = regexp.MustCompile(`(?i)(final|complete|stopped)`)

const maxWalkDepth = 4

// Parse decodes a webhook body into a ParsedEvent. contentType is the
// request's declared Content-Type header (may be empty); slugHint is the
// query-string slug, if any, which Parse attaches to the result only when
// the body itself carries none.
func Parse(body []byte, contentType string, slugHint string) (ParsedEvent, error) {
	extractor, eventType, err := buildExtractor(body, contentType)
	if err != nil {
		return ParsedEvent{}, err
	}

	evt := ParsedEvent{}
	if v, ok := extractor.Get("CallSid", "callSid", "call_sid", "CallId", "call_id", "CallID"); ok {
		evt.CallID = strings.TrimSpace(v)
	}
	if v, ok := extractor.Get("AccountSid", "account_sid", "AccountId", "account_id"); ok {
		evt.AccountID = strings.TrimSpace(v)
	}
	if v, ok := extractor.Get("slug", "Slug", "caseSlug", "case_slug"); ok {
		evt.Slug = strings.TrimSpace(v)
	} else if slugHint != "" {
		evt.Slug = slugHint
	}
	if v, ok := extractor.Get("CallStatus", "call_status", "Status", "status"); ok {
		evt.Status = strings.TrimSpace(v)
	}

	transcriptText, hasText := extractor.Get("TranscriptionText", "transcript", "text", "SpeechResult", "Transcript")
	if hasText && strings.TrimSpace(transcriptText) != "" {
		frag := &TranscriptFragment{
			Text:    strings.TrimSpace(transcriptText),
			Speaker: classifySpeaker(extractor),
			IsFinal: resolveFinality(extractor, eventType),
		}
		if ts, ok := extractor.Get("Timestamp", "timestamp", "timestamp_ms", "TimestampMs"); ok {
			if ms, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil {
				frag.TimestampMs = ms
			}
		}
		frag.SourceEventID = resolvePrimaryID(extractor, frag)
		evt.Transcript = frag
	}

	return evt, nil
}

func buildExtractor(body []byte, contentType string) (FieldExtractor, string, error) {
	trimmed := strings.TrimSpace(string(body))
	looksJSON := strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	declaredJSON := strings.Contains(strings.ToLower(contentType), "json")

	if declaredJSON || looksJSON {
		var tree any
		if err := json.Unmarshal(body, &tree); err != nil {
			return nil, "", fmt.Errorf("events: parse json body: %w", err)
		}
		ext := newJSONExtractor(tree)
		eventType, _ := ext.Get("EventType", "event_type", "Type", "type")
		return ext, eventType, nil
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("events: parse form body: %w", err)
	}
	ext := formExtractor{values: values}
	eventType, _ := ext.Get("EventType", "event_type", "Type", "type")
	return ext, eventType, nil
}

// formExtractor adapts url.Values (form-encoded bodies) to FieldExtractor.
type formExtractor struct {
	values url.Values
}

func (f formExtractor) Get(aliases ...string) (string, bool) {
	for _, alias := range aliases {
		target := normalizeKey(alias)
		for key, vals := range f.values {
			if normalizeKey(key) == target && len(vals) > 0 {
				return vals[0], true
			}
		}
	}
	return "", false
}

// jsonExtractor adapts an arbitrary decoded JSON tree to FieldExtractor by
// flattening it (bounded to maxWalkDepth) into a normalized-key -> string
// map on construction; first occurrence of a key wins.
type jsonExtractor struct {
	flat map[string]string
}

func newJSONExtractor(tree any) jsonExtractor {
	flat := map[string]string{}
	walkJSON(tree, flat, 0)
	return jsonExtractor{flat: flat}
}

func (j jsonExtractor) Get(aliases ...string) (string, bool) {
	for _, alias := range aliases {
		if v, ok := j.flat[normalizeKey(alias)]; ok {
			return v, true
		}
	}
	return "", false
}

// walkJSON flattens a JSON tree into normalized-key -> string-value pairs,
// recursing into nested objects and the first element of nested arrays
// (e.g. TranscriptionData.segments[0]) up to maxWalkDepth.
func walkJSON(node any, flat map[string]string, depth int) {
	if depth > maxWalkDepth {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for key, val := range v {
			nk := normalizeKey(key)
			if s, ok := scalarString(val); ok {
				if _, exists := flat[nk]; !exists {
					flat[nk] = s
				}
			}
			walkJSON(val, flat, depth+1)
		}
	case []any:
		if len(v) > 0 {
			walkJSON(v[0], flat, depth+1)
		}
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func classifySpeaker(extractor FieldExtractor) Speaker {
	hint, ok := extractor.Get("Track", "Channel", "ParticipantRole", "track", "channel", "participant_role")
	if !ok {
		return SpeakerUnknown
	}
	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "caller"), strings.Contains(hint, "customer"), strings.Contains(hint, "inbound"):
		return SpeakerCaller
	case strings.Contains(hint, "outbound"), strings.Contains(hint, "callee"), strings.Contains(hint, "agent"), strings.Contains(hint, "recipient"), strings.Contains(hint, "other"):
		return SpeakerOther
	default:
		return SpeakerUnknown
	}
}

func resolveFinality(extractor FieldExtractor, eventType string) bool {
	if v, ok := extractor.Get("IsFinal", "is_final"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	if v, ok := extractor.Get("isFinal"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return finalEventTypePattern.MatchString(eventType)
}

func resolvePrimaryID(extractor FieldExtractor, frag *TranscriptFragment) string {
	if v, ok := extractor.Get("SegmentSid", "segment_sid"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := extractor.Get("SourceEventId", "source_event_id"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	sid, sidOK := extractor.Get("TranscriptionSid", "transcription_sid")
	seq, seqOK := extractor.Get("SequenceId", "sequence_id")
	if sidOK && seqOK && strings.TrimSpace(sid) != "" {
		return strings.TrimSpace(sid) + ":" + strings.TrimSpace(seq)
	}
	return fmt.Sprintf("%d:%s", frag.TimestampMs, frag.Speaker)
}

// Fingerprint computes the SHA-1 dedup fingerprint for a transcript chunk:
// hex(sha1(call_id | primary_id | lowercased_trimmed_text)).
func Fingerprint(callID, primaryID, text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	payload := callID + "|" + primaryID + "|" + norm
	sum := sha1.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
