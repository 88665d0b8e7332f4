// Package scoring implements the two-layer advice sources: the pure,
// regex-driven heuristic scorer (C4) in this file, and the remote model
// scorer (C5) in model.go.
package scoring

import (
	"regexp"
	"strings"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
)

// Detector matches the HIGH/MEDIUM risk-pattern banks (§4.4) against
// lowercased transcript text, mirroring the keyword-detector shape used
// elsewhere in this codebase for compliance keyword matching.
type Detector struct {
	high   *regexp.Regexp
	medium *regexp.Regexp
}

// NewDetector compiles the closed-set HIGH and MEDIUM risk-pattern banks.
func NewDetector() *Detector {
	return &Detector{
		high: regexp.MustCompile(`(?i)gift card|wire transfer|crypto|bitcoin|one-time passcode|otp|verification code|ssn|social security|bank account|routing number|remote access|screen share|install app|urgent|immediately|act now|final warning|arrest|warrant|lawsuit|jail`),
		medium: regexp.MustCompile(`(?i)keep confidential|don't tell|suspicious activity|refund department|tech support|pay now|security hold|confirm your identity`),
	}
}

const (
	baseScore    = 20
	highWeight   = 15
	mediumWeight = 8
	scoreFloor   = 5
	scoreCeil    = 95

	confidenceLow    = 0.45
	confidenceMedium = 0.50
	confidenceHigh   = 0.55
)

var defaultDetector = NewDetector()

// Score computes provisional advice from the last <=10 transcript chunks.
// It is a pure function: identical inputs always yield identical output.
// previous, if non-nil, is not mutated or read by this scorer — the model
// scorer and stabilizer are the only consumers of prior advice context, but
// the parameter is accepted to keep the C4/C5 call signatures symmetric.
func Score(chunks []coaching.TranscriptChunk, previous *coaching.CoachingAdvice) coaching.CoachingAdvice {
	recent := chunks
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var b strings.Builder
	for _, c := range recent {
		b.WriteString(strings.ToLower(c.Text))
		b.WriteString(" ")
	}
	text := b.String()

	score := baseScore
	score += len(defaultDetector.high.FindAllStringIndex(text, -1)) * highWeight
	score += len(defaultDetector.medium.FindAllStringIndex(text, -1)) * mediumWeight
	if score < scoreFloor {
		score = scoreFloor
	}
	if score > scoreCeil {
		score = scoreCeil
	}

	level := coaching.DeriveRiskLevel(score)
	advice := template(level)
	advice.RiskScore = score
	advice.RiskLevel = level
	switch level {
	case coaching.RiskLow:
		advice.Confidence = confidenceLow
	case coaching.RiskMedium:
		advice.Confidence = confidenceMedium
	default:
		advice.Confidence = confidenceHigh
	}
	advice.ClampFields()
	return advice
}

// template returns the canned feedback/what-to-say/what-to-do/next-steps
// copy for a given risk band. Kept as plain data rather than config so the
// heuristic scorer stays a pure, dependency-free function.
func template(level coaching.RiskLevel) coaching.CoachingAdvice {
	switch level {
	case coaching.RiskHigh:
		return coaching.CoachingAdvice{
			Feedback:  "Multiple high-risk scam indicators detected in this call.",
			WhatToSay: "I'm not comfortable continuing. I'll verify this independently and call back.",
			WhatToDo:  "Hang up now and call the organization back using a number you look up yourself.",
			NextSteps: []string{"Do not share any codes, passwords, or account numbers.", "Report this call to your bank or the agency it claims to represent."},
		}
	case coaching.RiskMedium:
		return coaching.CoachingAdvice{
			Feedback:  "This call has some characteristics of a scam attempt.",
			WhatToSay: "Can you confirm your name and department, and a callback number I can verify?",
			WhatToDo:  "Slow down and verify the caller's identity before acting on anything they ask.",
			NextSteps: []string{"Do not confirm personal or financial details yet.", "Write down what they're asking for so you can check it later."},
		}
	default:
		return coaching.CoachingAdvice{
			Feedback:  "No strong scam indicators detected yet.",
			WhatToSay: "Go ahead, I'm listening.",
			WhatToDo:  "Continue the call normally and stay alert for pressure or requests for payment.",
			NextSteps: []string{"Keep taking notes on anything unusual."},
		}
	}
}
