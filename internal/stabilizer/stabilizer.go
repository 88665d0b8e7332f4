// Package stabilizer smooths advice transitions between cycles (C6): it caps
// how far risk_score can move in a single cycle, re-derives risk_level from
// the stabilized score, and merges the what_to_do/next_steps action queue so
// advice never whiplashes the caller on a single noisy cycle.
package stabilizer

import (
	"strings"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
)

// StepCaps bounds how far risk_score may move in one cycle, keyed by the
// confidence band of the incoming (next) advice.
type StepCaps struct {
	HighConfidence   int
	MediumConfidence int
	LowConfidence    int
}

// ModelStepCaps is used when the incoming advice came from the remote model
// scorer (C5), which is trusted with a wider step budget.
var ModelStepCaps = StepCaps{HighConfidence: 18, MediumConfidence: 14, LowConfidence: 10}

// HeuristicStepCaps is used when the incoming advice came from the
// regex-driven heuristic scorer alone (C4), which moves more conservatively.
var HeuristicStepCaps = StepCaps{HighConfidence: 11, MediumConfidence: 9, LowConfidence: 6}

const (
	highConfidenceFloor   = 0.75
	mediumConfidenceFloor = 0.55

	deadZone        = 3
	bandCrossFloor  = 70
	bandCrossMinCap = 22

	fallbackAction = "Stay alert and verify any requests independently before acting."
)

func capFor(caps StepCaps, confidence float64) int {
	switch {
	case confidence >= highConfidenceFloor:
		return caps.HighConfidence
	case confidence >= mediumConfidenceFloor:
		return caps.MediumConfidence
	default:
		return caps.LowConfidence
	}
}

// Stabilize blends previous advice with next (newly computed) advice,
// producing the advice that actually gets persisted and pushed.
func Stabilize(previous *coaching.CoachingAdvice, next coaching.CoachingAdvice, caps StepCaps) coaching.CoachingAdvice {
	stabilized := next

	if previous == nil {
		stabilized.RiskLevel = coaching.DeriveRiskLevel(next.RiskScore)
	} else {
		p := previous.RiskScore
		n := next.RiskScore

		delta := n - p
		if abs(delta) <= deadZone {
			n = p
		} else {
			cap := capFor(caps, next.Confidence)
			if p < bandCrossFloor && n >= bandCrossFloor && cap < bandCrossMinCap {
				cap = bandCrossMinCap
			}
			if delta > cap {
				n = p + cap
			} else if delta < -cap {
				n = p - cap
			}
		}
		if n < 0 {
			n = 0
		}
		if n > 100 {
			n = 100
		}
		stabilized.RiskScore = n
		stabilized.RiskLevel = coaching.DeriveRiskLevel(n)
		if stabilized.Feedback == "" {
			stabilized.Feedback = previous.Feedback
		}
		if stabilized.WhatToSay == "" {
			stabilized.WhatToSay = previous.WhatToSay
		}
	}

	stabilized.WhatToDo, stabilized.NextSteps = buildActionQueue(previous, next)
	stabilized.ClampFields()
	return stabilized
}

// buildActionQueue canonicalizes and unions the action candidates in the
// order the spec fixes — next.what_to_do, previous.what_to_do,
// previous.next_steps, next.next_steps — dropping empties and
// case-insensitive duplicates (I3). The first surviving entry becomes
// what_to_do; the following two become next_steps. A fixed fallback fills an
// entirely empty queue.
func buildActionQueue(previous *coaching.CoachingAdvice, next coaching.CoachingAdvice) (string, []string) {
	seen := make(map[string]struct{})
	var queue []string

	add := func(s string) {
		canon := coaching.CanonicalizeAction(s)
		if canon == "" {
			return
		}
		key := strings.ToLower(canon)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		queue = append(queue, canon)
	}

	add(next.WhatToDo)
	if previous != nil {
		add(previous.WhatToDo)
		for _, s := range previous.NextSteps {
			add(s)
		}
	}
	for _, s := range next.NextSteps {
		add(s)
	}

	if len(queue) == 0 {
		return fallbackAction, nil
	}

	whatToDo := queue[0]
	rest := queue[1:]
	if len(rest) > 2 {
		rest = rest[:2]
	}
	return whatToDo, rest
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
