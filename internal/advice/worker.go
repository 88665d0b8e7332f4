// Package advice implements the Per-Call Worker (C7) and its embedded
// Backoff Controller (§4.11, part of C7). Unlike the teacher's
// worker.go — a pool of goroutines draining one shared queue — this worker
// runs exactly one logical, serialized task per call_id: a small mailbox of
// (pending, running, force_model) flags coalesces concurrent enqueue calls,
// following the spec's explicit ban on a global work queue for this
// component (§9 Design Notes).
package advice

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/coaching"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/config"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/livestore"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/observability/metrics"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/scoring"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/session"
	"github.com/ClarkOhlenbusch/scam-detective-hotline/internal/stabilizer"
)

const (
	transcriptWindow     = 40
	streakResetAfterMs   = 90_000
	backoffBaseMs        = 6_000
	backoffCapMs         = 60_000
	delayedErrorMessage  = "Live analysis is delayed."
	rateLimitedErrorText = "Live analysis is temporarily rate-limited."
)

// Store is the subset of livestore.Store the worker needs, narrowed for
// testability (a fake satisfies this without a database).
type Store interface {
	GetSummary(ctx context.Context, callID string) (*livestore.Summary, error)
	GetChunks(ctx context.Context, callID string, limit int) ([]coaching.TranscriptChunk, error)
	SetAdvice(ctx context.Context, callID string, advice coaching.CoachingAdvice, lastError *string, analyzing bool) error
	SetAnalyzing(ctx context.Context, callID string, analyzing bool) error
}

// mailbox holds the per-call_id coalescing flags plus the backoff
// controller's state, all guarded by one mutex. Never exported and never
// observed by another call's worker (§5 shared resources).
type mailbox struct {
	mu sync.Mutex

	pending    bool
	running    bool
	forceModel bool

	streak          int
	lastRateLimitAt int64
	coolUntil       int64
	lastModelRunAt  int64
}

// Worker runs the per-call advice cycle (C7).
type Worker struct {
	store       Store
	modelScorer scoring.Scorer
	minInterval int64
	metrics     *metrics.PipelineMetrics

	mailboxes sync.Map // call_id -> *mailbox

	now func() int64
}

// NewWorker constructs a Worker. modelScorer may be nil when the remote
// model is not configured, in which case step 6/7 of the cycle never fires.
func NewWorker(store Store, modelScorer scoring.Scorer, cfg *config.Config, pm *metrics.PipelineMetrics) *Worker {
	return &Worker{
		store:       store,
		modelScorer: modelScorer,
		minInterval: deriveMinIntervalMs(cfg),
		metrics:     pm,
		now:         nowMs,
	}
}

func deriveMinIntervalMs(cfg *config.Config) int64 {
	if cfg.ModelMinIntervalMS > 0 {
		return int64(cfg.ModelMinIntervalMS)
	}
	rpm := cfg.ModelRPMLimit
	if rpm <= 0 {
		rpm = 30
	}
	derived := int64(math.Ceil(60000.0/float64(rpm))) + 400
	if derived < 2800 {
		derived = 2800
	}
	return derived
}

// Enqueue posts a run request for call_id, starting the run loop if it is
// not already active. A concurrent enqueue while a cycle is in flight is
// coalesced into the mailbox rather than dropped (O2).
func (w *Worker) Enqueue(callID string, force bool) {
	val, _ := w.mailboxes.LoadOrStore(callID, &mailbox{})
	mb := val.(*mailbox)

	mb.mu.Lock()
	mb.pending = true
	if force {
		mb.forceModel = true
	}
	start := !mb.running
	if start {
		mb.running = true
	}
	mb.mu.Unlock()

	if start {
		go w.runLoop(callID, mb)
	}
}

func (w *Worker) runLoop(callID string, mb *mailbox) {
	for {
		mb.mu.Lock()
		if !mb.pending {
			mb.running = false
			mb.mu.Unlock()
			return
		}
		mb.pending = false
		force := mb.forceModel
		mb.forceModel = false
		mb.mu.Unlock()

		terminal := w.runCycle(context.Background(), callID, mb, force)
		if terminal {
			mb.mu.Lock()
			mb.running = false
			mb.mu.Unlock()
			w.mailboxes.Delete(callID)
			return
		}
	}
}

// runCycle runs one advice cycle for callID and reports whether the worker
// should terminate (the session row has disappeared).
func (w *Worker) runCycle(ctx context.Context, callID string, mb *mailbox, force bool) bool {
	start := time.Now()
	source := "heuristic"
	defer func() {
		if w.metrics != nil {
			w.metrics.ObserveAdviceCycle(source, time.Since(start).Seconds())
		}
	}()

	summary, err := w.store.GetSummary(ctx, callID)
	if err != nil {
		return false
	}
	if summary == nil {
		return true
	}
	callEnded := session.IsTerminal(summary.Status)

	chunks, err := w.store.GetChunks(ctx, callID, transcriptWindow)
	if err != nil || len(chunks) == 0 {
		return false
	}

	previous := summary.Advice
	heuristicAdvice := scoring.Score(chunks, previous)
	stabilizedHeuristic := stabilizer.Stabilize(previous, heuristicAdvice, stabilizer.HeuristicStepCaps)
	stabilizedHeuristic.UpdatedAtMs = w.now()

	if err := w.store.SetAdvice(ctx, callID, stabilizedHeuristic, nil, false); err != nil {
		return false
	}

	if !w.shouldRunModel(mb, force, callEnded) {
		return false
	}

	source = "model"
	w.runModelCycle(ctx, callID, mb, chunks, stabilizedHeuristic)
	return false
}

func (w *Worker) shouldRunModel(mb *mailbox, force, callEnded bool) bool {
	if w.modelScorer == nil {
		return false
	}
	now := w.now()

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if now < mb.coolUntil {
		return false
	}
	intervalOk := force || callEnded || (now-mb.lastModelRunAt) >= w.minInterval
	return intervalOk
}

func (w *Worker) runModelCycle(ctx context.Context, callID string, mb *mailbox, chunks []coaching.TranscriptChunk, heuristic coaching.CoachingAdvice) {
	if err := w.store.SetAnalyzing(ctx, callID, true); err != nil {
		return
	}

	modelStart := time.Now()
	modelAdvice, err := w.modelScorer.Score(ctx, chunks, &heuristic)
	now := w.now()

	if err == nil && modelAdvice != nil {
		stabilizedModel := stabilizer.Stabilize(&heuristic, *modelAdvice, stabilizer.ModelStepCaps)
		stabilizedModel.UpdatedAtMs = now
		_ = w.store.SetAdvice(ctx, callID, stabilizedModel, nil, false)

		mb.mu.Lock()
		mb.lastModelRunAt = now
		mb.coolUntil = 0
		mb.streak = 0
		mb.lastRateLimitAt = 0
		mb.mu.Unlock()

		if w.metrics != nil {
			w.metrics.ObserveModelCall("configured", "ok", time.Since(modelStart).Seconds())
		}
		return
	}

	lastError := delayedErrorMessage
	var merr *scoring.ModelError
	if errors.As(err, &merr) && merr.Status == 429 {
		lastError = rateLimitedErrorText
		w.applyBackoff(mb, now, merr.RetryAfterMs)
	} else {
		mb.mu.Lock()
		mb.lastModelRunAt = now
		mb.mu.Unlock()
	}
	if w.metrics != nil {
		w.metrics.ObserveModelCall("configured", "error", time.Since(modelStart).Seconds())
	}
	_ = w.store.SetAdvice(ctx, callID, heuristic, &lastError, false)
}

// applyBackoff implements §4.11 on a ModelError{status=429}.
func (w *Worker) applyBackoff(mb *mailbox, now, retryAfterMs int64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.lastRateLimitAt > 0 && now-mb.lastRateLimitAt > streakResetAfterMs {
		mb.streak = 0
	}
	mb.streak++
	mb.lastRateLimitAt = now

	expBackoff := int64(backoffBaseMs)
	for i := 1; i < mb.streak; i++ {
		expBackoff *= 2
		if expBackoff >= backoffCapMs {
			expBackoff = backoffCapMs
			break
		}
	}
	if expBackoff > backoffCapMs {
		expBackoff = backoffCapMs
	}

	delay := expBackoff
	if retryAfterMs > delay {
		delay = retryAfterMs
	}
	mb.coolUntil = now + delay
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
