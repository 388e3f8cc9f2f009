// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package engine orchestrates the recommendation core: it validates
// and applies interaction events through the append-only log into the
// behavior graph, runs the online reward loop, and serves ranked,
// explainable recommendation queries.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/metrics"
	"github.com/tunegraph/tunegraph/internal/rank"
	"github.com/tunegraph/tunegraph/internal/reward"
)

// AppliedTopic carries one message per applied event for downstream
// consumers (the gamification collaborator among them).
const AppliedTopic = "interaction.applied"

// ValidationError reports a malformed or out-of-order event. The event
// is rejected, logged and never applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Config contains orchestration parameters.
type Config struct {
	// TimestampTolerance is how far behind a user's latest event a new
	// event's timestamp may lag before it is rejected as out of order.
	TimestampTolerance time.Duration

	// CacheTTL bounds how long a recommendation response may be
	// served again unchanged.
	CacheTTL time.Duration

	// RecentWindow is how long a surfaced track counts as recently
	// recommended for the skip-filter interaction.
	RecentWindow time.Duration
}

// DefaultConfig returns orchestration defaults.
func DefaultConfig() Config {
	return Config{
		TimestampTolerance: 2 * time.Minute,
		CacheTTL:           time.Minute,
		RecentWindow:       6 * time.Hour,
	}
}

// AppliedMessage is the engagement tuple published per applied event.
type AppliedMessage struct {
	EventID    string          `json:"event_id"`
	UserID     string          `json:"user_id"`
	Action     eventlog.Action `json:"action"`
	Engagement float64         `json:"engagement"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Engine wires the event log, graph store, propagator, reward
// integrator and ranker into the serving pipeline. SubmitEvent is the
// single writer; all query methods are read-only and run in parallel.
type Engine struct {
	log        *eventlog.Log
	store      *graph.Store
	propagator *embedding.Propagator
	integrator *reward.Integrator
	ranker     *rank.Ranker
	annotator  *rank.Annotator
	checkpoint *graph.Checkpointer
	publisher  message.Publisher
	weights    map[eventlog.Action]float64
	cfg        Config

	// writeMu serializes the apply path, which also preserves per-user
	// ordering of karma requests and published engagement tuples.
	writeMu sync.Mutex
	lastTS  map[string]time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedResult
	recent  map[string]map[string]time.Time
}

type cachedResult struct {
	recs    []rank.Recommendation
	expires time.Time
}

// Deps collects the engine's collaborators. Checkpoint and Publisher
// are optional.
type Deps struct {
	Log        *eventlog.Log
	Store      *graph.Store
	Propagator *embedding.Propagator
	Integrator *reward.Integrator
	Ranker     *rank.Ranker
	Annotator  *rank.Annotator
	Checkpoint *graph.Checkpointer
	Publisher  message.Publisher

	// ActionWeights is the same table the store applies; it supplies
	// the engagement score in published tuples.
	ActionWeights map[eventlog.Action]float64
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		log:        deps.Log,
		store:      deps.Store,
		propagator: deps.Propagator,
		integrator: deps.Integrator,
		ranker:     deps.Ranker,
		annotator:  deps.Annotator,
		checkpoint: deps.Checkpoint,
		publisher:  deps.Publisher,
		weights:    deps.ActionWeights,
		cfg:        cfg,
		lastTS:     make(map[string]time.Time),
		cache:      make(map[string]cachedResult),
		recent:     make(map[string]map[string]time.Time),
	}
}

// SetPublisher attaches the applied-topic publisher. The ingest
// pipeline owns the pub/sub but needs the engine to exist first, so
// the publisher is wired after construction.
func (e *Engine) SetPublisher(pub message.Publisher) {
	e.writeMu.Lock()
	e.publisher = pub
	e.writeMu.Unlock()
}

// SubmitEvent validates, persists and applies one interaction event,
// runs the online reward update, and publishes the engagement tuple.
// The returned event carries its assigned log sequence. Failures after
// the append are reported to the caller and never retried internally;
// the append-only log makes replay the recovery mechanism.
func (e *Engine) SubmitEvent(ctx context.Context, ev eventlog.Event) (eventlog.Event, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.validate(ev); err != nil {
		metrics.EventsRejected.WithLabelValues(err.Field).Inc()
		logging.Warn().
			Str("user", ev.UserID).
			Str("track", ev.TrackID).
			Str("action", string(ev.Action)).
			Str("field", err.Field).
			Str("reason", err.Reason).
			Msg("event rejected")
		return eventlog.Event{}, err
	}

	persisted, err := e.log.Append(ctx, ev)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("persist event: %w", err)
	}

	start := time.Now()
	applied, err := e.store.ApplyEvent(persisted)
	if err != nil {
		return persisted, fmt.Errorf("apply event seq %d: %w", persisted.Seq, err)
	}
	metrics.EventApplyDuration.Observe(time.Since(start).Seconds())
	metrics.EventsApplied.WithLabelValues(string(persisted.Action)).Inc()

	for _, id := range applied.Affected {
		e.propagator.EnsureEmbedding(id)
	}
	if persisted.Timestamp.After(e.lastTS[persisted.UserID]) {
		e.lastTS[persisted.UserID] = persisted.Timestamp
	}

	r := e.integrator.Reward(ctx, persisted)
	e.integrator.Integrate(persisted, r)

	e.publishApplied(persisted)
	e.invalidateUser(persisted.UserID)
	return persisted, nil
}

func (e *Engine) validate(ev eventlog.Event) *ValidationError {
	if ev.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if ev.TrackID == "" {
		return &ValidationError{Field: "track_id", Reason: "required"}
	}
	if !ev.Action.Valid() {
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", ev.Action)}
	}
	if ev.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "required"}
	}
	if last, ok := e.lastTS[ev.UserID]; ok {
		if ev.Timestamp.Before(last.Add(-e.cfg.TimestampTolerance)) {
			return &ValidationError{
				Field:  "timestamp",
				Reason: fmt.Sprintf("out of order: %s behind user's latest event", last.Sub(ev.Timestamp)),
			}
		}
	}
	return nil
}

func (e *Engine) publishApplied(ev eventlog.Event) {
	if e.publisher == nil {
		return
	}
	payload, err := json.Marshal(AppliedMessage{
		EventID:    ev.ID,
		UserID:     ev.UserID,
		Action:     ev.Action,
		Engagement: e.weights[ev.Action],
		Timestamp:  ev.Timestamp,
	})
	if err != nil {
		logging.Error().Err(err).Msg("encode applied message")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := e.publisher.Publish(AppliedTopic, msg); err != nil {
		// Fan-out is best effort; the log already holds the event.
		logging.Warn().Err(err).Str("event", ev.ID).Msg("publish applied message")
	}
}

// Propagate runs one staleness-gated propagation round. Called by the
// background scheduler.
func (e *Engine) Propagate(ctx context.Context) (int, error) {
	return e.propagator.Propagate(ctx)
}

// Checkpoint persists a graph snapshot tagged with the current log
// sequence. No-op when no checkpointer is configured.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.checkpoint == nil {
		return nil
	}
	return e.checkpoint.Save(ctx, e.store, e.log.LastSeq())
}

// Recover rebuilds graph and embedding state on startup: the latest
// checkpoint is loaded when available, the log tail is replayed on top,
// and a full propagation establishes the embedding baseline. Replay
// integrates each event's clamped base reward so reconstruction stays
// deterministic regardless of what the karma collaborator answered
// when the events first arrived.
func (e *Engine) Recover(ctx context.Context) error {
	var fromSeq uint64
	if e.checkpoint != nil {
		seq, err := e.checkpoint.Load(ctx, e.store)
		switch {
		case err == nil:
			fromSeq = seq
		case err == graph.ErrNoCheckpoint:
			// Full replay.
		default:
			logging.Warn().Err(err).Msg("checkpoint unavailable, replaying full log")
		}
	}

	replayed := 0
	err := e.log.Replay(ctx, fromSeq, func(ev eventlog.Event) error {
		applied, err := e.store.ApplyEvent(ev)
		if err != nil {
			// Per-event failures are isolated; the stream continues.
			logging.Warn().Err(err).Uint64("seq", ev.Seq).Msg("replay skipped event")
			return nil
		}
		for _, id := range applied.Affected {
			e.propagator.EnsureEmbedding(id)
		}
		if ev.Timestamp.After(e.lastTS[ev.UserID]) {
			e.lastTS[ev.UserID] = ev.Timestamp
		}
		e.integrator.Integrate(ev, e.integrator.BaseReward(ev))
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}

	if _, err := e.propagator.PropagateAll(ctx); err != nil {
		return fmt.Errorf("baseline propagation: %w", err)
	}
	logging.Info().
		Uint64("from_seq", fromSeq).
		Int("replayed", replayed).
		Msg("engine recovered")
	return nil
}

func (e *Engine) invalidateUser(userID string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for key := range e.cache {
		if len(key) > len(userID) && key[:len(userID)] == userID && key[len(userID)] == '|' {
			delete(e.cache, key)
		}
	}
}
