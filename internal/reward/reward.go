// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package reward implements the online adaptation loop: each applied
// interaction produces a bounded scalar reward that immediately nudges
// the involved user and track embeddings toward or apart from each
// other, independent of the periodic batch propagation.
package reward

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/metrics"
)

// KarmaSource supplies the gamification collaborator's adjustment for
// one applied event. Implementations may call out of process; the
// integrator guards every call with a circuit breaker and degrades to a
// zero adjustment when the collaborator is unavailable.
type KarmaSource interface {
	// Adjustment returns a karma-derived reward delta for the event.
	// The engagement score is the base action weight already applied
	// to the graph.
	Adjustment(ctx context.Context, userID string, action eventlog.Action, engagement float64) (float64, error)
}

// NoKarma is a KarmaSource that always returns zero. Used when the
// gamification collaborator is not wired in.
type NoKarma struct{}

func (NoKarma) Adjustment(context.Context, string, eventlog.Action, float64) (float64, error) {
	return 0, nil
}

// Config controls reward composition and the update schedule.
type Config struct {
	// ClampMin and ClampMax bound the final reward. Clamping is what
	// keeps any single user's karma from dominating global drift.
	ClampMin float64
	ClampMax float64

	// BaseLearningRate is the step size for a node with no history.
	BaseLearningRate float64

	// LearningRateDecay is the interaction count at which the
	// effective learning rate has halved. Approximates a
	// Robbins-Monro schedule: high early plasticity, later stability.
	LearningRateDecay float64

	// KarmaTimeout bounds each collaborator call.
	KarmaTimeout time.Duration

	// KarmaFailureThreshold consecutive failures open the breaker.
	KarmaFailureThreshold uint32

	// KarmaBreakerCooldown is the open-state duration before a probe.
	KarmaBreakerCooldown time.Duration
}

// DefaultConfig returns integration defaults.
func DefaultConfig() Config {
	return Config{
		ClampMin:              -1,
		ClampMax:              1,
		BaseLearningRate:      0.1,
		LearningRateDecay:     20,
		KarmaTimeout:          2 * time.Second,
		KarmaFailureThreshold: 5,
		KarmaBreakerCooldown:  30 * time.Second,
	}
}

// Integrator applies per-event reward updates to node embeddings.
type Integrator struct {
	store   *graph.Store
	weights map[eventlog.Action]float64
	cfg     Config
	karma   KarmaSource
	breaker *gobreaker.CircuitBreaker[float64]
}

// New creates an integrator. The action weights must be the same table
// the graph store applies, so engagement emission matches edge state.
func New(store *graph.Store, weights map[eventlog.Action]float64, karma KarmaSource, cfg Config) *Integrator {
	settings := gobreaker.Settings{
		Name:    "karma",
		Timeout: cfg.KarmaBreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.KarmaFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.KarmaBreakerOpen.Set(1)
			} else {
				metrics.KarmaBreakerOpen.Set(0)
			}
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("karma breaker state change")
		},
	}
	return &Integrator{
		store:   store,
		weights: weights,
		cfg:     cfg,
		karma:   karma,
		breaker: gobreaker.NewCircuitBreaker[float64](settings),
	}
}

// Reward composes the bounded reward for an applied event:
// base action weight plus the collaborator's karma adjustment, clamped
// to the configured range. Collaborator failures degrade to a zero
// adjustment and never fail the event.
func (in *Integrator) Reward(ctx context.Context, ev eventlog.Event) float64 {
	base := in.weights[ev.Action]

	adjustment, err := in.breaker.Execute(func() (float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, in.cfg.KarmaTimeout)
		defer cancel()
		return in.karma.Adjustment(callCtx, ev.UserID, ev.Action, base)
	})
	if err != nil {
		logging.Debug().Err(err).Str("user", ev.UserID).Msg("karma adjustment unavailable")
		adjustment = 0
	}

	reward := base + adjustment
	if reward < in.cfg.ClampMin {
		metrics.RewardsClamped.Inc()
		return in.cfg.ClampMin
	}
	if reward > in.cfg.ClampMax {
		metrics.RewardsClamped.Inc()
		return in.cfg.ClampMax
	}
	return reward
}

// BaseReward composes the reward from the action weight alone, without
// consulting the karma collaborator. Used during log replay so
// reconstruction is deterministic.
func (in *Integrator) BaseReward(ev eventlog.Event) float64 {
	reward := in.weights[ev.Action]
	if reward < in.cfg.ClampMin {
		return in.cfg.ClampMin
	}
	if reward > in.cfg.ClampMax {
		return in.cfg.ClampMax
	}
	return reward
}

// Integrate nudges the user's and track's embeddings toward each other
// for a positive reward, apart for a negative one:
//
//	embedding += learningRate(node) * reward * (other - embedding)
//
// followed by the shared tanh squash so incremental updates stay inside
// the same bounds propagation guarantees. Both vectors swap atomically.
func (in *Integrator) Integrate(ev eventlog.Event, reward float64) {
	userID := graph.UserNode(ev.UserID)
	trackID := graph.TrackNode(ev.TrackID)

	user, okU := in.store.Node(userID)
	track, okT := in.store.Node(trackID)
	if !okU || !okT {
		return
	}
	uvec, tvec := user.Embedding(), track.Embedding()
	if uvec == nil || tvec == nil || len(uvec) != len(tvec) {
		return
	}

	userLR := in.learningRate(in.store.Interactions(userID))
	trackLR := in.learningRate(in.store.Interactions(trackID))

	user.SetEmbedding(nudge(uvec, tvec, userLR*reward))
	track.SetEmbedding(nudge(tvec, uvec, trackLR*reward))
	metrics.RewardsIntegrated.Inc()
}

// learningRate decays with the node's interaction count so early
// interactions move a node far and later ones stabilize it.
func (in *Integrator) learningRate(interactions uint64) float64 {
	if in.cfg.LearningRateDecay <= 0 {
		return in.cfg.BaseLearningRate
	}
	return in.cfg.BaseLearningRate / (1.0 + float64(interactions)/in.cfg.LearningRateDecay)
}

// nudge returns self moved toward (or away from) other by step,
// squashed. The inputs are never mutated.
func nudge(self, other []float64, step float64) []float64 {
	out := make([]float64, len(self))
	for i := range self {
		out[i] = self[i] + step*(other[i]-self[i])
	}
	embedding.Squash(out)
	return out
}
