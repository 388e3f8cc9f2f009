// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package scheduler provides suture service wrappers for the engine's
// background work: periodic embedding propagation and graph
// checkpointing.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Propagator is the engine surface the propagation service drives.
// Declared here so the scheduler does not import the engine package.
type Propagator interface {
	// Propagate runs one staleness-gated propagation round.
	Propagate(ctx context.Context) (int, error)
}

// PropagationServiceConfig holds propagation scheduling parameters.
type PropagationServiceConfig struct {
	// Interval between propagation rounds.
	Interval time.Duration

	// RunOnStartup triggers a round as soon as the service starts.
	RunOnStartup bool
}

// PropagationService periodically refreshes stale embeddings. Failures
// are logged and the next tick tries again; ranking keeps serving from
// last-known-good embeddings throughout.
type PropagationService struct {
	propagator Propagator
	cfg        PropagationServiceConfig
	logger     zerolog.Logger
}

// NewPropagationService creates the propagation service.
func NewPropagationService(p Propagator, cfg PropagationServiceConfig, logger zerolog.Logger) *PropagationService {
	return &PropagationService{
		propagator: p,
		cfg:        cfg,
		logger:     logger.With().Str("service", "propagation").Logger(),
	}
}

// String implements fmt.Stringer for suture's service naming.
func (s *PropagationService) String() string { return "propagation-service" }

// Serve implements suture.Service.
func (s *PropagationService) Serve(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.logger.Info().Dur("interval", interval).Msg("propagation service starting")

	if s.cfg.RunOnStartup {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("propagation service stopping")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *PropagationService) runOnce(ctx context.Context) {
	refreshed, err := s.propagator.Propagate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("propagation round failed")
		return
	}
	s.logger.Debug().Int("refreshed", refreshed).Msg("propagation round done")
}
