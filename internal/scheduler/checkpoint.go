// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Checkpointer is the engine surface the checkpoint service drives.
type Checkpointer interface {
	// Checkpoint persists a graph snapshot tagged with the current
	// log sequence.
	Checkpoint(ctx context.Context) error
}

// CheckpointServiceConfig holds checkpoint scheduling parameters.
type CheckpointServiceConfig struct {
	// Interval between checkpoints.
	Interval time.Duration
}

// CheckpointService periodically snapshots graph state so restarts only
// replay the log tail. A failed checkpoint costs nothing but a longer
// replay; the log stays authoritative.
type CheckpointService struct {
	checkpointer Checkpointer
	cfg          CheckpointServiceConfig
	logger       zerolog.Logger
}

// NewCheckpointService creates the checkpoint service.
func NewCheckpointService(c Checkpointer, cfg CheckpointServiceConfig, logger zerolog.Logger) *CheckpointService {
	return &CheckpointService{
		checkpointer: c,
		cfg:          cfg,
		logger:       logger.With().Str("service", "checkpoint").Logger(),
	}
}

// String implements fmt.Stringer for suture's service naming.
func (s *CheckpointService) String() string { return "checkpoint-service" }

// Serve implements suture.Service.
func (s *CheckpointService) Serve(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	s.logger.Info().Dur("interval", interval).Msg("checkpoint service starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final snapshot on the way out keeps the next restart cheap.
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.checkpointer.Checkpoint(saveCtx); err != nil {
				s.logger.Warn().Err(err).Msg("shutdown checkpoint failed")
			}
			cancel()
			s.logger.Info().Msg("checkpoint service stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := s.checkpointer.Checkpoint(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("checkpoint failed")
			}
		}
	}
}
