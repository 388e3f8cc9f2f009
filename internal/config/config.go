// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package config loads and validates TuneGraph configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML file, then environment variables. Later layers override
// earlier ones.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the TuneGraph engine.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	EventLog  EventLogConfig  `koanf:"event_log"`
	Graph     GraphConfig     `koanf:"graph"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Reward    RewardConfig    `koanf:"reward"`
	Rank      RankConfig      `koanf:"rank"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP serving parameters.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs is the number of API requests allowed per window.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// EventLogConfig holds parameters for the durable interaction log.
type EventLogConfig struct {
	// Path is the BadgerDB directory for the append-only event log.
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every append. Disable only for tests.
	SyncWrites bool `koanf:"sync_writes"`

	// InMemory runs the log without disk persistence (tests, dev).
	InMemory bool `koanf:"in_memory"`
}

// GraphConfig holds behavior-graph parameters.
type GraphConfig struct {
	// DecayHalfLife is the edge-weight half-life. An edge untouched for
	// one half-life retains half its weight on the next update.
	DecayHalfLife time.Duration `koanf:"decay_half_life"`

	// RequireArtistLink rejects track events whose artist is unknown
	// instead of creating a placeholder artist node.
	RequireArtistLink bool `koanf:"require_artist_link"`

	// ActionWeights are the per-action edge weight contributions.
	// Skips carry a negative contribution.
	ActionWeights ActionWeights `koanf:"action_weights"`

	// ReverseScale attenuates edge weight when traversed from the
	// target side (listened strengthens User->Track more than Track->User).
	ReverseScale float64 `koanf:"reverse_scale"`

	// ContextMoodTolerance is the max mood distance for similar-context
	// edges between users sharing a session context.
	ContextMoodTolerance float64 `koanf:"context_mood_tolerance"`

	// CheckpointPath is the BadgerDB directory for graph checkpoints.
	// Empty disables checkpointing; the event log remains the source of truth.
	CheckpointPath string `koanf:"checkpoint_path"`
}

// ActionWeights are per-action edge contributions.
type ActionWeights struct {
	Play        float64 `koanf:"play"`
	Skip        float64 `koanf:"skip"`
	Like        float64 `koanf:"like"`
	Replay      float64 `koanf:"replay"`
	PlaylistAdd float64 `koanf:"playlist_add"`
}

// EmbeddingConfig holds propagation parameters.
type EmbeddingConfig struct {
	// Dim is the latent vector dimension.
	Dim int `koanf:"dim"`

	// Hops is the number of propagation rounds per batch recompute.
	Hops int `koanf:"hops"`

	// TopK bounds the neighbors aggregated per edge type.
	TopK int `koanf:"top_k"`

	// SelfWeight is the weight of a node's previous embedding in the
	// aggregation relative to neighbor contributions.
	SelfWeight float64 `koanf:"self_weight"`

	// StalenessThreshold selects nodes for batch recompute: nodes whose
	// staleness counter meets or exceeds it are refreshed.
	StalenessThreshold int `koanf:"staleness_threshold"`

	// BatchSize is the number of nodes processed between checkpoints;
	// cancellation is honored at batch boundaries.
	BatchSize int `koanf:"batch_size"`

	// BatchesPerSecond paces batch processing to bound CPU pressure
	// during propagation. Zero disables pacing.
	BatchesPerSecond float64 `koanf:"batches_per_second"`

	// Seed feeds deterministic initial embeddings.
	Seed int64 `koanf:"seed"`
}

// RewardConfig holds online reward integration parameters.
type RewardConfig struct {
	// ClampMin/ClampMax bound the applied reward regardless of how large
	// the external karma adjustment is.
	ClampMin float64 `koanf:"clamp_min"`
	ClampMax float64 `koanf:"clamp_max"`

	// BaseLearningRate is the initial per-event step size.
	BaseLearningRate float64 `koanf:"base_learning_rate"`

	// LearningRateDecay is the interaction count at which the effective
	// learning rate halves (Robbins-Monro style schedule).
	LearningRateDecay float64 `koanf:"learning_rate_decay"`

	// Karma circuit breaker settings for the external gamification collaborator.
	KarmaTimeout          time.Duration `koanf:"karma_timeout"`
	KarmaFailureThreshold uint32        `koanf:"karma_failure_threshold"`
	KarmaBreakerCooldown  time.Duration `koanf:"karma_breaker_cooldown"`
}

// RankConfig holds ranking parameters.
type RankConfig struct {
	// DefaultN and MaxN bound result sizes.
	DefaultN int `koanf:"default_n"`
	MaxN     int `koanf:"max_n"`

	// MaxCandidates bounds the candidate pool scored per request.
	MaxCandidates int `koanf:"max_candidates"`

	// ExplorationBonus boosts tracks with few prior exposures to the user.
	ExplorationBonus float64 `koanf:"exploration_bonus"`

	// SkipPenalty is subtracted per recent skip within the cool-down window.
	SkipPenalty float64 `koanf:"skip_penalty"`

	// SkipCooldown is the window during which skipped tracks are penalized
	// and, if already recommended, filtered out.
	SkipCooldown time.Duration `koanf:"skip_cooldown"`

	// ArtistCap is the max fraction of top-N slots one artist may occupy.
	ArtistCap float64 `koanf:"artist_cap"`

	// MaxAttributions bounds explanation size.
	MaxAttributions int `koanf:"max_attributions"`

	// CacheTTL is the recommendation response cache lifetime.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// IngestConfig holds event pipeline parameters.
type IngestConfig struct {
	// TimestampTolerance is how far backwards an event timestamp may move
	// per user before the event is rejected as out of order.
	TimestampTolerance time.Duration `koanf:"timestamp_tolerance"`

	// SessionGap starts a new session when consecutive events from one
	// user are further apart than this.
	SessionGap time.Duration `koanf:"session_gap"`

	// PoisonTopic receives events that failed handler processing.
	PoisonTopic string `koanf:"poison_topic"`

	// CloseTimeout bounds router shutdown.
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// SchedulerConfig holds background propagation parameters.
type SchedulerConfig struct {
	// PropagationInterval is the time between batch propagation runs.
	PropagationInterval time.Duration `koanf:"propagation_interval"`

	// CheckpointInterval is the time between graph checkpoint saves.
	// Zero disables periodic checkpointing.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8462,
			Timeout:         30 * time.Second,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		EventLog: EventLogConfig{
			Path:       "/data/tunegraph/events",
			SyncWrites: true,
			InMemory:   false,
		},
		Graph: GraphConfig{
			DecayHalfLife:     7 * 24 * time.Hour,
			RequireArtistLink: false,
			ActionWeights: ActionWeights{
				Play:        1.0,
				Skip:        -0.8,
				Like:        1.5,
				Replay:      1.3,
				PlaylistAdd: 1.2,
			},
			ReverseScale:         0.6,
			ContextMoodTolerance: 0.15,
			CheckpointPath:       "/data/tunegraph/checkpoint",
		},
		Embedding: EmbeddingConfig{
			Dim:                32,
			Hops:               2,
			TopK:               20,
			SelfWeight:         1.0,
			StalenessThreshold: 3,
			BatchSize:          256,
			BatchesPerSecond:   0,
			Seed:               42,
		},
		Reward: RewardConfig{
			ClampMin:              -1.0,
			ClampMax:              1.0,
			BaseLearningRate:      0.1,
			LearningRateDecay:     20,
			KarmaTimeout:          2 * time.Second,
			KarmaFailureThreshold: 5,
			KarmaBreakerCooldown:  30 * time.Second,
		},
		Rank: RankConfig{
			DefaultN:         20,
			MaxN:             100,
			MaxCandidates:    1000,
			ExplorationBonus: 0.05,
			SkipPenalty:      0.2,
			SkipCooldown:     6 * time.Hour,
			ArtistCap:        0.4,
			MaxAttributions:  5,
			CacheTTL:         time.Minute,
		},
		Ingest: IngestConfig{
			TimestampTolerance: 2 * time.Minute,
			SessionGap:         5 * time.Minute,
			PoisonTopic:        "interaction.poison",
			CloseTimeout:       30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PropagationInterval: 5 * time.Minute,
			CheckpointInterval:  30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for errors.
//
//nolint:gocyclo // validation needs to check many fields
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.EventLog.Path == "" && !c.EventLog.InMemory {
		return fmt.Errorf("event_log.path is required unless event_log.in_memory is set")
	}
	if c.Graph.DecayHalfLife <= 0 {
		return fmt.Errorf("graph.decay_half_life must be positive, got %v", c.Graph.DecayHalfLife)
	}
	if c.Graph.ReverseScale <= 0 || c.Graph.ReverseScale > 1 {
		return fmt.Errorf("graph.reverse_scale must be in (0, 1], got %f", c.Graph.ReverseScale)
	}
	if c.Graph.ActionWeights.Skip >= 0 {
		return fmt.Errorf("graph.action_weights.skip must be negative, got %f", c.Graph.ActionWeights.Skip)
	}
	if c.Embedding.Dim < 1 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.Hops < 1 {
		return fmt.Errorf("embedding.hops must be positive, got %d", c.Embedding.Hops)
	}
	if c.Embedding.TopK < 1 {
		return fmt.Errorf("embedding.top_k must be positive, got %d", c.Embedding.TopK)
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Reward.ClampMin >= c.Reward.ClampMax {
		return fmt.Errorf("reward.clamp_min must be below reward.clamp_max, got [%f, %f]",
			c.Reward.ClampMin, c.Reward.ClampMax)
	}
	if c.Reward.BaseLearningRate <= 0 || c.Reward.BaseLearningRate > 1 {
		return fmt.Errorf("reward.base_learning_rate must be in (0, 1], got %f", c.Reward.BaseLearningRate)
	}
	if c.Rank.DefaultN < 1 {
		return fmt.Errorf("rank.default_n must be positive, got %d", c.Rank.DefaultN)
	}
	if c.Rank.MaxN < c.Rank.DefaultN {
		return fmt.Errorf("rank.max_n must be >= rank.default_n, got %d < %d", c.Rank.MaxN, c.Rank.DefaultN)
	}
	if c.Rank.ArtistCap <= 0 || c.Rank.ArtistCap > 1 {
		return fmt.Errorf("rank.artist_cap must be in (0, 1], got %f", c.Rank.ArtistCap)
	}
	if c.Ingest.TimestampTolerance < 0 {
		return fmt.Errorf("ingest.timestamp_tolerance must be non-negative, got %v", c.Ingest.TimestampTolerance)
	}
	if c.Scheduler.PropagationInterval <= 0 {
		return fmt.Errorf("scheduler.propagation_interval must be positive, got %v", c.Scheduler.PropagationInterval)
	}
	return nil
}
