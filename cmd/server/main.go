// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Command server runs the TuneGraph recommendation engine: the durable
// interaction log, the behavior graph, background embedding
// propagation, the ingest pipeline and the HTTP API, all under one
// supervision tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tunegraph/tunegraph/internal/api"
	"github.com/tunegraph/tunegraph/internal/config"
	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/engine"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/ingest"
	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/rank"
	"github.com/tunegraph/tunegraph/internal/reward"
	"github.com/tunegraph/tunegraph/internal/scheduler"
	"github.com/tunegraph/tunegraph/internal/supervisor"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tunegraph: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stderr,
	})
	logging.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("starting tunegraph")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := eventlog.Open(eventlog.Config{
		Path:       cfg.EventLog.Path,
		SyncWrites: cfg.EventLog.SyncWrites,
		InMemory:   cfg.EventLog.InMemory,
	})
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() {
		if err := log.Close(); err != nil {
			logging.Error().Err(err).Msg("close event log")
		}
	}()

	weights := actionWeights(cfg.Graph.ActionWeights)
	store := graph.New(graph.Config{
		HalfLife:          cfg.Graph.DecayHalfLife,
		ActionWeights:     weights,
		ReverseScale:      cfg.Graph.ReverseScale,
		RequireArtistLink: cfg.Graph.RequireArtistLink,
		MoodTolerance:     cfg.Graph.ContextMoodTolerance,
		SessionGap:        cfg.Ingest.SessionGap,
	})

	var checkpointer *graph.Checkpointer
	if cfg.Graph.CheckpointPath != "" {
		checkpointer, err = graph.OpenCheckpointer(cfg.Graph.CheckpointPath)
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		defer func() {
			if err := checkpointer.Close(); err != nil {
				logging.Error().Err(err).Msg("close checkpoint store")
			}
		}()
	}

	propagator := embedding.New(store, embedding.Config{
		Dim:                cfg.Embedding.Dim,
		Hops:               cfg.Embedding.Hops,
		TopK:               cfg.Embedding.TopK,
		SelfWeight:         cfg.Embedding.SelfWeight,
		StalenessThreshold: cfg.Embedding.StalenessThreshold,
		BatchSize:          cfg.Embedding.BatchSize,
		BatchesPerSecond:   cfg.Embedding.BatchesPerSecond,
		Seed:               uint64(cfg.Embedding.Seed),
	})

	// The gamification collaborator plugs in through reward.KarmaSource;
	// without one configured, rewards reduce to the base action weight.
	integrator := reward.New(store, weights, reward.NoKarma{}, reward.Config{
		ClampMin:              cfg.Reward.ClampMin,
		ClampMax:              cfg.Reward.ClampMax,
		BaseLearningRate:      cfg.Reward.BaseLearningRate,
		LearningRateDecay:     cfg.Reward.LearningRateDecay,
		KarmaTimeout:          cfg.Reward.KarmaTimeout,
		KarmaFailureThreshold: cfg.Reward.KarmaFailureThreshold,
		KarmaBreakerCooldown:  cfg.Reward.KarmaBreakerCooldown,
	})

	rankCfg := rank.Config{
		DefaultN:           cfg.Rank.DefaultN,
		MaxN:               cfg.Rank.MaxN,
		MaxCandidates:      cfg.Rank.MaxCandidates,
		ExplorationBonus:   cfg.Rank.ExplorationBonus,
		SkipPenalty:        cfg.Rank.SkipPenalty,
		SkipCooldown:       cfg.Rank.SkipCooldown,
		ArtistCap:          cfg.Rank.ArtistCap,
		StalenessThreshold: cfg.Embedding.StalenessThreshold,
		MaxAttributions:    cfg.Rank.MaxAttributions,
	}

	eng := engine.New(engine.Deps{
		Log:           log,
		Store:         store,
		Propagator:    propagator,
		Integrator:    integrator,
		Ranker:        rank.New(store, rankCfg),
		Annotator:     rank.NewAnnotator(store, rankCfg),
		Checkpoint:    checkpointer,
		ActionWeights: weights,
	}, engine.Config{
		TimestampTolerance: cfg.Ingest.TimestampTolerance,
		CacheTTL:           cfg.Rank.CacheTTL,
		RecentWindow:       cfg.Rank.SkipCooldown,
	})

	pipeline, err := ingest.New(eng, ingest.Config{
		PoisonTopic:  cfg.Ingest.PoisonTopic,
		CloseTimeout: cfg.Ingest.CloseTimeout,
	})
	if err != nil {
		return fmt.Errorf("build ingest pipeline: %w", err)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logging.Error().Err(err).Msg("close ingest pipeline")
		}
	}()
	eng.SetPublisher(pipeline.Publisher())

	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover graph state: %w", err)
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	if checkpointer != nil && cfg.Scheduler.CheckpointInterval > 0 {
		tree.AddDataService(scheduler.NewCheckpointService(eng, scheduler.CheckpointServiceConfig{
			Interval: cfg.Scheduler.CheckpointInterval,
		}, logging.Logger()))
	}

	tree.AddComputeService(scheduler.NewPropagationService(eng, scheduler.PropagationServiceConfig{
		Interval:     cfg.Scheduler.PropagationInterval,
		RunOnStartup: false,
	}, logging.Logger()))
	tree.AddComputeService(supervisor.NewRunnerService("ingest-pipeline", pipeline))

	httpServer := api.NewServer(eng, api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		RequestTimeout:  cfg.Server.Timeout,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, treeCfg.ShutdownTimeout, logging.Logger()))

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("supervision tree: %w", err)
	}
	logging.Info().Msg("tunegraph stopped")
	return nil
}

func actionWeights(w config.ActionWeights) map[eventlog.Action]float64 {
	return map[eventlog.Action]float64{
		eventlog.ActionPlay:        w.Play,
		eventlog.ActionSkip:        w.Skip,
		eventlog.ActionLike:        w.Like,
		eventlog.ActionReplay:      w.Replay,
		eventlog.ActionPlaylistAdd: w.PlaylistAdd,
	}
}
