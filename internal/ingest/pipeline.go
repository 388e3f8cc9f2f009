// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package ingest runs the asynchronous event pipeline: interaction
// events published on the submitted topic flow through a watermill
// router into the engine, and permanently failing events land on the
// poison topic instead of being retried. The engine's applied topic
// rides the same pub/sub, available to any downstream consumer.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tunegraph/tunegraph/internal/engine"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/logging"
)

// SubmittedTopic receives interaction events for asynchronous ingestion.
const SubmittedTopic = "interaction.submitted"

// Config controls the pipeline.
type Config struct {
	// PoisonTopic receives events that failed processing. Empty
	// disables the poison queue.
	PoisonTopic string

	// CloseTimeout bounds router shutdown.
	CloseTimeout time.Duration
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PoisonTopic:  "interaction.poison",
		CloseTimeout: 30 * time.Second,
	}
}

// Pipeline owns the in-process pub/sub and the ingestion router.
type Pipeline struct {
	pubsub *gochannel.GoChannel
	router *message.Router
}

// New builds the pipeline around the engine. Failed events are never
// retried: the append-only log makes replay the recovery mechanism, so
// a failure routes straight to the poison topic for inspection.
func New(eng *engine.Engine, cfg Config) (*Pipeline, error) {
	wmLogger := newLoggerAdapter(logging.With().Str("component", "ingest").Logger())

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create ingest router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(pubsub, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue: %w", err)
		}
		router.AddMiddleware(poison)
	}

	router.AddConsumerHandler(
		"interaction-ingest",
		SubmittedTopic,
		pubsub,
		func(msg *message.Message) error {
			var ev eventlog.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return fmt.Errorf("decode submitted event: %w", err)
			}
			if _, err := eng.SubmitEvent(msg.Context(), ev); err != nil {
				return err
			}
			return nil
		},
	)

	return &Pipeline{pubsub: pubsub, router: router}, nil
}

// Publisher returns the pub/sub for event submission and for the
// engine's applied-topic fan-out.
func (p *Pipeline) Publisher() message.Publisher {
	return p.pubsub
}

// Subscriber returns the pub/sub for downstream consumers of the
// applied and poison topics.
func (p *Pipeline) Subscriber() message.Subscriber {
	return p.pubsub
}

// Submit publishes one event onto the submitted topic.
func (p *Pipeline) Submit(ev eventlog.Event) error {
	payload, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	return p.pubsub.Publish(SubmittedTopic, message.NewMessage(id, payload))
}

// Run starts the router and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running unblocks once the router's handlers are subscribed.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// Close shuts the router and pub/sub down.
func (p *Pipeline) Close() error {
	if err := p.router.Close(); err != nil {
		return err
	}
	return p.pubsub.Close()
}
