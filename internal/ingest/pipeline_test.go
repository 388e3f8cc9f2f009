// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/engine"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/rank"
	"github.com/tunegraph/tunegraph/internal/reward"
)

func newTestPipeline(t *testing.T) (*Pipeline, *engine.Engine) {
	t.Helper()
	log, err := eventlog.Open(eventlog.Config{InMemory: true})
	if err != nil {
		t.Fatalf("eventlog.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	store := graph.New(graph.DefaultConfig())
	weights := graph.DefaultConfig().ActionWeights
	eng := engine.New(engine.Deps{
		Log:           log,
		Store:         store,
		Propagator:    embedding.New(store, embedding.DefaultConfig()),
		Integrator:    reward.New(store, weights, reward.NoKarma{}, reward.DefaultConfig()),
		Ranker:        rank.New(store, rank.DefaultConfig()),
		Annotator:     rank.NewAnnotator(store, rank.DefaultConfig()),
		ActionWeights: weights,
	}, engine.DefaultConfig())

	p, err := New(eng, DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()
	select {
	case <-p.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return p, eng
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestPipelineAppliesSubmittedEvents(t *testing.T) {
	p, eng := newTestPipeline(t)

	err := p.Submit(eventlog.Event{
		UserID:    "u1",
		TrackID:   "t1",
		Action:    eventlog.ActionPlay,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return eng.Status().LastSeq == 1 }) {
		t.Fatalf("event not applied, LastSeq = %d", eng.Status().LastSeq)
	}
	if st := eng.Status().Graph; st.Users != 1 || st.Tracks != 1 {
		t.Errorf("graph stats = %+v, want 1 user and 1 track", st)
	}
}

func TestPipelineRoutesInvalidEventsToPoison(t *testing.T) {
	p, eng := newTestPipeline(t)

	poisonCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poison, err := p.Subscriber().Subscribe(poisonCtx, DefaultConfig().PoisonTopic)
	if err != nil {
		t.Fatalf("Subscribe(poison) error = %v", err)
	}

	err = p.Submit(eventlog.Event{
		UserID:    "u1",
		TrackID:   "t1",
		Action:    "dance",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case msg := <-poison:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("invalid event never reached the poison topic")
	}
	if seq := eng.Status().LastSeq; seq != 0 {
		t.Errorf("invalid event was persisted, LastSeq = %d", seq)
	}
}
