// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func buildGraph(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.New(graph.DefaultConfig())
	events := []eventlog.Event{
		{UserID: "u1", TrackID: "t1", ArtistID: "a1", Action: eventlog.ActionPlay, Timestamp: baseTime},
		{UserID: "u1", TrackID: "t1", ArtistID: "a1", Action: eventlog.ActionLike, Timestamp: baseTime.Add(time.Minute)},
		{UserID: "u1", TrackID: "t2", ArtistID: "a1", Action: eventlog.ActionSkip, Timestamp: baseTime.Add(2 * time.Minute)},
		{UserID: "u2", TrackID: "t1", ArtistID: "a1", Action: eventlog.ActionPlay, Timestamp: baseTime.Add(3 * time.Minute)},
		{UserID: "u2", TrackID: "t3", ArtistID: "a2", Action: eventlog.ActionPlaylistAdd, Timestamp: baseTime.Add(4 * time.Minute)},
	}
	for _, ev := range events {
		if _, err := s.ApplyEvent(ev); err != nil {
			t.Fatalf("ApplyEvent() error = %v", err)
		}
	}
	return s
}

func TestInitVectorDeterministicUnitNorm(t *testing.T) {
	a := InitVector(graph.UserNode("u1"), 42, 32)
	b := InitVector(graph.UserNode("u1"), 42, 32)
	other := InitVector(graph.UserNode("u2"), 42, 32)

	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("InitVector not deterministic at dim %d: %f != %f", i, a[i], b[i])
		}
	}
	if Cosine(a, other) > 0.999 {
		t.Error("distinct nodes produced near-identical initial vectors")
	}

	var norm float64
	for _, x := range a {
		norm += x * x
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-9 {
		t.Errorf("initial vector norm = %f, want 1", math.Sqrt(norm))
	}
}

func TestPropagateAllIsBitReproducible(t *testing.T) {
	run := func() map[graph.NodeID][]float64 {
		s := buildGraph(t)
		p := New(s, DefaultConfig())
		if _, err := p.PropagateAll(context.Background()); err != nil {
			t.Fatalf("PropagateAll() error = %v", err)
		}
		out := make(map[graph.NodeID][]float64)
		for _, id := range s.NodeIDs("") {
			n, _ := s.Node(id)
			out[id] = n.Embedding()
		}
		return out
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("node counts differ: %d vs %d", len(first), len(second))
	}
	for id, vec := range first {
		other := second[id]
		for i := range vec {
			if vec[i] != other[i] {
				t.Errorf("node %s dim %d differs: %v != %v", id, i, vec[i], other[i])
			}
		}
	}
}

func TestPropagationKeepsEmbeddingsBounded(t *testing.T) {
	s := buildGraph(t)
	p := New(s, DefaultConfig())
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		if _, err := p.PropagateAll(ctx); err != nil {
			t.Fatalf("PropagateAll() round %d error = %v", round, err)
		}
	}

	for _, id := range s.NodeIDs("") {
		n, _ := s.Node(id)
		for i, x := range n.Embedding() {
			if math.Abs(x) >= 1.0 || math.IsNaN(x) {
				t.Errorf("node %s dim %d out of bounds: %f", id, i, x)
			}
		}
	}
}

func TestPropagatePullsInteractingNodesTogether(t *testing.T) {
	s := graph.New(graph.DefaultConfig())
	for i := 0; i < 10; i++ {
		ev := eventlog.Event{
			UserID: "u1", TrackID: "t1", Action: eventlog.ActionLike,
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.ApplyEvent(ev); err != nil {
			t.Fatalf("ApplyEvent() error = %v", err)
		}
	}
	p := New(s, DefaultConfig())

	user, _ := s.Node(graph.UserNode("u1"))
	track, _ := s.Node(graph.TrackNode("t1"))
	p.EnsureEmbedding(graph.UserNode("u1"))
	p.EnsureEmbedding(graph.TrackNode("t1"))
	before := Cosine(user.Embedding(), track.Embedding())

	// Repeated rounds mix the pair toward a shared fixed point.
	for round := 0; round < 5; round++ {
		if _, err := p.PropagateAll(context.Background()); err != nil {
			t.Fatalf("PropagateAll() error = %v", err)
		}
	}
	after := Cosine(user.Embedding(), track.Embedding())

	if after <= before || after < 0.5 {
		t.Errorf("similarity did not converge: before %f, after %f", before, after)
	}
}

func TestStalenessThresholdGatesRefresh(t *testing.T) {
	s := buildGraph(t)
	cfg := DefaultConfig()
	cfg.StalenessThreshold = 3
	p := New(s, cfg)
	ctx := context.Background()

	// Rounds 1 and 2 leave every node below the threshold.
	for round := 1; round <= 2; round++ {
		n, err := p.Propagate(ctx)
		if err != nil {
			t.Fatalf("Propagate() round %d error = %v", round, err)
		}
		if n != 0 {
			t.Errorf("round %d refreshed %d nodes, want 0", round, n)
		}
	}

	n, err := p.Propagate(ctx)
	if err != nil {
		t.Fatalf("Propagate() round 3 error = %v", err)
	}
	if n != len(s.NodeIDs("")) {
		t.Errorf("round 3 refreshed %d nodes, want all %d", n, len(s.NodeIDs("")))
	}
	if got := s.Staleness(graph.UserNode("u1")); got != 0 {
		t.Errorf("staleness after refresh = %d, want 0", got)
	}
}

func TestPropagateHonorsCancellation(t *testing.T) {
	s := buildGraph(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	p := New(s, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.PropagateAll(ctx); err != context.Canceled {
		t.Errorf("PropagateAll() error = %v, want context.Canceled", err)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0}, []float64{1, 0}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0},
		{"nil", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}
