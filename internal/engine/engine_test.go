// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/rank"
	"github.com/tunegraph/tunegraph/internal/reward"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	log, err := eventlog.Open(eventlog.Config{InMemory: true})
	if err != nil {
		t.Fatalf("eventlog.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return newEngineWithLog(log)
}

func newEngineWithLog(log *eventlog.Log) *Engine {
	store := graph.New(graph.DefaultConfig())
	prop := embedding.New(store, embedding.DefaultConfig())
	weights := graph.DefaultConfig().ActionWeights
	integrator := reward.New(store, weights, reward.NoKarma{}, reward.DefaultConfig())
	return New(Deps{
		Log:           log,
		Store:         store,
		Propagator:    prop,
		Integrator:    integrator,
		Ranker:        rank.New(store, rank.DefaultConfig()),
		Annotator:     rank.NewAnnotator(store, rank.DefaultConfig()),
		ActionWeights: weights,
	}, DefaultConfig())
}

func submit(t *testing.T, e *Engine, user, track, artist string, action eventlog.Action, at time.Time) {
	t.Helper()
	_, err := e.SubmitEvent(context.Background(), eventlog.Event{
		UserID: user, TrackID: track, ArtistID: artist, Action: action, Timestamp: at,
	})
	if err != nil {
		t.Fatalf("SubmitEvent(%s %s %s) error = %v", user, action, track, err)
	}
}

func TestSubmitEventValidation(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()

	tests := []struct {
		name  string
		ev    eventlog.Event
		field string
	}{
		{"missing user", eventlog.Event{TrackID: "t1", Action: eventlog.ActionPlay, Timestamp: now}, "user_id"},
		{"missing track", eventlog.Event{UserID: "u1", Action: eventlog.ActionPlay, Timestamp: now}, "track_id"},
		{"unknown action", eventlog.Event{UserID: "u1", TrackID: "t1", Action: "dance", Timestamp: now}, "action"},
		{"zero timestamp", eventlog.Event{UserID: "u1", TrackID: "t1", Action: eventlog.ActionPlay}, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SubmitEvent(context.Background(), tt.ev)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SubmitEvent() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestSubmitEventRejectsOutOfOrderTimestamps(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	submit(t, e, "u1", "t1", "", eventlog.ActionPlay, now)

	// Slightly behind is fine, within tolerance.
	if _, err := e.SubmitEvent(context.Background(), eventlog.Event{
		UserID: "u1", TrackID: "t2", Action: eventlog.ActionPlay, Timestamp: now.Add(-time.Minute),
	}); err != nil {
		t.Errorf("event within tolerance rejected: %v", err)
	}

	// Far behind the user's latest event is rejected.
	_, err := e.SubmitEvent(context.Background(), eventlog.Event{
		UserID: "u1", TrackID: "t3", Action: eventlog.ActionPlay, Timestamp: now.Add(-time.Hour),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "timestamp" {
		t.Errorf("SubmitEvent() error = %v, want timestamp ValidationError", err)
	}

	// Other users are unaffected.
	if _, err := e.SubmitEvent(context.Background(), eventlog.Event{
		UserID: "u2", TrackID: "t1", Action: eventlog.ActionPlay, Timestamp: now.Add(-time.Hour),
	}); err != nil {
		t.Errorf("other user's older event rejected: %v", err)
	}
}

func TestSubmitEventAssignsSequence(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()

	ev, err := e.SubmitEvent(context.Background(), eventlog.Event{
		UserID: "u1", TrackID: "t1", Action: eventlog.ActionPlay, Timestamp: now,
	})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if ev.Seq != 1 || ev.ID == "" {
		t.Errorf("persisted event = %+v, want seq 1 and an ID", ev)
	}
}

// The end-to-end behavior: two listens and a like push T1 up, a skip
// pushes T2 down, and the explanation for T1 rests on its own direct
// edges.
func TestEndToEndScenario(t *testing.T) {
	e := newTestEngine(t)
	start := time.Now().Add(-10 * time.Minute)

	submit(t, e, "U", "T1", "", eventlog.ActionPlay, start)
	submit(t, e, "U", "T1", "", eventlog.ActionPlay, start.Add(time.Minute))
	submit(t, e, "U", "T2", "", eventlog.ActionSkip, start.Add(2*time.Minute))
	submit(t, e, "U", "T1", "", eventlog.ActionLike, start.Add(3*time.Minute))
	// T3 exists but has no signal from U.
	submit(t, e, "other", "T3", "", eventlog.ActionPlay, start.Add(4*time.Minute))

	// Fold the accumulated structure in, as the scheduler would.
	if _, err := e.propagator.PropagateAll(context.Background()); err != nil {
		t.Fatalf("PropagateAll() error = %v", err)
	}

	recs, err := e.Recommend("U", 2)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].TrackID != "T1" {
		t.Errorf("top recommendation = %s, want T1", recs[0].TrackID)
	}
	for _, rec := range recs {
		if rec.TrackID == "T2" && rec.Score >= recs[0].Score {
			t.Errorf("skipped T2 (%f) not below liked T1 (%f)", rec.Score, recs[0].Score)
		}
	}

	exp, err := e.Explain("U", "T1")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if len(exp.Attributions) == 0 {
		t.Fatal("no attributions for T1")
	}
	top := exp.Attributions[0]
	if top.Hops != 1 || (top.Edge != graph.EdgeLiked && top.Edge != graph.EdgeListened) {
		t.Errorf("top attribution = %+v, want direct liked/listened edge", top)
	}
}

func TestRecommendCacheInvalidatedBySubmit(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().Add(-time.Hour)
	submit(t, e, "u1", "t1", "", eventlog.ActionPlay, now)
	submit(t, e, "u1", "t2", "", eventlog.ActionPlay, now.Add(time.Minute))

	first, err := e.Recommend("u1", 2)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	// Cached: same answer.
	second, err := e.Recommend("u1", 2)
	if err != nil {
		t.Fatalf("Recommend() (cached) error = %v", err)
	}
	if len(first) != len(second) || first[0].TrackID != second[0].TrackID {
		t.Errorf("cached result differs: %v vs %v", first, second)
	}

	// A new event drops the cache; heavy likes for t2 reorder the list.
	for i := 0; i < 10; i++ {
		submit(t, e, "u1", "t2", "", eventlog.ActionLike, now.Add(time.Duration(i+2)*time.Minute))
	}
	third, err := e.Recommend("u1", 2)
	if err != nil {
		t.Fatalf("Recommend() after submit error = %v", err)
	}
	if third[0].TrackID != "t2" {
		t.Errorf("top after likes = %s, want t2", third[0].TrackID)
	}
}

func TestRecoverReplaysDeterministically(t *testing.T) {
	log, err := eventlog.Open(eventlog.Config{InMemory: true})
	if err != nil {
		t.Fatalf("eventlog.Open() error = %v", err)
	}
	defer log.Close()

	live := newEngineWithLog(log)
	start := time.Now().Add(-time.Hour)
	submit(t, live, "u1", "t1", "a1", eventlog.ActionPlay, start)
	submit(t, live, "u1", "t2", "a1", eventlog.ActionSkip, start.Add(time.Minute))
	submit(t, live, "u2", "t1", "a1", eventlog.ActionLike, start.Add(2*time.Minute))
	submit(t, live, "u1", "t1", "a1", eventlog.ActionReplay, start.Add(3*time.Minute))

	restored := newEngineWithLog(log)
	if err := restored.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	if live.store.Stats() != restored.store.Stats() {
		t.Errorf("graph stats differ: live %+v, restored %+v", live.store.Stats(), restored.store.Stats())
	}

	// Two independent recoveries from the same log agree exactly.
	again := newEngineWithLog(log)
	if err := again.Recover(context.Background()); err != nil {
		t.Fatalf("second Recover() error = %v", err)
	}
	for _, id := range restored.store.NodeIDs("") {
		a, _ := restored.store.Node(id)
		b, ok := again.store.Node(id)
		if !ok {
			t.Fatalf("node %s missing from second recovery", id)
		}
		av, bv := a.Embedding(), b.Embedding()
		if len(av) != len(bv) {
			t.Fatalf("node %s embedding lengths differ", id)
		}
		for i := range av {
			if av[i] != bv[i] {
				t.Errorf("node %s dim %d differs: %v != %v", id, i, av[i], bv[i])
			}
		}
	}

	r1, err := restored.Recommend("u1", 3)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	r2, err := again.Recommend("u1", 3)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(r1) != len(r2) {
		t.Fatalf("recommendation lengths differ: %d vs %d", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i].TrackID != r2[i].TrackID || r1[i].Score != r2[i].Score {
			t.Errorf("recommendation %d differs: %v vs %v", i, r1[i], r2[i])
		}
	}
}

func TestRecoverUsesCheckpointFastPath(t *testing.T) {
	log, err := eventlog.Open(eventlog.Config{InMemory: true})
	if err != nil {
		t.Fatalf("eventlog.Open() error = %v", err)
	}
	defer log.Close()
	cp, err := graph.OpenCheckpointer("")
	if err != nil {
		t.Fatalf("OpenCheckpointer() error = %v", err)
	}
	defer cp.Close()

	live := newEngineWithLog(log)
	live.checkpoint = cp
	start := time.Now().Add(-time.Hour)
	submit(t, live, "u1", "t1", "", eventlog.ActionPlay, start)
	submit(t, live, "u1", "t2", "", eventlog.ActionLike, start.Add(time.Minute))
	if err := live.Checkpoint(context.Background()); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	// Tail beyond the checkpoint.
	submit(t, live, "u1", "t3", "", eventlog.ActionPlay, start.Add(2*time.Minute))

	restored := newEngineWithLog(log)
	restored.checkpoint = cp
	if err := restored.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if live.store.Stats() != restored.store.Stats() {
		t.Errorf("graph stats differ: live %+v, restored %+v", live.store.Stats(), restored.store.Stats())
	}
	if got := restored.log.LastSeq(); got != 3 {
		t.Errorf("LastSeq() = %d, want 3", got)
	}
}

func TestNeighborhoodWalk(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().Add(-time.Hour)
	submit(t, e, "u1", "t1", "a1", eventlog.ActionPlay, now)
	submit(t, e, "u2", "t1", "a1", eventlog.ActionLike, now.Add(time.Minute))

	nbh, err := e.Neighborhood(graph.UserNode("u1"), 2, 0)
	if err != nil {
		t.Fatalf("Neighborhood() error = %v", err)
	}
	if nbh.Center != string(graph.UserNode("u1")) {
		t.Errorf("Center = %s, want user:u1", nbh.Center)
	}

	kinds := make(map[graph.Kind]int)
	for _, n := range nbh.Nodes {
		kinds[n.Kind]++
	}
	// Two hops from u1 reach t1, then a1 and u2.
	if kinds[graph.KindUser] != 2 || kinds[graph.KindTrack] != 1 || kinds[graph.KindArtist] != 1 {
		t.Errorf("node kinds = %v, want 2 users, 1 track, 1 artist", kinds)
	}

	if _, err := e.Neighborhood(graph.TrackNode("ghost"), 1, 0); err == nil {
		t.Error("Neighborhood(unknown) did not fail")
	}
}

func TestLeaderboardAndStatus(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().Add(-time.Hour)
	submit(t, e, "u1", "t1", "a1", eventlog.ActionLike, now)
	submit(t, e, "u1", "t2", "a2", eventlog.ActionPlay, now.Add(time.Minute))

	board := e.Leaderboard(10)
	if len(board) != 2 || board[0].ArtistID != "a1" {
		t.Errorf("Leaderboard() = %v, want a1 first of 2", board)
	}

	st := e.Status()
	if st.LastSeq != 2 {
		t.Errorf("Status().LastSeq = %d, want 2", st.LastSeq)
	}
	if st.Graph.Users != 1 || st.Graph.Tracks != 2 || st.Graph.Artists != 2 {
		t.Errorf("Status().Graph = %+v", st.Graph)
	}
}
