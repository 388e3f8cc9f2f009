// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package eventlog

import (
	"context"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return l
}

func testEvent(user, track string, action Action) Event {
	return Event{
		UserID:    user,
		TrackID:   track,
		ArtistID:  "artist-1",
		Action:    action,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 10; i++ {
		ev, err := l.Append(ctx, testEvent("u1", "t1", ActionPlay))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if ev.Seq != prev+1 {
			t.Fatalf("Seq = %d, want %d", ev.Seq, prev+1)
		}
		if ev.ID == "" {
			t.Fatal("Append() did not assign an ID")
		}
		prev = ev.Seq
	}

	if got := l.LastSeq(); got != prev {
		t.Errorf("LastSeq() = %d, want %d", got, prev)
	}
}

func TestReplayReturnsEventsInOrder(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	actions := []Action{ActionPlay, ActionSkip, ActionLike, ActionPlaylistAdd, ActionReplay}
	for _, a := range actions {
		if _, err := l.Append(ctx, testEvent("u1", "t1", a)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	var got []Action
	var lastSeq uint64
	err := l.Replay(ctx, 0, func(ev Event) error {
		if ev.Seq <= lastSeq {
			t.Errorf("replay out of order: seq %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
		got = append(got, ev.Action)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if len(got) != len(actions) {
		t.Fatalf("replayed %d events, want %d", len(got), len(actions))
	}
	for i, a := range actions {
		if got[i] != a {
			t.Errorf("event %d action = %q, want %q", i, got[i], a)
		}
	}
}

func TestReplayAfterSeqSkipsEarlierEvents(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, testEvent("u1", "t1", ActionPlay)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	var seqs []uint64
	err := l.Replay(ctx, 3, func(ev Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	want := []uint64{4, 5}
	if len(seqs) != len(want) {
		t.Fatalf("replayed seqs = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

func TestReplayStopsOnCallbackError(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, testEvent("u1", "t1", ActionPlay)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	stop := context.Canceled
	var seen int
	err := l.Replay(ctx, 0, func(Event) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("Replay() error = %v, want %v", err, stop)
	}
	if seen != 2 {
		t.Errorf("callback invoked %d times, want 2", seen)
	}
}

func TestAppendAfterCloseReturnsErrClosed(t *testing.T) {
	l, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := l.Append(context.Background(), testEvent("u1", "t1", ActionPlay)); err != ErrClosed {
		t.Errorf("Append() error = %v, want ErrClosed", err)
	}
}

func TestActionValid(t *testing.T) {
	tests := []struct {
		action Action
		want   bool
	}{
		{ActionPlay, true},
		{ActionSkip, true},
		{ActionLike, true},
		{ActionReplay, true},
		{ActionPlaylistAdd, true},
		{Action("pause"), false},
		{Action(""), false},
	}
	for _, tt := range tests {
		if got := tt.action.Valid(); got != tt.want {
			t.Errorf("Action(%q).Valid() = %v, want %v", tt.action, got, tt.want)
		}
	}
}
