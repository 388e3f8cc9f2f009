// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tunegraph/tunegraph/internal/eventlog"
)

func TestCheckpointRoundTrip(t *testing.T) {
	cp, err := OpenCheckpointer("")
	if err != nil {
		t.Fatalf("OpenCheckpointer() error = %v", err)
	}
	defer cp.Close()

	src := New(DefaultConfig())
	mustApply(t, src, event("u1", "t1", "a1", eventlog.ActionPlay, baseTime))
	mustApply(t, src, event("u1", "t2", "a1", eventlog.ActionLike, baseTime.Add(time.Minute)))
	mustApply(t, src, event("u2", "t1", "a1", eventlog.ActionSkip, baseTime.Add(2*time.Minute)))
	if n, ok := src.Node(UserNode("u1")); ok {
		n.SetEmbedding([]float64{0.1, 0.2, 0.3})
	}

	ctx := context.Background()
	if err := cp.Save(ctx, src, 3); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	dst := New(DefaultConfig())
	seq, err := cp.Load(ctx, dst)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if seq != 3 {
		t.Errorf("Load() seq = %d, want 3", seq)
	}

	if src.Stats() != dst.Stats() {
		t.Errorf("Stats differ: src %+v, dst %+v", src.Stats(), dst.Stats())
	}

	for _, id := range src.NodeIDs("") {
		srcN, _ := src.Neighbors(id, nil, 0)
		dstN, _ := dst.Neighbors(id, nil, 0)
		if len(srcN) != len(dstN) {
			t.Fatalf("node %s: neighbor counts differ (%d vs %d)", id, len(srcN), len(dstN))
		}
		for i := range srcN {
			if srcN[i] != dstN[i] {
				t.Errorf("node %s neighbor %d differs: %+v vs %+v", id, i, srcN[i], dstN[i])
			}
		}
	}

	n, ok := dst.Node(UserNode("u1"))
	if !ok {
		t.Fatal("restored store is missing u1")
	}
	emb := n.Embedding()
	if len(emb) != 3 || emb[0] != 0.1 || emb[1] != 0.2 || emb[2] != 0.3 {
		t.Errorf("restored embedding = %v, want [0.1 0.2 0.3]", emb)
	}

	// Session state must survive so context edges keep deriving after
	// restore exactly as they would after replay.
	ev := event("u2", "t2", "", eventlog.ActionPlay, baseTime.Add(3*time.Minute))
	applied, err := dst.ApplyEvent(ev)
	if err != nil {
		t.Fatalf("ApplyEvent() after restore error = %v", err)
	}
	if applied.NewSession {
		t.Error("event within restored session gap started a new session")
	}
}

func TestLoadWithoutCheckpointReturnsErrNoCheckpoint(t *testing.T) {
	cp, err := OpenCheckpointer("")
	if err != nil {
		t.Fatalf("OpenCheckpointer() error = %v", err)
	}
	defer cp.Close()

	_, err = cp.Load(context.Background(), New(DefaultConfig()))
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() error = %v, want ErrNoCheckpoint", err)
	}
}
