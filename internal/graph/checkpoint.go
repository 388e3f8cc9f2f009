// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tunegraph/tunegraph/internal/logging"
)

// A checkpoint is a rebuildable-cache snapshot of graph and embedding
// state tagged with the event log sequence it reflects. On restart the
// checkpoint is loaded first and only the log tail is replayed. The
// event log remains the sole source of truth; a corrupt or missing
// checkpoint only costs a full replay.

const checkpointKey = "checkpoint:v1"

// ErrNoCheckpoint is returned by Load when no checkpoint exists.
var ErrNoCheckpoint = errors.New("graph: no checkpoint")

type checkpointNode struct {
	ID           NodeID    `json:"id"`
	Kind         Kind      `json:"kind"`
	Created      time.Time `json:"created"`
	Active       bool      `json:"active"`
	Staleness    int       `json:"staleness"`
	Interactions uint64    `json:"interactions"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

type checkpointSession struct {
	UserID    string    `json:"user_id"`
	TrackID   string    `json:"track_id"`
	Mood      string    `json:"mood,omitempty"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

type checkpointState struct {
	Seq      uint64              `json:"seq"`
	SavedAt  time.Time           `json:"saved_at"`
	Nodes    []checkpointNode    `json:"nodes"`
	Edges    []*Edge             `json:"edges"`
	Sessions []checkpointSession `json:"sessions"`
}

// exportState snapshots the full store under the read lock.
func (s *Store) exportState(seq uint64) *checkpointState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &checkpointState{
		Seq:     seq,
		SavedAt: time.Now().UTC(),
		Nodes:   make([]checkpointNode, 0, len(s.nodes)),
		Edges:   make([]*Edge, 0, s.edges),
	}
	for _, n := range s.nodes {
		st.Nodes = append(st.Nodes, checkpointNode{
			ID:           n.ID,
			Kind:         n.Kind,
			Created:      n.Created,
			Active:       n.Active,
			Staleness:    n.Staleness,
			Interactions: n.Interactions,
			Embedding:    n.Embedding(),
		})
	}
	seen := make(map[*Edge]bool, s.edges)
	for _, edges := range s.adj {
		for _, e := range edges {
			if !seen[e] {
				seen[e] = true
				st.Edges = append(st.Edges, e)
			}
		}
	}
	for userID, last := range s.sessions {
		st.Sessions = append(st.Sessions, checkpointSession{
			UserID:    userID,
			TrackID:   last.trackID,
			Mood:      last.mood,
			SessionID: last.sessionID,
			At:        last.at,
		})
	}
	return st
}

// importState replaces the store's contents with the checkpoint.
func (s *Store) importState(st *checkpointState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[NodeID]*Node, len(st.Nodes))
	s.adj = make(map[NodeID]map[string]*Edge)
	s.sessions = make(map[string]lastSeen, len(st.Sessions))
	s.edges = 0

	for _, cn := range st.Nodes {
		n := &Node{
			ID:           cn.ID,
			Kind:         cn.Kind,
			Created:      cn.Created,
			Active:       cn.Active,
			Staleness:    cn.Staleness,
			Interactions: cn.Interactions,
		}
		if cn.Embedding != nil {
			n.SetEmbedding(cn.Embedding)
		}
		s.nodes[cn.ID] = n
	}
	for _, e := range st.Edges {
		s.link(e.Source, edgeKey(e.Target, e.Type), e)
		s.link(e.Target, edgeKey(e.Source, e.Type), e)
		s.edges++
	}
	for _, cs := range st.Sessions {
		s.sessions[cs.UserID] = lastSeen{
			trackID:   cs.TrackID,
			mood:      cs.Mood,
			sessionID: cs.SessionID,
			at:        cs.At,
		}
	}
}

// Checkpointer persists graph snapshots in a dedicated BadgerDB.
type Checkpointer struct {
	db *badger.DB
}

// OpenCheckpointer opens (or creates) the checkpoint database at path.
// An in-memory database is used when path is empty, for tests.
func OpenCheckpointer(path string) (*Checkpointer, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return &Checkpointer{db: db}, nil
}

// Save writes a snapshot of the store tagged with the log sequence it
// reflects, replacing any previous checkpoint.
func (c *Checkpointer) Save(ctx context.Context, s *Store, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := s.exportState(seq)
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointKey), payload)
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	logging.Info().
		Uint64("seq", seq).
		Int("nodes", len(st.Nodes)).
		Int("edges", len(st.Edges)).
		Msg("graph checkpoint saved")
	return nil
}

// Load restores the most recent checkpoint into the store and returns
// the log sequence it reflects. Returns ErrNoCheckpoint when none has
// been saved.
func (c *Checkpointer) Load(ctx context.Context, s *Store) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var st checkpointState
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoCheckpoint
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return 0, err
		}
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	s.importState(&st)
	logging.Info().
		Uint64("seq", st.Seq).
		Int("nodes", len(st.Nodes)).
		Int("edges", len(st.Edges)).
		Msg("graph checkpoint loaded")
	return st.Seq, nil
}

// Close closes the checkpoint database.
func (c *Checkpointer) Close() error {
	return c.db.Close()
}
