// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package graph implements the behavior graph store: User, Track and
// Artist nodes connected by typed, weighted, exponentially-decaying
// edges derived from interaction events. The store is the single owner
// of all mutable relationship state; it supports one writer and any
// number of concurrent readers.
package graph

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Kind identifies the entity class of a node.
type Kind string

const (
	KindUser   Kind = "user"
	KindTrack  Kind = "track"
	KindArtist Kind = "artist"
)

// NodeID is a kind-qualified node identifier of the form "kind:id".
// Qualification keeps user, track and artist ID spaces disjoint inside
// a single node table.
type NodeID string

// UserNode, TrackNode and ArtistNode build qualified node IDs.
func UserNode(id string) NodeID   { return NodeID(string(KindUser) + ":" + id) }
func TrackNode(id string) NodeID  { return NodeID(string(KindTrack) + ":" + id) }
func ArtistNode(id string) NodeID { return NodeID(string(KindArtist) + ":" + id) }

// Kind returns the kind prefix of the node ID, or "" if malformed.
func (n NodeID) Kind() Kind {
	for i := 0; i < len(n); i++ {
		if n[i] == ':' {
			return Kind(n[:i])
		}
	}
	return ""
}

// Entity returns the unqualified entity ID.
func (n NodeID) Entity() string {
	for i := 0; i < len(n); i++ {
		if n[i] == ':' {
			return string(n[i+1:])
		}
	}
	return string(n)
}

// EdgeType classifies the relationship an edge represents.
type EdgeType string

const (
	EdgeListened       EdgeType = "listened"
	EdgeSkipped        EdgeType = "skipped"
	EdgeLiked          EdgeType = "liked"
	EdgeReplayed       EdgeType = "replayed"
	EdgePlaylisted     EdgeType = "playlisted"
	EdgeReleasedBy     EdgeType = "released-by"
	EdgeCollaborated   EdgeType = "collaborated"
	EdgeSimilarContext EdgeType = "similar-context"
)

// InteractionEdgeTypes are the edge types produced directly by user
// interactions, as opposed to structural (released-by) or derived
// (similar-context) edges.
var InteractionEdgeTypes = []EdgeType{
	EdgeListened, EdgeSkipped, EdgeLiked, EdgeReplayed, EdgePlaylisted,
}

// AllEdgeTypes lists every edge type the store can hold.
var AllEdgeTypes = []EdgeType{
	EdgeListened, EdgeSkipped, EdgeLiked, EdgeReplayed, EdgePlaylisted,
	EdgeReleasedBy, EdgeCollaborated, EdgeSimilarContext,
}

// Node is a graph entity. The embedding is held behind an atomic
// pointer so the propagator can swap a freshly computed vector without
// readers ever observing a half-written one.
type Node struct {
	ID      NodeID    `json:"id"`
	Kind    Kind      `json:"kind"`
	Created time.Time `json:"created"`

	// Active is cleared by Deactivate. Inactive nodes are excluded
	// from neighborhoods, candidates and the leaderboard but never
	// removed, so historical edges stay replayable.
	Active bool `json:"active"`

	// Staleness counts propagation rounds since this node's embedding
	// was last recomputed. Maintained by the propagator.
	Staleness int `json:"staleness"`

	// Interactions counts events that touched this node. Drives the
	// reward integrator's decaying learning rate.
	Interactions uint64 `json:"interactions"`

	embedding atomic.Pointer[[]float64]
}

// Embedding returns the node's current latent vector, or nil if none
// has been assigned yet. The returned slice must not be mutated.
func (n *Node) Embedding() []float64 {
	p := n.embedding.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetEmbedding atomically replaces the node's latent vector.
func (n *Node) SetEmbedding(vec []float64) {
	n.embedding.Store(&vec)
}

// Edge is a typed relationship between two nodes. Topologically
// undirected: the same *Edge is reachable from both endpoints'
// adjacency lists. Weight semantics are directional; WeightFrom
// applies the reverse-traversal scale when read from the target side.
type Edge struct {
	Source NodeID   `json:"source"`
	Target NodeID   `json:"target"`
	Type   EdgeType `json:"type"`

	// Weight is the decayed cumulative contribution, as of LastEvent.
	// Decay is applied lazily on reinforcement using event timestamps
	// only, so replays are independent of wall-clock time.
	Weight float64 `json:"weight"`

	// Count is the number of reinforcing events.
	Count uint64 `json:"count"`

	Created   time.Time `json:"created"`
	LastEvent time.Time `json:"last_event"`
}

// WeightFrom returns the edge weight as seen when traversing from the
// given endpoint, scaling by reverseScale when traversed backwards.
func (e *Edge) WeightFrom(from NodeID, reverseScale float64) float64 {
	if from == e.Source {
		return e.Weight
	}
	return e.Weight * reverseScale
}

// Other returns the endpoint opposite to from.
func (e *Edge) Other(from NodeID) NodeID {
	if from == e.Source {
		return e.Target
	}
	return e.Source
}

// Neighbor is one entry of a deterministic neighborhood listing.
type Neighbor struct {
	NodeID    NodeID
	Type      EdgeType
	Weight    float64
	Count     uint64
	LastEvent time.Time
}

// UnknownEntityError reports a reference to an entity that must be
// registered before use.
type UnknownEntityError struct {
	Kind Kind
	ID   string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}

// Applied is the result of a successful event application.
type Applied struct {
	// Affected lists every node whose state changed, users first.
	Affected []NodeID

	// NewSession is set when the event started a new listening session.
	NewSession bool

	// SessionID is the session the event was assigned to.
	SessionID string
}
