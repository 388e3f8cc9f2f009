// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/metrics"
)

// ErrNodeNotFound is returned by read operations on absent nodes.
var ErrNodeNotFound = errors.New("graph: node not found")

// similarContextWeight is the contribution added to a track-track
// similar-context edge when two tracks are heard in the same session
// under a matching mood.
const similarContextWeight = 0.3

// Config controls edge weighting and context-edge derivation.
type Config struct {
	// HalfLife is the exponential decay half-life for edge weights.
	HalfLife time.Duration

	// ActionWeights maps each action to its base edge contribution.
	// Skip must carry a negative weight.
	ActionWeights map[eventlog.Action]float64

	// ReverseScale discounts an edge's weight when traversed from its
	// target side, preserving the asymmetric semantics of directional
	// interactions over an undirected topology.
	ReverseScale float64

	// RequireArtistLink makes events referencing an unregistered
	// artist fail with UnknownEntityError instead of creating a
	// placeholder artist node.
	RequireArtistLink bool

	// MoodTolerance bounds the distance between numeric mood values
	// still considered matching for similar-context edges. Non-numeric
	// moods match on string equality.
	MoodTolerance float64

	// SessionGap is the idle interval after which a user's next event
	// starts a new session.
	SessionGap time.Duration
}

// DefaultConfig returns weighting defaults tuned for music playback
// signals.
func DefaultConfig() Config {
	return Config{
		HalfLife: 30 * 24 * time.Hour,
		ActionWeights: map[eventlog.Action]float64{
			eventlog.ActionPlay:        1.0,
			eventlog.ActionSkip:        -0.8,
			eventlog.ActionLike:        1.5,
			eventlog.ActionReplay:      1.3,
			eventlog.ActionPlaylistAdd: 1.2,
		},
		ReverseScale:  0.6,
		MoodTolerance: 0.15,
		SessionGap:    5 * time.Minute,
	}
}

// actionEdges maps interaction actions to their edge type.
var actionEdges = map[eventlog.Action]EdgeType{
	eventlog.ActionPlay:        EdgeListened,
	eventlog.ActionSkip:        EdgeSkipped,
	eventlog.ActionLike:        EdgeLiked,
	eventlog.ActionReplay:      EdgeReplayed,
	eventlog.ActionPlaylistAdd: EdgePlaylisted,
}

// lastSeen tracks the tail of a user's current session for context-edge
// derivation. Session boundaries derive from event timestamps only so
// replay reproduces them exactly.
type lastSeen struct {
	trackID   string
	mood      string
	sessionID string
	at        time.Time
}

// Store is the behavior graph. All mutation goes through ApplyEvent
// (single writer); reads take the shared lock and may run in parallel.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	nodes    map[NodeID]*Node
	adj      map[NodeID]map[string]*Edge
	edges    int
	sessions map[string]lastSeen
}

// New creates an empty store.
func New(cfg Config) *Store {
	return &Store{
		cfg:      cfg,
		nodes:    make(map[NodeID]*Node),
		adj:      make(map[NodeID]map[string]*Edge),
		sessions: make(map[string]lastSeen),
	}
}

// ApplyEvent folds one interaction event into the graph and returns the
// set of affected nodes. Decay uses event timestamps exclusively, so a
// replayed log rebuilds identical weights regardless of when the replay
// runs.
func (s *Store) ApplyEvent(ev eventlog.Event) (Applied, error) {
	contribution, ok := s.cfg.ActionWeights[ev.Action]
	if !ok {
		return Applied{}, fmt.Errorf("graph: no weight configured for action %q", ev.Action)
	}
	edgeType, ok := actionEdges[ev.Action]
	if !ok {
		return Applied{}, fmt.Errorf("graph: no edge type for action %q", ev.Action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID := UserNode(ev.UserID)
	trackID := TrackNode(ev.TrackID)

	var artistID NodeID
	if ev.ArtistID != "" {
		artistID = ArtistNode(ev.ArtistID)
		if s.cfg.RequireArtistLink {
			if _, exists := s.nodes[artistID]; !exists {
				return Applied{}, &UnknownEntityError{Kind: KindArtist, ID: ev.ArtistID}
			}
		}
	}

	user := s.getOrCreate(userID, KindUser, ev.Timestamp)
	track := s.getOrCreate(trackID, KindTrack, ev.Timestamp)

	applied := Applied{Affected: []NodeID{userID, trackID}}

	s.reinforce(userID, trackID, edgeType, contribution, ev.Timestamp)
	user.Interactions++
	track.Interactions++

	if artistID != "" {
		artist := s.getOrCreate(artistID, KindArtist, ev.Timestamp)
		s.reinforce(trackID, artistID, EdgeReleasedBy, abs(contribution), ev.Timestamp)
		artist.Interactions++
		applied.Affected = append(applied.Affected, artistID)
	}

	applied.SessionID, applied.NewSession = s.assignSession(ev)
	if !applied.NewSession {
		if prev, ok := s.sessions[ev.UserID]; ok && prev.trackID != "" && prev.trackID != ev.TrackID {
			if moodsMatch(prev.mood, ev.Context.Mood, s.cfg.MoodTolerance) {
				prevTrack := TrackNode(prev.trackID)
				s.reinforce(prevTrack, trackID, EdgeSimilarContext, similarContextWeight, ev.Timestamp)
				applied.Affected = append(applied.Affected, prevTrack)
			}
		}
	}
	s.sessions[ev.UserID] = lastSeen{
		trackID:   ev.TrackID,
		mood:      ev.Context.Mood,
		sessionID: applied.SessionID,
		at:        ev.Timestamp,
	}

	metrics.GraphEdges.Set(float64(s.edges))
	return applied, nil
}

// assignSession returns the event's session ID, starting a new session
// when the user was idle past the configured gap. Must hold s.mu.
func (s *Store) assignSession(ev eventlog.Event) (string, bool) {
	if ev.Context.SessionID != "" {
		prev, ok := s.sessions[ev.UserID]
		return ev.Context.SessionID, !ok || prev.sessionID != ev.Context.SessionID
	}
	prev, ok := s.sessions[ev.UserID]
	if ok && prev.sessionID != "" && ev.Timestamp.Sub(prev.at) <= s.cfg.SessionGap {
		return prev.sessionID, false
	}
	// Deterministic session IDs keep replayed graph state identical.
	return ev.UserID + "-" + strconv.FormatInt(ev.Timestamp.Unix(), 10), true
}

func (s *Store) getOrCreate(id NodeID, kind Kind, ts time.Time) *Node {
	if n, ok := s.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Kind: kind, Created: ts, Active: true}
	s.nodes[id] = n
	metrics.GraphNodes.WithLabelValues(string(kind)).Inc()
	return n
}

// reinforce updates or creates the unique (a, b, type) edge: the prior
// weight decays by the elapsed event time, then the contribution is
// added. Out-of-order contributions within tolerance are themselves
// decayed by their age so the result stays order-insensitive for equal
// timestamps.
func (s *Store) reinforce(a, b NodeID, t EdgeType, contribution float64, ts time.Time) *Edge {
	key := edgeKey(b, t)
	e, ok := s.adj[a][key]
	if !ok {
		e = &Edge{Source: a, Target: b, Type: t, Created: ts, LastEvent: ts, Weight: contribution, Count: 1}
		s.link(a, edgeKey(b, t), e)
		s.link(b, edgeKey(a, t), e)
		s.edges++
		return e
	}
	if ts.After(e.LastEvent) {
		e.Weight = e.Weight*decayFactor(ts.Sub(e.LastEvent), s.cfg.HalfLife) + contribution
		e.LastEvent = ts
	} else {
		e.Weight += contribution * decayFactor(e.LastEvent.Sub(ts), s.cfg.HalfLife)
	}
	e.Count++
	return e
}

func (s *Store) link(from NodeID, key string, e *Edge) {
	m, ok := s.adj[from]
	if !ok {
		m = make(map[string]*Edge)
		s.adj[from] = m
	}
	m[key] = e
}

func edgeKey(other NodeID, t EdgeType) string {
	return string(other) + "|" + string(t)
}

// Neighbors returns up to maxDegree neighbors of the node over the
// given edge types, sorted by traversal weight descending, then by most
// recent interaction, then by node ID. The fixed ordering is what makes
// propagation bit-reproducible. A maxDegree of 0 means unlimited; a nil
// edgeTypes slice means all types.
func (s *Store) Neighbors(id NodeID, edgeTypes []EdgeType, maxDegree int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(id, edgeTypes, maxDegree)
}

func (s *Store) neighborsLocked(id NodeID, edgeTypes []EdgeType, maxDegree int) ([]Neighbor, error) {
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !node.Active {
		return nil, nil
	}

	var typeFilter map[EdgeType]bool
	if edgeTypes != nil {
		typeFilter = make(map[EdgeType]bool, len(edgeTypes))
		for _, t := range edgeTypes {
			typeFilter[t] = true
		}
	}

	out := make([]Neighbor, 0, len(s.adj[id]))
	for _, e := range s.adj[id] {
		if typeFilter != nil && !typeFilter[e.Type] {
			continue
		}
		other := e.Other(id)
		if n, ok := s.nodes[other]; !ok || !n.Active {
			continue
		}
		out = append(out, Neighbor{
			NodeID:    other,
			Type:      e.Type,
			Weight:    e.WeightFrom(id, s.cfg.ReverseScale),
			Count:     e.Count,
			LastEvent: e.LastEvent,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		if !out[i].LastEvent.Equal(out[j].LastEvent) {
			return out[i].LastEvent.After(out[j].LastEvent)
		}
		return out[i].NodeID < out[j].NodeID
	})

	if maxDegree > 0 && len(out) > maxDegree {
		out = out[:maxDegree]
	}
	return out, nil
}

// Node returns the node for id. The pointer's embedding accessors are
// safe for concurrent use; other fields must be read via Store methods.
func (s *Store) Node(id NodeID) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// NodeIDs returns the IDs of all active nodes of the given kind (or all
// kinds when kind is empty), sorted for deterministic iteration.
func (s *Store) NodeIDs(kind Kind) []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]NodeID, 0, len(s.nodes))
	for id, n := range s.nodes {
		if !n.Active {
			continue
		}
		if kind != "" && n.Kind != kind {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RegisterArtist pre-registers an artist so events may reference it
// when RequireArtistLink is set.
func (s *Store) RegisterArtist(id string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(ArtistNode(id), KindArtist, ts)
}

// Deactivate soft-deletes a node. Its edges remain but it disappears
// from neighborhoods, candidate pools and the leaderboard.
func (s *Store) Deactivate(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.Active {
		n.Active = false
		metrics.GraphNodes.WithLabelValues(string(n.Kind)).Dec()
		logging.Info().Str("node", string(id)).Msg("node deactivated")
	}
	return nil
}

// BumpStaleness increments every active node's staleness counter by one
// propagation round. Called by the propagator at the start of a round.
func (s *Store) BumpStaleness() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Active {
			n.Staleness++
		}
	}
}

// ResetStaleness marks a node's embedding as freshly recomputed.
func (s *Store) ResetStaleness(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		n.Staleness = 0
	}
}

// Staleness returns the node's propagation-round staleness counter.
func (s *Store) Staleness(id NodeID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return n.Staleness
	}
	return 0
}

// Interactions returns the node's total interaction count.
func (s *Store) Interactions(id NodeID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[id]; ok {
		return n.Interactions
	}
	return 0
}

// Signal summarizes a user's direct history with one track, derived
// entirely from edge state.
type Signal struct {
	// Exposures is the total count of interaction events between the
	// user and the track, across all interaction edge types.
	Exposures uint64

	Skips    uint64
	LastSkip time.Time
	Likes    uint64
}

// UserTrackSignal reports the user's direct interaction history with a
// track for exploration and cool-down decisions in ranking.
func (s *Store) UserTrackSignal(userID, trackID string) Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sig Signal
	user := UserNode(userID)
	track := TrackNode(trackID)
	for _, t := range InteractionEdgeTypes {
		e, ok := s.adj[user][edgeKey(track, t)]
		if !ok {
			continue
		}
		sig.Exposures += e.Count
		switch t {
		case EdgeSkipped:
			sig.Skips = e.Count
			sig.LastSkip = e.LastEvent
		case EdgeLiked:
			sig.Likes = e.Count
		}
	}
	return sig
}

// ArtistOf returns the artist entity ID a track is released by, or ""
// when the track has no artist link.
func (s *Store) ArtistOf(trackID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	track := TrackNode(trackID)
	for _, e := range s.adj[track] {
		if e.Type == EdgeReleasedBy {
			return e.Other(track).Entity()
		}
	}
	return ""
}

// TrackCandidates returns all active track entity IDs, sorted. This is
// the default candidate pool for ranking.
func (s *Store) TrackCandidates() []string {
	ids := s.NodeIDs(KindTrack)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Entity()
	}
	return out
}

// ArtistRank is one leaderboard row.
type ArtistRank struct {
	ArtistID string  `json:"artist_id"`
	Weight   float64 `json:"weight"`
	Tracks   int     `json:"tracks"`
}

// Leaderboard ranks active artists by the aggregated weight of their
// released-by edges, decaying along with the interactions that built
// them. Ties break by artist ID.
func (s *Store) Leaderboard(topN int) []ArtistRank {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ArtistRank, 0)
	for id, n := range s.nodes {
		if n.Kind != KindArtist || !n.Active {
			continue
		}
		var rank ArtistRank
		rank.ArtistID = id.Entity()
		for _, e := range s.adj[id] {
			if e.Type != EdgeReleasedBy {
				continue
			}
			rank.Weight += e.Weight
			rank.Tracks++
		}
		if rank.Tracks > 0 {
			out = append(out, rank)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ArtistID < out[j].ArtistID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Stats summarizes graph size.
type Stats struct {
	Users   int `json:"users"`
	Tracks  int `json:"tracks"`
	Artists int `json:"artists"`
	Edges   int `json:"edges"`
}

// Stats returns current active node counts and the edge total.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, n := range s.nodes {
		if !n.Active {
			continue
		}
		switch n.Kind {
		case KindUser:
			st.Users++
		case KindTrack:
			st.Tracks++
		case KindArtist:
			st.Artists++
		}
	}
	st.Edges = s.edges
	return st
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// moodsMatch reports whether two mood annotations are close enough to
// derive a similar-context edge. Numeric moods (e.g. valence scores)
// compare within tolerance; labels compare exactly. Empty moods never
// match.
func moodsMatch(a, b string, tolerance float64) bool {
	if a == "" || b == "" {
		return false
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return abs(fa-fb) <= tolerance
	}
	return a == b
}
