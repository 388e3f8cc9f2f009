// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package engine

import (
	"strconv"
	"time"

	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/metrics"
	"github.com/tunegraph/tunegraph/internal/rank"
)

// Recommend returns the user's ranked recommendations with attached
// attributions. Results are cached per (user, topN) for the configured
// TTL; any new event for the user invalidates the cache immediately.
func (e *Engine) Recommend(userID string, topN int) ([]rank.Recommendation, error) {
	key := userID + "|" + strconv.Itoa(topN)
	now := time.Now()

	e.cacheMu.Lock()
	if cached, ok := e.cache[key]; ok && now.Before(cached.expires) {
		e.cacheMu.Unlock()
		metrics.RankCacheHits.Inc()
		return cached.recs, nil
	}
	recent := e.recentTracks(userID, now)
	e.cacheMu.Unlock()
	metrics.RankCacheMisses.Inc()

	recs, err := e.ranker.Recommend(rank.Query{
		UserID:              userID,
		TopN:                topN,
		Now:                 now,
		RecentlyRecommended: recent,
	})
	if err != nil {
		return nil, err
	}

	for i := range recs {
		exp, err := e.annotator.Explain(userID, recs[i].TrackID)
		if err != nil {
			// Annotation is best effort; the ranked result stands.
			continue
		}
		recs[i].Attributions = exp.Attributions
	}

	e.cacheMu.Lock()
	e.cache[key] = cachedResult{recs: recs, expires: now.Add(e.cfg.CacheTTL)}
	seen, ok := e.recent[userID]
	if !ok {
		seen = make(map[string]time.Time)
		e.recent[userID] = seen
	}
	for _, rec := range recs {
		seen[rec.TrackID] = now
	}
	e.cacheMu.Unlock()
	return recs, nil
}

// recentTracks returns the user's recently surfaced tracks, pruning
// entries past the window. Caller holds cacheMu.
func (e *Engine) recentTracks(userID string, now time.Time) map[string]bool {
	seen, ok := e.recent[userID]
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(seen))
	for trackID, at := range seen {
		if now.Sub(at) > e.cfg.RecentWindow {
			delete(seen, trackID)
			continue
		}
		out[trackID] = true
	}
	return out
}

// Explain returns the attribution summary for one (user, track) pair.
func (e *Engine) Explain(userID, trackID string) (*rank.Explanation, error) {
	return e.annotator.Explain(userID, trackID)
}

// NeighborhoodNode is one node of a visualization neighborhood.
type NeighborhoodNode struct {
	ID    string     `json:"id"`
	Kind  graph.Kind `json:"kind"`
	Depth int        `json:"depth"`
}

// NeighborhoodEdge is one edge of a visualization neighborhood.
type NeighborhoodEdge struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Type   graph.EdgeType `json:"type"`
	Weight float64        `json:"weight"`
}

// Neighborhood is the bounded subgraph around one node, for the
// dashboard collaborator.
type Neighborhood struct {
	Center string             `json:"center"`
	Nodes  []NeighborhoodNode `json:"nodes"`
	Edges  []NeighborhoodEdge `json:"edges"`
}

// Neighborhood walks up to hops levels out from the node in the
// store's deterministic neighbor order and returns the visited
// subgraph. MaxDegree bounds fan-out per node; 0 means unlimited.
func (e *Engine) Neighborhood(id graph.NodeID, hops, maxDegree int) (*Neighborhood, error) {
	if _, ok := e.store.Node(id); !ok {
		return nil, &graph.UnknownEntityError{Kind: id.Kind(), ID: id.Entity()}
	}
	if hops < 1 {
		hops = 1
	}

	out := &Neighborhood{Center: string(id)}
	visited := map[graph.NodeID]bool{id: true}
	out.Nodes = append(out.Nodes, NeighborhoodNode{ID: string(id), Kind: id.Kind(), Depth: 0})

	frontier := []graph.NodeID{id}
	for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
		var next []graph.NodeID
		for _, from := range frontier {
			neighbors, err := e.store.Neighbors(from, nil, maxDegree)
			if err != nil {
				continue
			}
			for _, nb := range neighbors {
				out.Edges = append(out.Edges, NeighborhoodEdge{
					From:   string(from),
					To:     string(nb.NodeID),
					Type:   nb.Type,
					Weight: nb.Weight,
				})
				if !visited[nb.NodeID] {
					visited[nb.NodeID] = true
					out.Nodes = append(out.Nodes, NeighborhoodNode{
						ID:    string(nb.NodeID),
						Kind:  nb.NodeID.Kind(),
						Depth: depth,
					})
					next = append(next, nb.NodeID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// Leaderboard returns the top artists by aggregated edge weight.
func (e *Engine) Leaderboard(topN int) []graph.ArtistRank {
	return e.store.Leaderboard(topN)
}

// Status is the engine's operational snapshot.
type Status struct {
	Graph             graph.Stats `json:"graph"`
	LastSeq           uint64      `json:"last_seq"`
	PropagationRounds uint64      `json:"propagation_rounds"`
}

// Status reports graph size, log position and propagation progress.
func (e *Engine) Status() Status {
	return Status{
		Graph:             e.store.Stats(),
		LastSeq:           e.log.LastSeq(),
		PropagationRounds: e.propagator.Rounds(),
	}
}
