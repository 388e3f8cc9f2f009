// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package rank

import (
	"sort"

	"github.com/tunegraph/tunegraph/internal/graph"
)

// Attribution reports one contributing connection between the user and
// a recommended track. Direct edges have an empty Via; two-hop paths
// name the intermediate node.
type Attribution struct {
	Edge         graph.EdgeType `json:"edge"`
	Via          string         `json:"via,omitempty"`
	ViaKind      graph.Kind     `json:"via_kind,omitempty"`
	Hops         int            `json:"hops"`
	Contribution float64        `json:"contribution"`
}

// Explanation is the attribution summary for one (user, track) pair.
type Explanation struct {
	UserID       string        `json:"user_id"`
	TrackID      string        `json:"track_id"`
	Stale        bool          `json:"stale,omitempty"`
	Attributions []Attribution `json:"attributions"`
}

// Annotator walks the 1-2 hop neighborhood between a user and a track
// and reports the strongest contributing edges. Pure read side.
type Annotator struct {
	store *graph.Store
	cfg   Config
}

// NewAnnotator creates an annotator sharing the ranker's configuration.
func NewAnnotator(store *graph.Store, cfg Config) *Annotator {
	return &Annotator{store: store, cfg: cfg}
}

// Explain returns the top contributing edges and two-hop paths between
// the user and the track, ordered by contribution magnitude with path
// identity as the tie break. Two-hop contributions are the product of
// the traversal weights along the path.
func (a *Annotator) Explain(userID, trackID string) (*Explanation, error) {
	userNode := graph.UserNode(userID)
	trackNode := graph.TrackNode(trackID)

	if _, ok := a.store.Node(userNode); !ok {
		return nil, &graph.UnknownEntityError{Kind: graph.KindUser, ID: userID}
	}
	if _, ok := a.store.Node(trackNode); !ok {
		return nil, &graph.UnknownEntityError{Kind: graph.KindTrack, ID: trackID}
	}

	direct, err := a.store.Neighbors(userNode, nil, 0)
	if err != nil {
		return nil, err
	}

	var attrs []Attribution
	for _, first := range direct {
		if first.NodeID == trackNode {
			attrs = append(attrs, Attribution{
				Edge:         first.Type,
				Hops:         1,
				Contribution: first.Weight,
			})
			continue
		}
		second, err := a.store.Neighbors(first.NodeID, nil, 0)
		if err != nil {
			continue
		}
		for _, hop := range second {
			if hop.NodeID != trackNode {
				continue
			}
			attrs = append(attrs, Attribution{
				Edge:         hop.Type,
				Via:          first.NodeID.Entity(),
				ViaKind:      first.NodeID.Kind(),
				Hops:         2,
				Contribution: first.Weight * hop.Weight,
			})
		}
	}

	sort.Slice(attrs, func(i, j int) bool {
		mi, mj := magnitude(attrs[i].Contribution), magnitude(attrs[j].Contribution)
		if mi != mj {
			return mi > mj
		}
		if attrs[i].Hops != attrs[j].Hops {
			return attrs[i].Hops < attrs[j].Hops
		}
		if attrs[i].Via != attrs[j].Via {
			return attrs[i].Via < attrs[j].Via
		}
		return attrs[i].Edge < attrs[j].Edge
	})
	if a.cfg.MaxAttributions > 0 && len(attrs) > a.cfg.MaxAttributions {
		attrs = attrs[:a.cfg.MaxAttributions]
	}

	stale := a.store.Staleness(userNode) >= a.cfg.StalenessThreshold ||
		a.store.Staleness(trackNode) >= a.cfg.StalenessThreshold

	return &Explanation{
		UserID:       userID,
		TrackID:      trackID,
		Stale:        stale,
		Attributions: attrs,
	}, nil
}

func magnitude(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
