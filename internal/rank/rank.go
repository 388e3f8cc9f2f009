// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package rank scores candidate tracks against a user embedding and
// produces ordered, explainable recommendations: cosine relevance,
// an exploration bonus for low-exposure tracks, a cool-down penalty
// for recent skips, and a greedy artist-diversity rerank.
package rank

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tunegraph/tunegraph/internal/embedding"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/metrics"
)

// ErrEmptyCandidatePool is the terminal signal that no candidates
// remain after filtering. Callers receive it as-is; it is the one
// ranking error that is not degraded around.
var ErrEmptyCandidatePool = errors.New("rank: empty candidate pool")

// Config contains ranking parameters.
type Config struct {
	// DefaultN and MaxN bound requested result sizes.
	DefaultN int
	MaxN     int

	// MaxCandidates caps the pool scored per query.
	MaxCandidates int

	// ExplorationBonus is the score bonus at zero exposures; it
	// shrinks hyperbolically as the user is exposed to the track.
	ExplorationBonus float64

	// SkipPenalty is subtracted while a track is inside the skip
	// cool-down window.
	SkipPenalty float64

	// SkipCooldown is the window after a skip during which the
	// penalty applies and re-recommendation is suppressed.
	SkipCooldown time.Duration

	// ArtistCap is the maximum fraction of top-N slots one artist may
	// occupy when enough alternatives exist.
	ArtistCap float64

	// StalenessThreshold flags results computed from embeddings that
	// missed this many propagation rounds.
	StalenessThreshold int

	// MaxAttributions bounds the explanation length per track.
	MaxAttributions int
}

// DefaultConfig returns ranking defaults.
func DefaultConfig() Config {
	return Config{
		DefaultN:           20,
		MaxN:               100,
		MaxCandidates:      1000,
		ExplorationBonus:   0.05,
		SkipPenalty:        0.2,
		SkipCooldown:       6 * time.Hour,
		ArtistCap:          0.4,
		StalenessThreshold: 3,
		MaxAttributions:    5,
	}
}

// Recommendation is one ranked result. Stale is set when the track or
// user embedding exceeded the staleness threshold; the score is still
// served from the last-known-good vector.
type Recommendation struct {
	TrackID      string        `json:"track_id"`
	ArtistID     string        `json:"artist_id,omitempty"`
	Score        float64       `json:"score"`
	Stale        bool          `json:"stale,omitempty"`
	Attributions []Attribution `json:"attributions,omitempty"`
}

// Query carries per-request ranking inputs.
type Query struct {
	UserID string

	// Candidates is the pool to score. Empty means the store's full
	// active track set.
	Candidates []string

	TopN int

	// Now anchors the skip cool-down window.
	Now time.Time

	// RecentlyRecommended marks tracks already surfaced to this user
	// within the response TTL. A track both recently recommended and
	// skipped inside the cool-down is filtered outright; everything
	// else is only penalized.
	RecentlyRecommended map[string]bool
}

// Ranker scores and orders candidates. Read-only over the store, safe
// for unbounded parallel queries.
type Ranker struct {
	store *graph.Store
	cfg   Config
}

// New creates a ranker over the store.
func New(store *graph.Store, cfg Config) *Ranker {
	return &Ranker{store: store, cfg: cfg}
}

// Recommend returns the top-N tracks for the query ordered by adjusted
// score, ties broken by track ID. Returns ErrEmptyCandidatePool when
// nothing survives filtering, and an UnknownEntityError when the user
// has no node in the graph.
func (r *Ranker) Recommend(q Query) ([]Recommendation, error) {
	metrics.RankRequests.Inc()
	start := time.Now()
	defer func() {
		metrics.RankDuration.Observe(time.Since(start).Seconds())
	}()

	userNode, ok := r.store.Node(graph.UserNode(q.UserID))
	if !ok {
		return nil, &graph.UnknownEntityError{Kind: graph.KindUser, ID: q.UserID}
	}
	uvec := userNode.Embedding()

	topN := q.TopN
	if topN <= 0 {
		topN = r.cfg.DefaultN
	}
	if r.cfg.MaxN > 0 && topN > r.cfg.MaxN {
		topN = r.cfg.MaxN
	}

	candidates := q.Candidates
	if len(candidates) == 0 {
		candidates = r.store.TrackCandidates()
	}
	if r.cfg.MaxCandidates > 0 && len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyCandidatePool
	}

	userStale := r.store.Staleness(graph.UserNode(q.UserID)) >= r.cfg.StalenessThreshold

	scored := make([]Recommendation, 0, len(candidates))
	for _, trackID := range candidates {
		rec, ok := r.score(q, uvec, userStale, trackID)
		if !ok {
			continue
		}
		scored = append(scored, rec)
	}
	if len(scored) == 0 {
		return nil, ErrEmptyCandidatePool
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].TrackID < scored[j].TrackID
	})

	result := r.rerank(scored, topN)
	for _, rec := range result {
		if rec.Stale {
			metrics.StaleEmbeddingsServed.Inc()
		}
	}
	return result, nil
}

// score computes one candidate's adjusted score, or reports false when
// the candidate is filtered out.
func (r *Ranker) score(q Query, uvec []float64, userStale bool, trackID string) (Recommendation, bool) {
	node, ok := r.store.Node(graph.TrackNode(trackID))
	if !ok {
		return Recommendation{}, false
	}

	sig := r.store.UserTrackSignal(q.UserID, trackID)
	inCooldown := sig.Skips > 0 && !sig.LastSkip.IsZero() &&
		q.Now.Sub(sig.LastSkip) <= r.cfg.SkipCooldown

	// Already surfaced and then skipped: nothing new to say inside
	// the cool-down window.
	if inCooldown && q.RecentlyRecommended[trackID] {
		return Recommendation{}, false
	}

	score := embedding.Cosine(uvec, node.Embedding())
	score += r.cfg.ExplorationBonus / (1.0 + float64(sig.Exposures))
	if inCooldown {
		score -= r.cfg.SkipPenalty
	}

	stale := userStale || r.store.Staleness(graph.TrackNode(trackID)) >= r.cfg.StalenessThreshold
	return Recommendation{
		TrackID:  trackID,
		ArtistID: r.store.ArtistOf(trackID),
		Score:    score,
		Stale:    stale,
	}, true
}

// rerank greedily fills topN slots, deferring tracks whose artist
// already holds its cap share of the selected prefix. A second pass
// fills remaining slots from the deferred list when the pool lacks
// enough distinct-artist alternatives.
func (r *Ranker) rerank(ranked []Recommendation, topN int) []Recommendation {
	if topN > len(ranked) {
		topN = len(ranked)
	}
	maxPerArtist := int(r.cfg.ArtistCap * float64(topN))
	if maxPerArtist < 1 {
		maxPerArtist = 1
	}

	selected := make([]Recommendation, 0, topN)
	deferred := make([]Recommendation, 0)
	perArtist := make(map[string]int)

	for _, rec := range ranked {
		if len(selected) == topN {
			break
		}
		if rec.ArtistID != "" && perArtist[rec.ArtistID] >= maxPerArtist {
			deferred = append(deferred, rec)
			continue
		}
		selected = append(selected, rec)
		if rec.ArtistID != "" {
			perArtist[rec.ArtistID]++
		}
	}
	for _, rec := range deferred {
		if len(selected) == topN {
			break
		}
		selected = append(selected, rec)
	}
	return selected
}

// String implements fmt.Stringer for log output.
func (rec Recommendation) String() string {
	return fmt.Sprintf("%s(%.4f)", rec.TrackID, rec.Score)
}
