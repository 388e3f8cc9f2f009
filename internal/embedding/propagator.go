// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/floats"

	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/metrics"
)

// Config contains propagation parameters.
type Config struct {
	// Dim is the embedding dimensionality.
	Dim int

	// Hops is the neighborhood depth folded into each refresh.
	// 2-3 lets influence travel User→Track→Artist→Track without the
	// cyclic topology diverging.
	Hops int

	// TopK bounds the neighbors aggregated per edge type.
	TopK int

	// SelfWeight is the weight of a node's own previous embedding in
	// the aggregation.
	SelfWeight float64

	// StalenessThreshold is the round count after which a node is due
	// for refresh.
	StalenessThreshold int

	// BatchSize is the number of nodes refreshed between cancellation
	// checks.
	BatchSize int

	// BatchesPerSecond paces batch processing; 0 disables pacing.
	BatchesPerSecond float64

	// Seed mixes into the deterministic initial vectors.
	Seed uint64
}

// DefaultConfig returns propagation defaults.
func DefaultConfig() Config {
	return Config{
		Dim:                32,
		Hops:               2,
		TopK:               20,
		SelfWeight:         1.0,
		StalenessThreshold: 3,
		BatchSize:          256,
		Seed:               42,
	}
}

// Propagator refreshes node embeddings from the graph. A refresh
// computes, for each due node, a bounded-hop aggregation of its
// neighborhood read from a snapshot taken at round start, then swaps
// the result in atomically. Writers are never blocked for longer than
// a snapshot read, and cancellation between batches leaves every
// already-swapped node fully consistent.
type Propagator struct {
	store   *graph.Store
	cfg     Config
	limiter *rate.Limiter
	rounds  atomic.Uint64
}

// New creates a propagator over the store.
func New(store *graph.Store, cfg Config) *Propagator {
	var limiter *rate.Limiter
	if cfg.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return &Propagator{store: store, cfg: cfg, limiter: limiter}
}

// Rounds returns the number of completed propagation rounds.
func (p *Propagator) Rounds() uint64 {
	return p.rounds.Load()
}

// EnsureEmbedding assigns the deterministic initial vector to any node
// that does not have one yet. Called by the engine on node creation so
// ranking never sees a nil embedding.
func (p *Propagator) EnsureEmbedding(id graph.NodeID) {
	n, ok := p.store.Node(id)
	if !ok {
		return
	}
	if n.Embedding() == nil {
		n.SetEmbedding(InitVector(id, p.cfg.Seed, p.cfg.Dim))
	}
}

// Propagate runs one batch refresh over all nodes at or past the
// staleness threshold. Refresh order is the sorted node ID order, and
// neighbor aggregation follows the store's deterministic neighbor
// ordering, so output is reproducible for a fixed graph state.
// Returns the number of nodes refreshed.
func (p *Propagator) Propagate(ctx context.Context) (int, error) {
	return p.run(ctx, false)
}

// PropagateAll refreshes every active node regardless of staleness.
// Used after startup replay to establish a consistent baseline.
func (p *Propagator) PropagateAll(ctx context.Context) (int, error) {
	return p.run(ctx, true)
}

func (p *Propagator) run(ctx context.Context, force bool) (int, error) {
	start := time.Now()
	p.store.BumpStaleness()

	ids := p.store.NodeIDs("")
	snapshot := make(map[graph.NodeID][]float64, len(ids))
	for _, id := range ids {
		p.EnsureEmbedding(id)
		if n, ok := p.store.Node(id); ok {
			snapshot[id] = n.Embedding()
		}
	}

	var due []graph.NodeID
	for _, id := range ids {
		if force || p.store.Staleness(id) >= p.cfg.StalenessThreshold {
			due = append(due, id)
		}
	}

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(due) + 1
	}

	refreshed := 0
	for offset := 0; offset < len(due); offset += batchSize {
		if err := ctx.Err(); err != nil {
			p.finishRound(start, refreshed, true)
			return refreshed, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				p.finishRound(start, refreshed, true)
				return refreshed, err
			}
		}

		end := offset + batchSize
		if end > len(due) {
			end = len(due)
		}
		for _, id := range due[offset:end] {
			vec, err := p.aggregate(id, p.cfg.Hops, snapshot)
			if err != nil {
				// Per-node failures never abort the batch.
				logging.Warn().Err(err).Str("node", string(id)).Msg("propagation skipped node")
				continue
			}
			if n, ok := p.store.Node(id); ok {
				n.SetEmbedding(vec)
				p.store.ResetStaleness(id)
				refreshed++
			}
		}
	}

	p.finishRound(start, refreshed, false)
	return refreshed, nil
}

func (p *Propagator) finishRound(start time.Time, refreshed int, interrupted bool) {
	p.rounds.Add(1)
	metrics.PropagationRuns.Inc()
	metrics.PropagationNodes.Add(float64(refreshed))
	metrics.PropagationDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Int("refreshed", refreshed).
		Bool("interrupted", interrupted).
		Dur("elapsed", time.Since(start)).
		Msg("propagation round complete")
}

// aggregate computes the hop-bounded embedding of a node against the
// round snapshot. At each hop the node's own vector and its top-K
// neighbors per edge type combine in a weighted average normalized by
// the sum of absolute weights (skip edges contribute negatively), then
// pass through tanh. The hop limit is what keeps the cyclic
// user-track-artist topology from diverging.
func (p *Propagator) aggregate(id graph.NodeID, hops int, snapshot map[graph.NodeID][]float64) ([]float64, error) {
	base, ok := snapshot[id]
	if !ok {
		return nil, errors.New("embedding: node absent from snapshot")
	}
	if hops <= 0 {
		return base, nil
	}

	agg := make([]float64, p.cfg.Dim)
	floats.AddScaled(agg, p.cfg.SelfWeight, base)
	wsum := p.cfg.SelfWeight

	for _, t := range graph.AllEdgeTypes {
		neighbors, err := p.store.Neighbors(id, []graph.EdgeType{t}, p.cfg.TopK)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			nvec, err := p.aggregate(nb.NodeID, hops-1, snapshot)
			if err != nil {
				continue
			}
			floats.AddScaled(agg, nb.Weight, nvec)
			if nb.Weight < 0 {
				wsum -= nb.Weight
			} else {
				wsum += nb.Weight
			}
		}
	}

	if wsum > 0 {
		floats.Scale(1.0/wsum, agg)
	}
	Squash(agg)
	return agg, nil
}
