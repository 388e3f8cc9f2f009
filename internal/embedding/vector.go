// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package embedding computes per-node latent vectors by bounded-hop
// neighborhood aggregation over the behavior graph. Propagation is
// deterministic: for a fixed graph state, hop count and seed, the
// output is bit-reproducible.
package embedding

import (
	"hash/fnv"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tunegraph/tunegraph/internal/graph"
)

// InitVector returns the deterministic initial unit vector for a node.
// The vector derives from a hash of the node ID mixed with the seed, so
// replaying an event log from scratch reproduces identical initial
// state without persisting it.
func InitVector(id graph.NodeID, seed uint64, dim int) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	state := h.Sum64() ^ seed

	v := make([]float64, dim)
	for i := range v {
		state = splitmix64(state)
		// Map the top 53 bits onto [-1, 1).
		v[i] = float64(state>>11)/float64(1<<52) - 1.0
	}
	norm := floats.Norm(v, 2)
	if norm == 0 {
		v[0] = 1.0
		return v
	}
	floats.Scale(1.0/norm, v)
	return v
}

// splitmix64 advances a SplitMix64 state and returns the mixed output.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Cosine returns the cosine similarity of two equal-length vectors, or
// 0 when either has zero norm.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// Squash applies the elementwise tanh nonlinearity in place, keeping
// every component in (-1, 1) so repeated aggregation cannot diverge.
func Squash(v []float64) {
	for i := range v {
		v[i] = math.Tanh(v[i])
	}
}
