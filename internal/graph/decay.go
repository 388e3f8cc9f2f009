// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package graph

import (
	"math"
	"time"
)

// decayFactor returns the exponential decay multiplier 0.5^(dt/halfLife)
// for an edge weight aged by dt. A non-positive half-life disables
// decay entirely.
func decayFactor(dt, halfLife time.Duration) float64 {
	if halfLife <= 0 || dt <= 0 {
		return 1.0
	}
	return math.Exp2(-float64(dt) / float64(halfLife))
}
