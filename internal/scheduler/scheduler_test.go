// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunegraph/tunegraph/internal/logging"
)

type countingPropagator struct {
	calls atomic.Int64
	err   error
}

func (p *countingPropagator) Propagate(context.Context) (int, error) {
	p.calls.Add(1)
	return 3, p.err
}

type countingCheckpointer struct {
	calls atomic.Int64
}

func (c *countingCheckpointer) Checkpoint(context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestPropagationServiceRunsOnInterval(t *testing.T) {
	p := &countingPropagator{}
	svc := NewPropagationService(p, PropagationServiceConfig{
		Interval:     20 * time.Millisecond,
		RunOnStartup: true,
	}, logging.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want deadline exceeded", err)
	}
	if got := p.calls.Load(); got < 2 {
		t.Errorf("Propagate called %d times, want at least 2", got)
	}
}

func TestPropagationServiceSurvivesFailures(t *testing.T) {
	p := &countingPropagator{err: errors.New("partition failed")}
	svc := NewPropagationService(p, PropagationServiceConfig{
		Interval: 20 * time.Millisecond,
	}, logging.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)
	if got := p.calls.Load(); got < 2 {
		t.Errorf("failing Propagate called %d times, want retries on schedule", got)
	}
}

func TestCheckpointServiceSnapshotsOnShutdown(t *testing.T) {
	c := &countingCheckpointer{}
	svc := NewCheckpointService(c, CheckpointServiceConfig{
		Interval: time.Hour,
	}, logging.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("Checkpoint called %d times, want exactly the shutdown snapshot", got)
	}
}
