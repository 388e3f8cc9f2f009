// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package api exposes the engine over HTTP: event submission plus the
// read-only query surface consumed by the dashboard collaborator.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tunegraph/tunegraph/internal/engine"
)

// Config holds HTTP server parameters.
type Config struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// DefaultConfig returns server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		RequestTimeout:  30 * time.Second,
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// NewRouter builds the chi router over the engine.
func NewRouter(eng *engine.Engine, cfg Config) http.Handler {
	h := &handlers{engine: eng}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}

		r.Post("/events", h.submitEvent)
		r.Get("/users/{userID}/recommendations", h.recommendations)
		r.Get("/users/{userID}/explain/{trackID}", h.explain)
		r.Get("/graph/neighborhood/{nodeID}", h.neighborhood)
		r.Get("/leaderboard", h.leaderboard)
		r.Get("/status", h.status)
	})

	return r
}

// NewServer builds the http.Server for the router.
func NewServer(eng *engine.Engine, cfg Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           NewRouter(eng, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}
