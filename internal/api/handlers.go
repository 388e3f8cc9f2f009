// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/tunegraph/tunegraph/internal/engine"
	"github.com/tunegraph/tunegraph/internal/eventlog"
	"github.com/tunegraph/tunegraph/internal/graph"
	"github.com/tunegraph/tunegraph/internal/rank"
)

const maxEventBody = 64 << 10

type handlers struct {
	engine *engine.Engine
}

var validate = validator.New()

// submitEventRequest is the POST /api/v1/events body.
type submitEventRequest struct {
	UserID    string           `json:"user_id" validate:"required,max=256"`
	TrackID   string           `json:"track_id" validate:"required,max=256"`
	ArtistID  string           `json:"artist_id" validate:"omitempty,max=256"`
	Action    eventlog.Action  `json:"action" validate:"required"`
	Context   eventlog.Context `json:"context"`
	Timestamp time.Time        `json:"timestamp" validate:"required"`
}

type submitEventResponse struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`
}

func (h *handlers) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	applied, err := h.engine.SubmitEvent(r.Context(), eventlog.Event{
		UserID:    req.UserID,
		TrackID:   req.TrackID,
		ArtistID:  req.ArtistID,
		Action:    req.Action,
		Context:   req.Context,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	respondData(w, http.StatusAccepted, submitEventResponse{ID: applied.ID, Seq: applied.Seq})
}

func (h *handlers) recommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	topN := getIntParam(r, "n", 0)

	recs, err := h.engine.Recommend(userID, topN)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, recs)
}

func (h *handlers) explain(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	trackID := chi.URLParam(r, "trackID")

	exp, err := h.engine.Explain(userID, trackID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, exp)
}

func (h *handlers) neighborhood(w http.ResponseWriter, r *http.Request) {
	id := graph.NodeID(chi.URLParam(r, "nodeID"))
	switch id.Kind() {
	case graph.KindUser, graph.KindTrack, graph.KindArtist:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_NODE_ID",
			"Node ID must be qualified as user:<id>, track:<id> or artist:<id>")
		return
	}

	hops := getIntParam(r, "hops", 1)
	if hops > 3 {
		hops = 3
	}
	maxDegree := getIntParam(r, "degree", 25)

	nb, err := h.engine.Neighborhood(id, hops, maxDegree)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	respondData(w, http.StatusOK, nb)
}

func (h *handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	topN := getIntParam(r, "n", 10)
	respondData(w, http.StatusOK, h.engine.Leaderboard(topN))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.engine.Status())
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		return
	}
	var uerr *graph.UnknownEntityError
	if errors.As(err, &uerr) {
		respondError(w, http.StatusNotFound, "UNKNOWN_ENTITY", uerr.Error())
		return
	}
	if errors.Is(err, rank.ErrEmptyCandidatePool) {
		respondError(w, http.StatusNotFound, "EMPTY_CANDIDATE_POOL",
			"No eligible tracks remain for this user")
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
