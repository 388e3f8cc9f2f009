// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

// Package eventlog provides the durable append-only interaction log.
// The log is the source of truth for all graph state: replaying it in
// sequence order reconstructs the graph and embeddings exactly.
package eventlog

import (
	"time"
)

// Action identifies the kind of user interaction recorded by an event.
type Action string

const (
	ActionPlay        Action = "play"
	ActionSkip        Action = "skip"
	ActionLike        Action = "like"
	ActionReplay      Action = "replay"
	ActionPlaylistAdd Action = "playlist_add"
)

// ValidActions lists every action accepted at ingestion.
var ValidActions = []Action{
	ActionPlay,
	ActionSkip,
	ActionLike,
	ActionReplay,
	ActionPlaylistAdd,
}

// Valid reports whether a is a recognized action.
func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionSkip, ActionLike, ActionReplay, ActionPlaylistAdd:
		return true
	}
	return false
}

// Context carries the listening context captured with an interaction.
// All fields are optional.
type Context struct {
	Device    string `json:"device,omitempty"`
	Location  string `json:"location,omitempty"`
	Mood      string `json:"mood,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Event is a single immutable interaction record. Seq is assigned by
// the log on append and is strictly monotonic; it is zero before the
// event has been persisted.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	UserID    string    `json:"user_id" validate:"required"`
	TrackID   string    `json:"track_id" validate:"required"`
	ArtistID  string    `json:"artist_id,omitempty"`
	Action    Action    `json:"action" validate:"required"`
	Context   Context   `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}
