// TuneGraph - Interaction Graph Music Recommendation Engine
// Copyright 2026 TuneGraph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunegraph/tunegraph

package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tunegraph/tunegraph/internal/logging"
	"github.com/tunegraph/tunegraph/internal/metrics"
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("eventlog: closed")

	// ErrCorruptEntry is returned when a persisted entry cannot be decoded.
	ErrCorruptEntry = errors.New("eventlog: corrupt entry")
)

// Key layout:
//
//	e:<8-byte big-endian seq> -> JSON-encoded Event
//	m:seq                     -> last assigned sequence (8 bytes)
//
// Big-endian sequence keys make Badger's lexicographic iteration order
// equal to append order, so Replay never needs to sort.
const (
	eventKeyPrefix = "e:"
	seqMetaKey     = "m:seq"
)

// Config controls the durable log.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// SyncWrites forces an fsync per append. Slower, but an acknowledged
	// append survives a crash.
	SyncWrites bool

	// InMemory runs the log without disk persistence. Test use only.
	InMemory bool
}

// Log is the durable append-only event log. A single writer appends;
// any number of readers may replay concurrently.
type Log struct {
	db *badger.DB

	mu      sync.Mutex // serializes Append
	lastSeq uint64
	closed  bool
}

// Open opens (or creates) the log at cfg.Path and recovers the last
// assigned sequence number.
func Open(cfg Config) (*Log, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("eventlog: path required")
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	l := &Log{db: db}
	if err := l.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Uint64("last_seq", l.lastSeq).
		Msg("event log opened")
	return l, nil
}

func (l *Log) recoverSeq() error {
	return l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(seqMetaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			l.lastSeq = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("recover sequence: %w", err)
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return ErrCorruptEntry
			}
			l.lastSeq = binary.BigEndian.Uint64(val)
			return nil
		})
	})
}

// Append assigns the next sequence number (and an ID if the event has
// none), persists the event, and returns it with Seq populated. The
// returned event is durable when SyncWrites is enabled.
func (l *Log) Append(ctx context.Context, ev Event) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, ErrClosed
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Seq = l.lastSeq + 1

	payload, err := json.Marshal(&ev)
	if err != nil {
		return Event{}, fmt.Errorf("encode event: %w", err)
	}

	key := eventKey(ev.Seq)
	seqVal := make([]byte, 8)
	binary.BigEndian.PutUint64(seqVal, ev.Seq)

	err = l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, payload); err != nil {
			return err
		}
		return txn.Set([]byte(seqMetaKey), seqVal)
	})
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	l.lastSeq = ev.Seq
	metrics.EventLogAppends.Inc()
	return ev, nil
}

// LastSeq returns the highest sequence number assigned so far.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Replay streams events with Seq > afterSeq, in sequence order, to fn.
// Replay stops early when fn returns an error or ctx is cancelled.
func (l *Log) Replay(ctx context.Context, afterSeq uint64, fn func(Event) error) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	start := time.Now()
	var count uint64

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(eventKey(afterSeq + 1)); it.ValidForPrefix([]byte(eventKeyPrefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev Event
			err := it.Item().Value(func(val []byte) error {
				if err := json.Unmarshal(val, &ev); err != nil {
					return fmt.Errorf("%w: seq key %q: %v", ErrCorruptEntry, it.Item().Key(), err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := fn(ev); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.EventLogReplayed.Add(float64(count))
	logging.Debug().
		Uint64("after_seq", afterSeq).
		Uint64("events", count).
		Dur("elapsed", time.Since(start)).
		Msg("event log replay complete")
	return nil
}

// Close flushes and closes the underlying database. Further operations
// return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventKeyPrefix)+8)
	copy(key, eventKeyPrefix)
	binary.BigEndian.PutUint64(key[len(eventKeyPrefix):], seq)
	return key
}
