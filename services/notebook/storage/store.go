// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists notebook documents in BadgerDB.
//
// BadgerDB gives low-latency embedded storage with no external service to
// run, which fits a single-user notebook server. Two key families:
//
//	notebook/<id> - the cell list (source, output, status) as JSON
//	meta/<id>     - name and timestamps, scanned for listings
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
)

const (
	notebookPrefix = "notebook/"
	metaPrefix     = "meta/"
)

// Config holds configuration for the notebook store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous writes.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration for tests: no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Meta is one notebook's listing entry.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is one notebook's full cell list.
type Document struct {
	ID    string         `json:"id"`
	Cells []*engine.Cell `json:"cells"`
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists notebooks and their metadata.
//
// Thread Safety: Store is safe for concurrent use; BadgerDB transactions
// provide isolation.
type Store struct {
	db *badger.DB
}

// Open creates and opens a notebook store.
//
// Inputs:
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//   - *Store: The opened store. Caller must Close when done.
//   - error: ErrPathRequired, or a BadgerDB open failure.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, ErrPathRequired
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveNotebook writes a notebook's cells and metadata atomically.
func (s *Store) SaveNotebook(ctx context.Context, meta Meta, doc Document) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal notebook %s: %w", doc.ID, err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", meta.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(notebookPrefix+doc.ID), docBytes); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+meta.ID), metaBytes)
	})
}

// SaveMeta updates only a notebook's metadata (rename, touch).
func (s *Store) SaveMeta(ctx context.Context, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata %s: %w", meta.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+meta.ID), metaBytes)
	})
}

// LoadNotebook reads one notebook's cells.
//
// Outputs:
//   - *Document: The stored cell list.
//   - error: ErrNotebookNotFound when the id has no record.
func (s *Store) LoadNotebook(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(notebookPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotebookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load notebook %s: %w", id, err)
	}
	return &doc, nil
}

// LoadMeta reads one notebook's metadata.
func (s *Store) LoadMeta(ctx context.Context, id string) (*Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotebookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata %s: %w", id, err)
	}
	return &meta, nil
}

// ListMeta returns every notebook's metadata, most recently updated first.
func (s *Store) ListMeta(ctx context.Context) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta Meta
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				metas = append(metas, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// DeleteNotebook removes a notebook and its metadata.
//
// Outputs:
//   - error: ErrNotebookNotFound when the id has no record.
func (s *Store) DeleteNotebook(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotebookNotFound
			}
			return err
		}
		if err := txn.Delete([]byte(notebookPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + id))
	})
}
