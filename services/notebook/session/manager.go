// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session manages the set of notebooks: creation, renaming,
// deletion, listing, and the lazily constructed engine each open
// notebook runs on.
//
// A notebook's engine (and its Python namespace) is built on first open
// and kept until the notebook is deleted or the manager shuts down, so
// switching notebooks in the frontend never loses interpreter state.
// Every mutation snapshots the cell list back to the store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/storage"
)

// RunnerFactory builds one execution runner per notebook engine.
type RunnerFactory func() (engine.Runner, error)

// SinkFactory builds the event sink a notebook's engine publishes to.
// The notebook id lets the transport tag events with their origin.
type SinkFactory func(notebookID string) engine.EventSink

// Session is one open notebook: its engine plus bookkeeping.
type Session struct {
	ID string

	manager *Manager
	engine  *engine.Engine
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSinkFactory sets the per-notebook event sink factory. Without one,
// engine events are discarded.
func WithSinkFactory(factory SinkFactory) Option {
	return func(m *Manager) { m.sinks = factory }
}

// Manager owns every notebook and its lazily built engine.
//
// Thread Safety: Manager is safe for concurrent use.
type Manager struct {
	store   *storage.Store
	runners RunnerFactory
	sinks   SinkFactory
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]*Session
}

// NewManager creates a notebook manager over the given store.
func NewManager(store *storage.Store, runners RunnerFactory, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if runners == nil {
		return nil, ErrNilRunnerFactory
	}

	m := &Manager{
		store:   store,
		runners: runners,
		logger:  slog.Default(),
		open:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "session"))
	return m, nil
}

// Create makes a new empty notebook and persists it immediately.
func (m *Manager) Create(ctx context.Context, name string) (*storage.Meta, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	now := time.Now().UTC()
	meta := storage.Meta{
		ID:        "nb-" + uuid.NewString()[:12],
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc := storage.Document{ID: meta.ID, Cells: []*engine.Cell{}}

	if err := m.store.SaveNotebook(ctx, meta, doc); err != nil {
		return nil, fmt.Errorf("create notebook: %w", err)
	}

	m.logger.Info("notebook created",
		slog.String("notebook_id", meta.ID),
		slog.String("name", name))
	return &meta, nil
}

// List returns every notebook's metadata, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]storage.Meta, error) {
	return m.store.ListMeta(ctx)
}

// Rename changes a notebook's display name.
func (m *Manager) Rename(ctx context.Context, id, name string) (*storage.Meta, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	meta, err := m.store.LoadMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	meta.Name = name
	meta.UpdatedAt = time.Now().UTC()

	if err := m.store.SaveMeta(ctx, *meta); err != nil {
		return nil, fmt.Errorf("rename notebook %s: %w", id, err)
	}
	return meta, nil
}

// Delete removes a notebook. An open session is interrupted and dropped;
// its namespace is discarded with it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if sess, ok := m.open[id]; ok {
		sess.engine.Interrupt()
		delete(m.open, id)
	}
	m.mu.Unlock()

	if err := m.store.DeleteNotebook(ctx, id); err != nil {
		return err
	}
	m.logger.Info("notebook deleted", slog.String("notebook_id", id))
	return nil
}

// Open returns the notebook's session, building its engine on first use
// and restoring the persisted cells into it.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.open[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	// Build outside the lock; engine construction may probe for Python.
	doc, err := m.store.LoadNotebook(ctx, id)
	if err != nil {
		return nil, err
	}

	runner, err := m.runners()
	if err != nil {
		return nil, fmt.Errorf("build runner for %s: %w", id, err)
	}

	engineOpts := []engine.Option{engine.WithLogger(m.logger)}
	if m.sinks != nil {
		engineOpts = append(engineOpts, engine.WithEventSink(m.sinks(id)))
	}
	eng, err := engine.New(runner, engineOpts...)
	if err != nil {
		return nil, err
	}
	eng.Restore(ctx, doc.Cells)

	sess := &Session{ID: id, manager: m, engine: eng}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.open[id]; ok {
		// Lost the race; keep the first engine.
		return existing, nil
	}
	m.open[id] = sess

	m.logger.Info("notebook opened",
		slog.String("notebook_id", id),
		slog.Int("cells", len(doc.Cells)))
	return sess, nil
}

// save snapshots a session's cells and touches its timestamp.
func (m *Manager) save(ctx context.Context, sess *Session) error {
	meta, err := m.store.LoadMeta(ctx, sess.ID)
	if err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()

	doc := storage.Document{ID: sess.ID, Cells: sess.engine.Cells()}
	if err := m.store.SaveNotebook(ctx, *meta, doc); err != nil {
		return fmt.Errorf("snapshot notebook %s: %w", sess.ID, err)
	}
	return nil
}

// Cells returns the session's cells in display order.
func (s *Session) Cells() []*engine.Cell {
	return s.engine.Cells()
}

// EditCell updates a cell's source, runs the reactive plan, and persists
// the resulting cell states.
func (s *Session) EditCell(ctx context.Context, cellID, source string) error {
	if err := s.engine.CellEdited(ctx, cellID, source); err != nil {
		return err
	}
	return s.manager.save(ctx, s)
}

// AddCell inserts an empty cell at the display position and persists.
func (s *Session) AddCell(ctx context.Context, position int) (*engine.Cell, error) {
	cell := s.engine.CellAdded(position)
	if err := s.manager.save(ctx, s); err != nil {
		return nil, err
	}
	return cell, nil
}

// DeleteCell removes a cell and persists.
func (s *Session) DeleteCell(ctx context.Context, cellID string) error {
	if err := s.engine.CellDeleted(ctx, cellID); err != nil {
		return err
	}
	return s.manager.save(ctx, s)
}

// Execute re-runs a cell and its dependents, then persists.
func (s *Session) Execute(ctx context.Context, cellID string) error {
	if err := s.engine.ExecuteCell(ctx, cellID); err != nil {
		return err
	}
	return s.manager.save(ctx, s)
}

// ExecuteAll re-runs every cell in dependency order, then persists.
func (s *Session) ExecuteAll(ctx context.Context) error {
	if err := s.engine.ExecuteAll(ctx); err != nil {
		return err
	}
	return s.manager.save(ctx, s)
}

// Interrupt cancels the session's in-flight execution.
func (s *Session) Interrupt() {
	s.engine.Interrupt()
}

// Reset discards the session's namespace and clears outputs, persisting
// the cleared state.
func (s *Session) Reset(ctx context.Context) error {
	s.engine.Reset()
	return s.manager.save(ctx, s)
}
