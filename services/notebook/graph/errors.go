// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph maintains the symbol-level dependency graph across
// notebook cells.
//
// Cells are rows in an arena keyed by stable id; each row records the
// symbols the cell defines and reads. Edges are never stored: every query
// derives them from the symbol table, so the graph can never serve stale
// adjacency after an edit.
//
// # Validity
//
// A graph is valid when every symbol has at most one defining cell and the
// derived edge set is acyclic. Validation failures are reported as typed
// errors (DuplicateSymbolError, CircularDependencyError) while the
// offending rows stay in the graph so the user can see and fix them.
//
// # Thread Safety
//
// DependencyGraph is NOT safe for concurrent use. The engine coordinator
// owns it and serializes all access.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for graph operations.
var (
	// ErrCellNotFound is returned when an operation references a cell id
	// that has no row in the graph.
	ErrCellNotFound = errors.New("cell not found in dependency graph")

	// ErrDuplicateSymbol tags DuplicateSymbolError for errors.Is checks.
	ErrDuplicateSymbol = errors.New("symbol defined by more than one cell")

	// ErrCircularDependency tags CircularDependencyError for errors.Is checks.
	ErrCircularDependency = errors.New("circular dependency between cells")
)

// DuplicateSymbolError reports symbols defined by more than one live cell.
// Execution is suppressed for the whole notebook until one of the
// definitions is removed.
type DuplicateSymbolError struct {
	// Symbols maps each duplicated symbol name to the defining cell ids,
	// in display order.
	Symbols map[string][]string

	// positions renders cell ids as 1-indexed display positions.
	positions map[string]int
}

func (e *DuplicateSymbolError) Error() string {
	names := make([]string, 0, len(e.Symbols))
	for name := range e.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{"Each variable must be defined in exactly one cell."}
	for _, name := range names {
		cells := make([]string, 0, len(e.Symbols[name]))
		for _, id := range e.Symbols[name] {
			if pos, ok := e.positions[id]; ok {
				cells = append(cells, fmt.Sprintf("cell %d", pos+1))
			} else {
				cells = append(cells, id)
			}
		}
		lines = append(lines, fmt.Sprintf("Variable %q is defined in multiple cells: %s",
			name, strings.Join(cells, ", ")))
	}
	return strings.Join(lines, "\n")
}

func (e *DuplicateSymbolError) Unwrap() error { return ErrDuplicateSymbol }

// CircularDependencyError reports a dependency cycle. Cycle lists the cell
// ids in order, with the first cell repeated at the end.
type CircularDependencyError struct {
	Cycle []string

	positions map[string]int
}

func (e *CircularDependencyError) Error() string {
	cells := make([]string, 0, len(e.Cycle))
	for _, id := range e.Cycle {
		if pos, ok := e.positions[id]; ok {
			cells = append(cells, fmt.Sprintf("cell %d", pos+1))
		} else {
			cells = append(cells, id)
		}
	}
	return "Circular dependency detected: " + strings.Join(cells, " -> ")
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }
