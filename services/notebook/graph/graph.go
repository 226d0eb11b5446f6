// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "sort"

// cellRow is one cell's entry in the arena: the symbols it defines and
// the symbols it reads. Rows are keyed by stable cell id; adjacency is
// always derived, never stored.
type cellRow struct {
	id      string
	defines map[string]struct{}
	uses    map[string]struct{}
}

// DependencyGraph tracks which cell defines and which cells read every
// symbol in one notebook.
//
// Description:
//
//	The graph holds one row per cell plus the display order. Edges
//	(A must run before B iff B reads a symbol A defines) are recomputed
//	from the rows on every query, so the graph is always consistent with
//	the latest cell sources.
//
// Thread Safety:
//
//	Not safe for concurrent use; the owning engine serializes access.
type DependencyGraph struct {
	cells map[string]*cellRow
	order []string
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{cells: make(map[string]*cellRow)}
}

// Upsert replaces a cell's defined/used symbol sets, creating the row if
// the cell is new. New cells append to the display order.
func (g *DependencyGraph) Upsert(cellID string, defines, uses map[string]struct{}) {
	row, ok := g.cells[cellID]
	if !ok {
		row = &cellRow{id: cellID}
		g.cells[cellID] = row
		g.order = append(g.order, cellID)
	}
	row.defines = copySet(defines)
	row.uses = copySet(uses)
}

// Insert adds an empty row at the given display position. Positions out of
// range append. No-op if the cell already exists.
func (g *DependencyGraph) Insert(cellID string, position int) {
	if _, ok := g.cells[cellID]; ok {
		return
	}
	g.cells[cellID] = &cellRow{
		id:      cellID,
		defines: make(map[string]struct{}),
		uses:    make(map[string]struct{}),
	}
	if position < 0 || position > len(g.order) {
		g.order = append(g.order, cellID)
		return
	}
	g.order = append(g.order, "")
	copy(g.order[position+1:], g.order[position:])
	g.order[position] = cellID
}

// Remove deletes a cell's row and its display-order slot.
func (g *DependencyGraph) Remove(cellID string) bool {
	if _, ok := g.cells[cellID]; !ok {
		return false
	}
	delete(g.cells, cellID)
	for i, id := range g.order {
		if id == cellID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether the graph has a row for cellID.
func (g *DependencyGraph) Contains(cellID string) bool {
	_, ok := g.cells[cellID]
	return ok
}

// Order returns the display order of all cells.
func (g *DependencyGraph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Position returns a cell's 0-indexed display position, or -1.
func (g *DependencyGraph) Position(cellID string) int {
	for i, id := range g.order {
		if id == cellID {
			return i
		}
	}
	return -1
}

// Defines returns the symbols a cell defines. Used by the engine to drop
// a deleted cell's names from the namespace.
func (g *DependencyGraph) Defines(cellID string) []string {
	row, ok := g.cells[cellID]
	if !ok {
		return nil
	}
	return sortedKeys(row.defines)
}

// Validate checks the two structural invariants: unique symbol ownership
// and acyclic derived edges. Duplicates are reported before cycles, since
// a duplicated symbol makes edge derivation ambiguous.
func (g *DependencyGraph) Validate() error {
	if err := g.checkDuplicates(); err != nil {
		return err
	}
	return g.checkCycles()
}

func (g *DependencyGraph) checkDuplicates() error {
	owners := make(map[string][]string)
	for _, id := range g.order {
		row := g.cells[id]
		for sym := range row.defines {
			owners[sym] = append(owners[sym], id)
		}
	}

	dups := make(map[string][]string)
	for sym, ids := range owners {
		if len(ids) > 1 {
			dups[sym] = ids
		}
	}
	if len(dups) == 0 {
		return nil
	}
	return &DuplicateSymbolError{Symbols: dups, positions: g.positionIndex()}
}

// checkCycles runs a depth-first traversal with a recursion stack over the
// derived edges. Self-loops (a cell reading its own symbol) are legal
// intra-cell read-after-write and excluded by the edge derivation.
func (g *DependencyGraph) checkCycles() error {
	deps := g.dependencyMap()

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.order))

	var path []string
	var visit func(id string) *CircularDependencyError
	visit = func(id string) *CircularDependencyError {
		color[id] = gray
		path = append(path, id)

		for _, dep := range sortedKeys(deps[id]) {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the cycle out of the path.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return &CircularDependencyError{Cycle: cycle, positions: g.positionIndex()}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependencyMap derives, for every cell, the set of cells it depends on.
// When a symbol has several definers (invalid state kept for diagnosis),
// the first in display order wins, matching the deterministic behavior
// callers see after validation fails.
func (g *DependencyGraph) dependencyMap() map[string]map[string]struct{} {
	definer := make(map[string]string)
	for _, id := range g.order {
		for sym := range g.cells[id].defines {
			if _, ok := definer[sym]; !ok {
				definer[sym] = id
			}
		}
	}

	deps := make(map[string]map[string]struct{}, len(g.order))
	for _, id := range g.order {
		set := make(map[string]struct{})
		for sym := range g.cells[id].uses {
			if def, ok := definer[sym]; ok && def != id {
				set[def] = struct{}{}
			}
		}
		deps[id] = set
	}
	return deps
}

// DependenciesOf returns the cells that must execute before cellID.
func (g *DependencyGraph) DependenciesOf(cellID string) map[string]struct{} {
	if _, ok := g.cells[cellID]; !ok {
		return map[string]struct{}{}
	}
	return g.dependencyMap()[cellID]
}

// DownstreamOf returns every cell that transitively reads a symbol the
// given cell defines. The cell itself is not included. Recomputed from the
// symbol table on every call.
func (g *DependencyGraph) DownstreamOf(cellID string) map[string]struct{} {
	downstream := make(map[string]struct{})
	if _, ok := g.cells[cellID]; !ok {
		return downstream
	}

	// Reverse the derived edges, then breadth-first from the changed cell.
	reverse := make(map[string][]string, len(g.order))
	for id, deps := range g.dependencyMap() {
		for dep := range deps {
			reverse[dep] = append(reverse[dep], id)
		}
	}

	queue := append([]string{}, reverse[cellID]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := downstream[current]; seen {
			continue
		}
		downstream[current] = struct{}{}
		queue = append(queue, reverse[current]...)
	}
	return downstream
}

func (g *DependencyGraph) positionIndex() map[string]int {
	idx := make(map[string]int, len(g.order))
	for i, id := range g.order {
		idx[id] = i
	}
	return idx
}

func copySet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	// Deterministic traversal keeps cycle reports and plans stable.
	sort.Strings(keys)
	return keys
}
