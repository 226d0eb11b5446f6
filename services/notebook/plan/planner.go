// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan computes the ordered set of cells that must re-run after
// an edit.
//
// A plan is transient: it is derived from the dependency graph at request
// time and never cached. Planning fails closed — any duplicate symbol or
// cycle anywhere in the notebook suppresses execution entirely, so the
// user sees one structural error instead of a partially stale notebook.
package plan

import (
	"sort"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/graph"
)

// Planner turns a changed cell into a topologically ordered execution plan.
type Planner struct {
	graph *graph.DependencyGraph
}

// NewPlanner creates a planner over the given dependency graph. The
// planner reads the graph but never mutates it.
func NewPlanner(g *graph.DependencyGraph) *Planner {
	return &Planner{graph: g}
}

// Plan returns the changed cell plus all transitive dependents, ordered so
// every cell appears after the cells it reads symbols from.
//
// Description:
//
//	Validates the whole graph first; a DuplicateSymbolError or
//	CircularDependencyError aborts planning with no partial result.
//	The affected set is the changed cell plus DownstreamOf(changed).
//	Ordering uses Kahn's algorithm restricted to the affected subgraph;
//	ties (several cells with zero in-degree) break toward the lower
//	display position, keeping execution order intuitive and
//	deterministic.
//
// Outputs:
//   - []string: Cell ids in execution order. Contains the changed cell.
//   - error: graph.ErrCellNotFound, or a validation error from the graph.
func (p *Planner) Plan(changedCellID string) ([]string, error) {
	if !p.graph.Contains(changedCellID) {
		return nil, graph.ErrCellNotFound
	}
	if err := p.graph.Validate(); err != nil {
		return nil, err
	}

	affected := p.graph.DownstreamOf(changedCellID)
	affected[changedCellID] = struct{}{}

	return p.sortAffected(affected), nil
}

// PlanAll orders every cell in the notebook for a full re-run.
func (p *Planner) PlanAll() ([]string, error) {
	if err := p.graph.Validate(); err != nil {
		return nil, err
	}
	affected := make(map[string]struct{})
	for _, id := range p.graph.Order() {
		affected[id] = struct{}{}
	}
	return p.sortAffected(affected), nil
}

// sortAffected runs Kahn's algorithm over the induced subgraph. The graph
// has already validated as acyclic, so the sort always consumes every
// affected cell.
func (p *Planner) sortAffected(affected map[string]struct{}) []string {
	if len(affected) == 0 {
		return []string{}
	}

	position := make(map[string]int)
	for i, id := range p.graph.Order() {
		position[id] = i
	}

	// In-degrees within the induced subgraph only.
	inDegree := make(map[string]int, len(affected))
	dependents := make(map[string][]string, len(affected))
	for id := range affected {
		deps := p.graph.DependenciesOf(id)
		degree := 0
		for dep := range deps {
			if _, ok := affected[dep]; ok {
				degree++
				dependents[dep] = append(dependents[dep], id)
			}
		}
		inDegree[id] = degree
	}

	ready := make([]string, 0, len(affected))
	for id := range affected {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	byPosition := func(i, j int) bool { return position[ready[i]] < position[ready[j]] }
	sort.Slice(ready, byPosition)

	ordered := make([]string, 0, len(affected))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		ordered = append(ordered, current)

		released := false
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Slice(ready, byPosition)
		}
	}
	return ordered
}
