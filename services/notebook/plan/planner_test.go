// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"errors"
	"reflect"
	"testing"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/graph"
)

func set(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func TestPlanChainReexecutesDownstream(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set())
	g.Upsert("b", set("y"), set("x"))
	g.Upsert("c", set("z"), set("y"))

	got, err := NewPlanner(g).Plan("a")
	if err != nil {
		t.Fatalf("Plan(a) error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Plan(a) = %v, want [a b c]", got)
	}
}

func TestPlanOnlyAffectedCells(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set())
	g.Upsert("b", set("y"), set("x"))
	g.Upsert("unrelated", set("q"), set())

	got, err := NewPlanner(g).Plan("b")
	if err != nil {
		t.Fatalf("Plan(b) error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Plan(b) = %v, want [b]; upstream and unrelated cells must not run", got)
	}
}

func TestPlanDiamondRunsSharedDependentOnce(t *testing.T) {
	g := graph.New()
	g.Upsert("top", set("x"), set())
	g.Upsert("left", set("l"), set("x"))
	g.Upsert("right", set("r"), set("x"))
	g.Upsert("bottom", set(), set("l", "r"))

	got, err := NewPlanner(g).Plan("top")
	if err != nil {
		t.Fatalf("Plan(top) error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"top", "left", "right", "bottom"}) {
		t.Fatalf("Plan(top) = %v, want [top left right bottom]", got)
	}
}

func TestPlanTieBreaksByDisplayPosition(t *testing.T) {
	g := graph.New()
	// Both dependents are released together; display order decides.
	g.Upsert("src", set("x"), set())
	g.Upsert("second", set(), set("x"))
	g.Upsert("first", set(), set("x"))

	got, err := NewPlanner(g).Plan("src")
	if err != nil {
		t.Fatalf("Plan(src) error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"src", "second", "first"}) {
		t.Fatalf("Plan(src) = %v, want display order among ties", got)
	}
}

func TestPlanFailsClosedOnDuplicate(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set())
	g.Upsert("b", set("x"), set())
	// The changed cell is not involved in the duplicate, but planning
	// still refuses: any structural fault suppresses all execution.
	g.Upsert("c", set("z"), set())

	_, err := NewPlanner(g).Plan("c")
	if !errors.Is(err, graph.ErrDuplicateSymbol) {
		t.Fatalf("Plan(c) = %v, want ErrDuplicateSymbol", err)
	}
}

func TestPlanFailsClosedOnCycle(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set("y"))
	g.Upsert("b", set("y"), set("x"))
	g.Upsert("c", set("z"), set())

	_, err := NewPlanner(g).Plan("c")
	if !errors.Is(err, graph.ErrCircularDependency) {
		t.Fatalf("Plan(c) = %v, want ErrCircularDependency", err)
	}
}

func TestPlanUnknownCell(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set())

	_, err := NewPlanner(g).Plan("missing")
	if !errors.Is(err, graph.ErrCellNotFound) {
		t.Fatalf("Plan(missing) = %v, want ErrCellNotFound", err)
	}
}

func TestPlanSelfReference(t *testing.T) {
	g := graph.New()
	g.Upsert("a", set("x"), set("x"))

	got, err := NewPlanner(g).Plan("a")
	if err != nil {
		t.Fatalf("Plan(a) error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("Plan(a) = %v, want [a]", got)
	}
}

func TestPlanAll(t *testing.T) {
	g := graph.New()
	g.Upsert("c", set(), set("y"))
	g.Upsert("a", set("x"), set())
	g.Upsert("b", set("y"), set("x"))

	got, err := NewPlanner(g).PlanAll()
	if err != nil {
		t.Fatalf("PlanAll() error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("PlanAll() = %v, want [a b c]", got)
	}
}
