// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/kernel"
)

// fakeRunner scripts cell outcomes without spawning Python. By default a
// run succeeds and echoes its source as output.
type fakeRunner struct {
	mu       sync.Mutex
	runs     []string // cell ids in execution order
	failures map[string]kernel.Status
	dropped  [][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failures: make(map[string]kernel.Status)}
}

func (f *fakeRunner) Run(ctx context.Context, cellID, source string, ns *kernel.Namespace) (*kernel.Result, *kernel.Namespace, error) {
	f.mu.Lock()
	f.runs = append(f.runs, cellID)
	status, failed := f.failures[cellID]
	f.mu.Unlock()

	if failed {
		return &kernel.Result{Status: status, ErrorMessage: "scripted failure"}, ns, nil
	}
	return &kernel.Result{Status: kernel.StatusSuccess, Output: "ran " + source}, ns, nil
}

func (f *fakeRunner) DropNames(ctx context.Context, ns *kernel.Namespace, names []string) (*kernel.Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, names)
	return ns, nil
}

func (f *fakeRunner) Interrupt() {}

func (f *fakeRunner) ranCells() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.runs...)
}

// gateRunner blocks each run until the test feeds it a token, so a plan
// can be held in flight while concurrent operations arrive.
type gateRunner struct {
	started chan string   // receives the cell id as each run begins
	release chan struct{} // each run consumes one token before finishing

	mu      sync.Mutex
	ops     []string // "run:<cell>" / "drop:<names>" in completion order
	sources map[string]string
	runNS   *kernel.Namespace // namespace returned by the latest run
	dropNS  *kernel.Namespace // namespace handed to DropNames
	dropRet *kernel.Namespace // namespace DropNames returned
}

func newGateRunner() *gateRunner {
	return &gateRunner{
		started: make(chan string, 16),
		release: make(chan struct{}, 16),
		sources: make(map[string]string),
	}
}

func (g *gateRunner) Run(ctx context.Context, cellID, source string, ns *kernel.Namespace) (*kernel.Result, *kernel.Namespace, error) {
	g.started <- cellID
	<-g.release

	next := kernel.NewNamespace()
	g.mu.Lock()
	g.ops = append(g.ops, "run:"+cellID)
	g.sources[cellID] = source
	g.runNS = next
	g.mu.Unlock()
	return &kernel.Result{Status: kernel.StatusSuccess, Output: "ran " + source}, next, nil
}

func (g *gateRunner) DropNames(ctx context.Context, ns *kernel.Namespace, names []string) (*kernel.Namespace, error) {
	next := kernel.NewNamespace()
	g.mu.Lock()
	g.ops = append(g.ops, "drop:"+strings.Join(names, ","))
	g.dropNS = ns
	g.dropRet = next
	g.mu.Unlock()
	return next, nil
}

func (g *gateRunner) Interrupt() {}

// recordingSink captures events in emission order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...)
}

func (s *recordingSink) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range s.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeRunner, *recordingSink) {
	t.Helper()
	runner := newFakeRunner()
	sink := &recordingSink{}
	eng, err := New(runner, WithEventSink(sink))
	require.NoError(t, err)
	return eng, runner, sink
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilRunner)
}

func TestEditCascadesToDependents(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 10"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = x * 2"))
	require.NoError(t, eng.CellEdited(ctx, "c", "z = y + 1"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	// Editing the root re-runs the whole chain in dependency order.
	require.NoError(t, eng.CellEdited(ctx, "a", "x = 5"))
	assert.Equal(t, []string{"a", "b", "c"}, runner.ranCells())

	queues := sink.ofType(EventExecutionQueue)
	require.NotEmpty(t, queues)
	last := queues[len(queues)-1]
	assert.Equal(t, []string{"a", "b", "c"}, last.CellIDs)
}

func TestEditUnknownCellCreatesIt(t *testing.T) {
	eng, runner, _ := newTestEngine(t)

	require.NoError(t, eng.CellEdited(context.Background(), "fresh", "v = 1"))

	cells := eng.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, "fresh", cells[0].ID)
	assert.Equal(t, CellSuccess, cells[0].Status)
	assert.Equal(t, []string{"fresh"}, runner.ranCells())
}

func TestEventOrderPerPlan(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = x"))

	// Inspect the last plan's slice of events.
	events := sink.all()
	var tail []Event
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventExecutionQueue {
			tail = events[i:]
			break
		}
	}
	require.NotEmpty(t, tail)

	want := []EventType{
		EventExecutionQueue,
		EventExecutionStarted, EventExecutionResult,
		EventExecutionStarted, EventExecutionResult,
	}
	var got []EventType
	for _, ev := range tail {
		got = append(got, ev.Type)
	}
	assert.Equal(t, want, got)
}

func TestDuplicateSymbolSuppressesExecution(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	require.NoError(t, eng.CellEdited(ctx, "b", "x = 2"))

	assert.Empty(t, runner.ranCells(), "structural error must suppress all execution")

	structural := sink.ofType(EventStructuralError)
	require.Len(t, structural, 1, "exactly one structural_error per failed validation")
	assert.Contains(t, structural[0].Message, "defined in multiple cells")
}

func TestCycleEmitsSingleError(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = y + 1"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	require.NoError(t, eng.CellEdited(ctx, "b", "y = x + 1"))

	assert.Empty(t, runner.ranCells())
	structural := sink.ofType(EventStructuralError)
	require.Len(t, structural, 1)
	assert.Contains(t, structural[0].Message, "Circular dependency detected")
}

func TestFailedCellStopsPlan(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = x"))
	require.NoError(t, eng.CellEdited(ctx, "c", "z = y"))

	runner.failures["b"] = kernel.StatusError
	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()
	sink.mu.Lock()
	sink.events = nil
	sink.mu.Unlock()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 2"))

	assert.Equal(t, []string{"a", "b"}, runner.ranCells(), "plan stops after the failed cell")

	var statuses = map[string]CellStatus{}
	for _, cell := range eng.Cells() {
		statuses[cell.ID] = cell.Status
	}
	assert.Equal(t, CellSuccess, statuses["a"])
	assert.Equal(t, CellError, statuses["b"])
	assert.Equal(t, CellIdle, statuses["c"], "unreached plan cells are left idle")
}

func TestSyntaxErrorMarksOnlyEditedCell(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	require.NoError(t, eng.CellEdited(ctx, "bad", "def broken(:"))

	assert.Empty(t, runner.ranCells(), "unparseable cell never executes")

	results := sink.ofType(EventExecutionResult)
	require.NotEmpty(t, results)
	last := results[len(results)-1]
	assert.Equal(t, "bad", last.CellID)
	require.NotNil(t, last.Cell)
	assert.Equal(t, CellError, last.Cell.Status)
	assert.True(t, strings.Contains(last.Cell.Error, "analysis failed") ||
		strings.Contains(last.Cell.Error, "syntax"), "error should mention the parse fault: %s", last.Cell.Error)
}

func TestDeleteCellDropsDefinedNames(t *testing.T) {
	eng, runner, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1\ny = 2"))
	require.NoError(t, eng.CellDeleted(ctx, "a"))

	require.Len(t, runner.dropped, 1)
	assert.Equal(t, []string{"x", "y"}, runner.dropped[0])
	assert.Empty(t, eng.Cells())
}

func TestDeleteDuringRunDropsAfterPlan(t *testing.T) {
	runner := newGateRunner()
	eng, err := New(runner)
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.CellEdited(ctx, "a", "x = 1") }()
	require.Equal(t, "a", <-runner.started, "cell a's plan is in flight")

	// Queued behind a's plan; deleting it must not touch the namespace
	// while a's worker holds it.
	require.NoError(t, eng.CellEdited(ctx, "b", "y = 2"))
	require.NoError(t, eng.CellDeleted(ctx, "b"))

	runner.release <- struct{}{}
	require.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"run:a", "drop:y"}, runner.ops,
		"the drop is serialized behind the in-flight run")
	assert.Same(t, runner.runNS, runner.dropNS,
		"the drop applies to the namespace the plan produced, not a stale snapshot")

	eng.mu.Lock()
	finalNS := eng.ns
	eng.mu.Unlock()
	assert.Same(t, runner.dropRet, finalNS,
		"the engine carries the post-drop namespace")
}

func TestEditsDuringRunCoalesce(t *testing.T) {
	runner := newGateRunner()
	eng, err := New(runner)
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- eng.CellEdited(ctx, "a", "x = 1") }()
	require.Equal(t, "a", <-runner.started, "cell a's plan is in flight")

	// Repeated edits of b coalesce to the latest source; c queues behind.
	require.NoError(t, eng.CellEdited(ctx, "b", "y = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = 2"))
	require.NoError(t, eng.CellEdited(ctx, "c", "z = 3"))

	runner.release <- struct{}{}
	runner.release <- struct{}{}
	runner.release <- struct{}{}
	require.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"run:a", "run:b", "run:c"}, runner.ops,
		"queued edits drain in order, each cell exactly once")
	assert.Equal(t, "y = 2", runner.sources["b"],
		"the coalesced run uses the latest source")
}

func TestDeleteUnknownCell(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	assert.ErrorIs(t, eng.CellDeleted(context.Background(), "ghost"), ErrCellNotFound)
}

func TestDeleteClearsDuplicateFault(t *testing.T) {
	eng, runner, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "x = 2"))
	require.NoError(t, eng.CellDeleted(ctx, "b"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	// With the duplicate gone, execution resumes.
	require.NoError(t, eng.ExecuteCell(ctx, "a"))
	assert.Equal(t, []string{"a"}, runner.ranCells())
}

func TestExecuteUnknownCell(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	assert.ErrorIs(t, eng.ExecuteCell(context.Background(), "ghost"), ErrCellNotFound)
}

func TestCellAddedInsertsAtPosition(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "c", "y = 2"))

	cell := eng.CellAdded(1)
	require.NotNil(t, cell)
	assert.Equal(t, CellIdle, cell.Status)

	cells := eng.Cells()
	require.Len(t, cells, 3)
	assert.Equal(t, cell.ID, cells[1].ID)
}

func TestExecuteAllRunsEveryCellInOrder(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = x"))
	require.NoError(t, eng.CellEdited(ctx, "c", "n = 4"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	require.NoError(t, eng.ExecuteAll(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, runner.ranCells(),
		"every cell runs, dependencies before dependents")

	queues := sink.ofType(EventExecutionQueue)
	require.NotEmpty(t, queues)
	assert.Equal(t, []string{"a", "b", "c"}, queues[len(queues)-1].CellIDs)
}

func TestExecuteAllSuppressedByStructuralFault(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "x = 2"))

	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()
	sink.mu.Lock()
	sink.events = nil
	sink.mu.Unlock()

	require.NoError(t, eng.ExecuteAll(ctx))

	assert.Empty(t, runner.ranCells())
	structural := sink.ofType(EventStructuralError)
	require.Len(t, structural, 1)
	assert.Contains(t, structural[0].Message, "defined in multiple cells")
}

func TestResetClearsOutputsKeepsSources(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	eng.Reset()

	cells := eng.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, CellIdle, cells[0].Status)
	assert.Empty(t, cells[0].Output)
	assert.Equal(t, "x = 1", cells[0].Source)
}

func TestRestoreRebuildsGraphWithoutExecuting(t *testing.T) {
	eng, runner, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Restore(ctx, []*Cell{
		{ID: "a", Source: "x = 1", Status: CellSuccess, Output: "old"},
		{ID: "b", Source: "y = x", Status: CellRunning},
	})

	assert.Empty(t, runner.ranCells(), "restore never executes")

	cells := eng.Cells()
	require.Len(t, cells, 2)
	assert.Equal(t, "old", cells[0].Output)
	assert.Equal(t, CellIdle, cells[1].Status, "stale running status resets to idle")

	// The restored graph is live: editing a re-runs b.
	require.NoError(t, eng.CellEdited(ctx, "a", "x = 2"))
	assert.Equal(t, []string{"a", "b"}, runner.ranCells())
}

func TestInterruptAbandonsQueuedWork(t *testing.T) {
	eng, runner, sink := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 1"))
	require.NoError(t, eng.CellEdited(ctx, "b", "y = x"))

	runner.failures["a"] = kernel.StatusInterrupted
	runner.mu.Lock()
	runner.runs = nil
	runner.mu.Unlock()

	require.NoError(t, eng.CellEdited(ctx, "a", "x = 2"))

	assert.Equal(t, []string{"a"}, runner.ranCells(), "plan stops at the interrupted cell")
	interrupted := sink.ofType(EventExecutionInterrupted)
	require.Len(t, interrupted, 1)
	assert.Equal(t, "a", interrupted[0].CellID)

	var statuses = map[string]CellStatus{}
	for _, cell := range eng.Cells() {
		statuses[cell.ID] = cell.Status
	}
	assert.Equal(t, CellIdle, statuses["b"])
}
