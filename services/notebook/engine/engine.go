// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine coordinates one notebook's reactive execution.
//
// The engine owns the dependency graph, the cell table, and the Python
// namespace for a single notebook. An edit re-extracts the cell's
// symbols, revalidates the graph, and either reports one structural
// error or runs the changed cell plus its transitive dependents in
// dependency order. Results stream to an EventSink as they happen.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/ast"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/graph"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/kernel"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/plan"
)

var (
	tracer = otel.Tracer("notebook.engine")
	meter  = otel.Meter("notebook.engine")
)

// CellStatus is one cell's position in the idle → running → {success,
// error} → idle state machine.
type CellStatus string

const (
	CellIdle    CellStatus = "idle"
	CellRunning CellStatus = "running"
	CellSuccess CellStatus = "success"
	CellError   CellStatus = "error"
)

// Cell is one notebook cell's source and latest execution state.
type Cell struct {
	ID     string             `json:"id"`
	Source string             `json:"source"`
	Output string             `json:"output"`
	Rich   *kernel.RichOutput `json:"rich_output,omitempty"`
	Error  string             `json:"error,omitempty"`
	Status CellStatus         `json:"status"`
}

func (c *Cell) clone() *Cell {
	out := *c
	return &out
}

// Runner abstracts the execution kernel so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, cellID, source string, ns *kernel.Namespace) (*kernel.Result, *kernel.Namespace, error)
	DropNames(ctx context.Context, ns *kernel.Namespace, names []string) (*kernel.Namespace, error)
	Interrupt()
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventSink sets the sink engine events are published to.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the per-notebook coordinator.
//
// Description:
//
//	Engine serializes all graph and namespace mutation behind one mutex
//	and all execution behind a weighted semaphore of one, so at most one
//	plan is in flight. Edits arriving during a run update the graph
//	immediately and queue their cell for planning; repeated edits of the
//	same cell coalesce to the latest source.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Engine struct {
	analyzer *ast.Analyzer
	runner   Runner
	sink     EventSink
	logger   *slog.Logger

	sem *semaphore.Weighted

	mu           sync.Mutex
	graph        *graph.DependencyGraph
	cells        map[string]*Cell
	ns           *kernel.Namespace
	pending      []string
	pendingSet   map[string]struct{}
	pendingDrops []string
	runAll       bool
	interrupted  bool

	// Metrics (initialized lazily)
	metricsOnce sync.Once
	cellLatency metric.Float64Histogram
	cellRuns    metric.Int64Counter
	cellFaults  metric.Int64Counter
	activeCells metric.Int64UpDownCounter
}

// New creates an engine over an empty notebook.
//
// Inputs:
//   - runner: Executes cell source. Must not be nil.
//   - opts: Optional sink and logger.
//
// Outputs:
//   - *Engine: Ready for cell operations.
//   - error: ErrNilRunner.
func New(runner Runner, opts ...Option) (*Engine, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}

	e := &Engine{
		analyzer:   ast.NewAnalyzer(),
		runner:     runner,
		sink:       discardSink{},
		logger:     slog.Default(),
		sem:        semaphore.NewWeighted(1),
		graph:      graph.New(),
		cells:      make(map[string]*Cell),
		ns:         kernel.NewNamespace(),
		pendingSet: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e, nil
}

// initMetrics lazily initializes metrics. Creation failures degrade
// observability but never block execution.
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.cellLatency, err = meter.Float64Histogram("notebook_cell_duration_seconds",
			metric.WithDescription("Time spent executing each cell"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "cell_latency: "+err.Error())
		}

		e.cellRuns, err = meter.Int64Counter("notebook_cell_success_total",
			metric.WithDescription("Number of successful cell executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "cell_runs: "+err.Error())
		}

		e.cellFaults, err = meter.Int64Counter("notebook_cell_failure_total",
			metric.WithDescription("Number of failed cell executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "cell_faults: "+err.Error())
		}

		e.activeCells, err = meter.Int64UpDownCounter("notebook_active_cells",
			metric.WithDescription("Number of currently executing cells"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_cells: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some engine metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// CellAdded creates an empty cell at the given display position (out of
// range appends) and returns its snapshot.
func (e *Engine) CellAdded(position int) *Cell {
	e.mu.Lock()
	defer e.mu.Unlock()

	cell := &Cell{
		ID:     "cell-" + uuid.NewString()[:12],
		Status: CellIdle,
	}
	e.cells[cell.ID] = cell
	e.graph.Insert(cell.ID, position)

	e.logger.Debug("cell added",
		slog.String("cell_id", cell.ID),
		slog.Int("position", position))
	return cell.clone()
}

// CellEdited updates a cell's source and reacts: symbols are re-extracted,
// the graph revalidated, and the cell plus its transitive dependents
// re-executed in dependency order.
//
// Description:
//
//	An unknown cell id creates the cell (appended to display order), so
//	edit doubles as upsert. A parse failure marks only the edited cell
//	as failed and removes its symbols from the graph until it parses
//	again. A duplicate symbol or cycle emits one structural_error event
//	and runs nothing. While another plan is executing, the edit queues
//	and coalesces; the queued plan derives from the graph at drain time,
//	so it never acts on stale symbols.
//
// Outputs:
//   - error: Infrastructure faults only. Structural and cell-level faults
//     surface as events, not errors.
func (e *Engine) CellEdited(ctx context.Context, cellID, source string) error {
	e.mu.Lock()

	cell, ok := e.cells[cellID]
	if !ok {
		cell = &Cell{ID: cellID, Status: CellIdle}
		e.cells[cellID] = cell
		e.graph.Insert(cellID, -1)
	}
	cell.Source = source

	analysis, err := e.analyzer.Analyze(ctx, source)
	if err != nil {
		// The cell contributes no symbols until it parses again.
		e.graph.Upsert(cellID, nil, nil)
		cell.Status = CellError
		cell.Output = ""
		cell.Rich = nil
		cell.Error = (&ast.AnalysisError{CellID: cellID, Err: err}).Error()
		snapshot := cell.clone()
		e.mu.Unlock()

		e.sink.Publish(Event{Type: EventExecutionResult, CellID: cellID, Cell: snapshot})
		return nil
	}

	e.graph.Upsert(cellID, analysis.DefinesSet(), analysis.UsesSet())

	if err := e.graph.Validate(); err != nil {
		e.mu.Unlock()
		e.publishStructural(err)
		return nil
	}

	e.enqueueLocked(cellID)
	e.mu.Unlock()

	return e.drain(ctx)
}

// ExecuteCell re-runs a cell and its dependents without changing source.
func (e *Engine) ExecuteCell(ctx context.Context, cellID string) error {
	e.mu.Lock()
	if !e.graph.Contains(cellID) {
		e.mu.Unlock()
		return ErrCellNotFound
	}
	if err := e.graph.Validate(); err != nil {
		e.mu.Unlock()
		e.publishStructural(err)
		return nil
	}
	e.enqueueLocked(cellID)
	e.mu.Unlock()

	return e.drain(ctx)
}

// CellDeleted removes a cell and drops its defined symbols from the
// namespace, so dependents fail with a NameError on their next run
// instead of reading a stale value.
func (e *Engine) CellDeleted(ctx context.Context, cellID string) error {
	e.mu.Lock()
	if _, ok := e.cells[cellID]; !ok {
		e.mu.Unlock()
		return ErrCellNotFound
	}

	defined := e.graph.Defines(cellID)
	e.graph.Remove(cellID)
	delete(e.cells, cellID)
	delete(e.pendingSet, cellID)
	for i, id := range e.pending {
		if id == cellID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	// The namespace may be in a worker's hands right now; queue the drop
	// so the execution stream applies it after the in-flight cell, never
	// against a snapshot the plan is about to replace.
	e.pendingDrops = append(e.pendingDrops, defined...)

	// Removal can clear a duplicate but never introduces one; revalidate
	// so the user learns immediately if a cycle remains.
	validationErr := e.graph.Validate()
	e.mu.Unlock()

	e.logger.Debug("cell deleted",
		slog.String("cell_id", cellID),
		slog.Int("dropped_symbols", len(defined)))

	if validationErr != nil {
		e.publishStructural(validationErr)
	}
	return e.drain(ctx)
}

// ExecuteAll re-runs every cell in dependency order on the current
// namespace, as after reopening a notebook.
func (e *Engine) ExecuteAll(ctx context.Context) error {
	e.mu.Lock()
	if err := e.graph.Validate(); err != nil {
		e.mu.Unlock()
		e.publishStructural(err)
		return nil
	}
	e.runAll = true
	e.mu.Unlock()

	return e.drain(ctx)
}

// Interrupt cancels the in-flight cell and abandons the rest of the
// current plan plus any queued edits.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	e.interrupted = true
	e.pending = nil
	e.pendingSet = make(map[string]struct{})
	e.runAll = false
	e.mu.Unlock()

	e.runner.Interrupt()
	e.logger.Info("interrupt requested")
}

// Reset discards the namespace and returns every cell to idle with its
// outputs cleared. Sources are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ns = kernel.NewNamespace()
	e.pendingDrops = nil
	for _, cell := range e.cells {
		cell.Status = CellIdle
		cell.Output = ""
		cell.Rich = nil
		cell.Error = ""
	}
	e.logger.Info("engine reset", slog.Int("cells", len(e.cells)))
}

// Cells returns snapshots of every cell in display order.
func (e *Engine) Cells() []*Cell {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Cell, 0, len(e.cells))
	for _, id := range e.graph.Order() {
		if cell, ok := e.cells[id]; ok {
			out = append(out, cell.clone())
		}
	}
	return out
}

// Restore seeds the engine from persisted cells without executing
// anything. Cells that no longer parse contribute no symbols, matching
// the edit path.
func (e *Engine) Restore(ctx context.Context, cells []*Cell) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, stored := range cells {
		cell := stored.clone()
		if cell.Status == CellRunning {
			cell.Status = CellIdle
		}
		e.cells[cell.ID] = cell
		e.graph.Insert(cell.ID, -1)

		analysis, err := e.analyzer.Analyze(ctx, cell.Source)
		if err != nil {
			e.graph.Upsert(cell.ID, nil, nil)
			continue
		}
		e.graph.Upsert(cell.ID, analysis.DefinesSet(), analysis.UsesSet())
	}
}

// publishStructural renders a validation failure as one event.
func (e *Engine) publishStructural(err error) {
	e.logger.Info("structural error", slog.String("error", err.Error()))
	e.sink.Publish(Event{Type: EventStructuralError, Message: err.Error()})
}

// markIdleLocked returns not-yet-run plan cells to idle. Caller holds e.mu.
func (e *Engine) markIdleLocked(cellIDs []string) {
	for _, id := range cellIDs {
		if cell, ok := e.cells[id]; ok {
			cell.Status = CellIdle
		}
	}
}

// enqueueLocked adds a cell to the pending queue, coalescing repeats.
// Caller holds e.mu.
func (e *Engine) enqueueLocked(cellID string) {
	if _, queued := e.pendingSet[cellID]; queued {
		return
	}
	e.pending = append(e.pending, cellID)
	e.pendingSet[cellID] = struct{}{}
}

// drain runs queued work until none remains, unless another goroutine
// already holds the execution stream (it will drain for us). After
// releasing the stream it re-checks the queue: work enqueued by a caller
// whose TryAcquire lost in the instant before the release must not sit
// stranded until the next operation.
func (e *Engine) drain(ctx context.Context) error {
	for {
		if !e.sem.TryAcquire(1) {
			return nil
		}
		err := e.drainStream(ctx)
		e.sem.Release(1)
		if err != nil {
			return err
		}

		e.mu.Lock()
		again := len(e.pending) > 0 || len(e.pendingDrops) > 0 || e.runAll
		e.mu.Unlock()
		if !again {
			return nil
		}
	}
}

// drainStream consumes queued drops and plans. Caller holds the
// execution stream, so nothing else touches e.ns between the read here
// and the write back.
func (e *Engine) drainStream(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.interrupted {
			e.interrupted = false
		}

		if len(e.pendingDrops) > 0 {
			names := e.pendingDrops
			e.pendingDrops = nil
			ns := e.ns
			e.mu.Unlock()

			next, err := e.runner.DropNames(ctx, ns, names)
			if err != nil {
				e.logger.Warn("failed to drop deleted cells' symbols",
					slog.Any("error", err))
				continue
			}
			e.mu.Lock()
			e.ns = next
			e.mu.Unlock()
			continue
		}

		if e.runAll {
			e.runAll = false
			planner := plan.NewPlanner(e.graph)
			ordered, err := planner.PlanAll()
			e.mu.Unlock()

			if err != nil {
				e.publishStructural(err)
				continue
			}
			if err := e.runPlan(ctx, "", ordered); err != nil {
				return err
			}
			continue
		}

		if len(e.pending) == 0 {
			e.mu.Unlock()
			return nil
		}
		cellID := e.pending[0]
		e.pending = e.pending[1:]
		delete(e.pendingSet, cellID)

		planner := plan.NewPlanner(e.graph)
		ordered, err := planner.Plan(cellID)
		e.mu.Unlock()

		if err != nil {
			if errors.Is(err, graph.ErrCellNotFound) {
				// Deleted while queued.
				continue
			}
			e.publishStructural(err)
			continue
		}

		if err := e.runPlan(ctx, cellID, ordered); err != nil {
			return err
		}
	}
}

// runPlan executes one plan's cells in order, streaming events. A failed,
// timed-out, or interrupted cell stops the plan; later cells stay idle.
func (e *Engine) runPlan(ctx context.Context, changedCellID string, ordered []string) error {
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "engine.Plan",
		trace.WithAttributes(
			attribute.String("notebook.changed_cell", changedCellID),
			attribute.Int("notebook.plan_size", len(ordered)),
		),
	)
	defer span.End()

	e.logger.Info("plan started",
		slog.String("changed_cell", changedCellID),
		slog.Int("cells", len(ordered)))

	e.sink.Publish(Event{Type: EventExecutionQueue, CellIDs: append([]string{}, ordered...)})

	for i, cellID := range ordered {
		e.mu.Lock()
		if e.interrupted {
			e.markIdleLocked(ordered[i:])
			e.mu.Unlock()
			span.SetStatus(codes.Error, "interrupted")
			return nil
		}
		cell, ok := e.cells[cellID]
		if !ok {
			e.mu.Unlock()
			continue
		}
		cell.Status = CellRunning
		source := cell.Source
		ns := e.ns
		e.mu.Unlock()

		e.sink.Publish(Event{Type: EventExecutionStarted, CellID: cellID})

		if e.activeCells != nil {
			e.activeCells.Add(ctx, 1)
		}
		start := time.Now()
		result, nextNS, err := e.runner.Run(ctx, cellID, source, ns)
		elapsed := time.Since(start)
		if e.activeCells != nil {
			e.activeCells.Add(ctx, -1)
		}
		if e.cellLatency != nil {
			e.cellLatency.Record(ctx, elapsed.Seconds())
		}

		if err != nil {
			e.mu.Lock()
			cell.Status = CellIdle
			e.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, "runner fault")
			return err
		}

		e.mu.Lock()
		e.ns = nextNS
		cell.Output = result.Output
		cell.Rich = result.Rich
		cell.Error = result.ErrorMessage
		if result.Status == kernel.StatusSuccess {
			cell.Status = CellSuccess
		} else {
			cell.Status = CellError
		}
		snapshot := cell.clone()
		e.mu.Unlock()

		switch result.Status {
		case kernel.StatusSuccess:
			if e.cellRuns != nil {
				e.cellRuns.Add(ctx, 1)
			}
			e.sink.Publish(Event{Type: EventExecutionResult, CellID: cellID, Cell: snapshot})
		case kernel.StatusInterrupted:
			if e.cellFaults != nil {
				e.cellFaults.Add(ctx, 1)
			}
			e.mu.Lock()
			e.markIdleLocked(ordered[i+1:])
			e.mu.Unlock()
			e.sink.Publish(Event{Type: EventExecutionInterrupted, CellID: cellID, Cell: snapshot})
			e.logger.Info("plan interrupted", slog.String("cell_id", cellID))
			return nil
		default:
			if e.cellFaults != nil {
				e.cellFaults.Add(ctx, 1)
			}
			e.mu.Lock()
			e.markIdleLocked(ordered[i+1:])
			e.mu.Unlock()
			e.sink.Publish(Event{Type: EventExecutionResult, CellID: cellID, Cell: snapshot})
			e.logger.Info("plan stopped on failed cell",
				slog.String("cell_id", cellID),
				slog.String("status", string(result.Status)))
			return nil
		}
	}

	e.logger.Info("plan finished", slog.String("changed_cell", changedCellID))
	return nil
}
