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

// EventType identifies the kind of engine event.
type EventType string

const (
	// EventExecutionQueue announces the full plan before any cell runs.
	EventExecutionQueue EventType = "execution_queue"

	// EventExecutionStarted marks one cell entering the running state.
	EventExecutionStarted EventType = "execution_started"

	// EventExecutionResult carries one cell's final state for this plan.
	EventExecutionResult EventType = "execution_result"

	// EventExecutionInterrupted marks a user-canceled run; queued cells of
	// the plan are abandoned and left idle.
	EventExecutionInterrupted EventType = "execution_interrupted"

	// EventStructuralError reports a duplicate symbol or dependency cycle.
	// Exactly one is emitted per failed validation and nothing executes.
	EventStructuralError EventType = "structural_error"
)

// Event is one engine notification. Fields are populated per type:
// ExecutionQueue fills CellIDs, Started fills CellID, Result and
// Interrupted fill Cell, StructuralError fills Message.
type Event struct {
	Type    EventType `json:"type"`
	CellID  string    `json:"cell_id,omitempty"`
	CellIDs []string  `json:"cell_ids,omitempty"`
	Cell    *Cell     `json:"cell,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EventSink receives engine events in emission order.
//
// Thread Safety: Publish may be called from the engine's execution
// goroutine while other engine methods run; implementations must be safe
// for concurrent use.
type EventSink interface {
	Publish(event Event)
}

// discardSink swallows events when no sink was configured.
type discardSink struct{}

func (discardSink) Publish(Event) {}
