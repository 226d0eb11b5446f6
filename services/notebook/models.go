// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notebook

import (
	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
	"github.com/amarkhullar1/reactive-notebook/services/notebook/storage"
)

// ClientMessage is one websocket request from the frontend. Type selects
// the operation; the validator enforces the fields that type requires at
// the handler.
type ClientMessage struct {
	Type string `json:"type" validate:"required,oneof=cell_updated execute_cell execute_all add_cell delete_cell interrupt reset list_notebooks create_notebook delete_notebook rename_notebook open_notebook"`

	// Cell operations.
	CellID   string `json:"cell_id,omitempty"`
	Source   string `json:"source,omitempty"`
	Position *int   `json:"position,omitempty"`

	// Notebook operations.
	NotebookID string `json:"notebook_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ServerMessage is one websocket notification to the frontend.
type ServerMessage struct {
	Type       string         `json:"type"`
	NotebookID string         `json:"notebook_id,omitempty"`
	CellID     string         `json:"cell_id,omitempty"`
	CellIDs    []string       `json:"cell_ids,omitempty"`
	Cell       *engine.Cell   `json:"cell,omitempty"`
	Cells      []*engine.Cell `json:"cells,omitempty"`
	Position   int            `json:"position,omitempty"`
	Notebook   *storage.Meta  `json:"notebook,omitempty"`
	Notebooks  []storage.Meta `json:"notebooks,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Server message types.
const (
	MsgNotebookState        = "notebook_state"
	MsgNotebooksList        = "notebooks_list"
	MsgNotebookCreated      = "notebook_created"
	MsgNotebookDeleted      = "notebook_deleted"
	MsgNotebookRenamed      = "notebook_renamed"
	MsgCellAdded            = "cell_added"
	MsgCellDeleted          = "cell_deleted"
	MsgExecutionQueue       = "execution_queue"
	MsgExecutionStarted     = "execution_started"
	MsgExecutionResult      = "execution_result"
	MsgExecutionInterrupted = "execution_interrupted"
	MsgError                = "error"
)
