// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notebook exposes the reactive notebook over HTTP and websocket.
//
// One websocket carries the whole protocol: notebook management
// (create/rename/delete/list/open) and cell operations against the
// connection's currently open notebook. Execution events stream back over
// the hub, so every connected client of the server sees the same state.
package notebook

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// Handlers holds the transport's dependencies.
type Handlers struct {
	manager  *session.Manager
	hub      *Hub
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandlers creates the transport handlers.
//
// Inputs:
//   - manager: Notebook session manager. Must not be nil.
//   - hub: Broadcast hub shared with the engines' event sinks.
//   - logger: If nil, uses slog.Default().
func NewHandlers(manager *session.Manager, hub *Hub, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager:  manager,
		hub:      hub,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "transport")),
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleNotebookWebSocket upgrades the connection and serves the notebook
// protocol until the client disconnects.
//
// Description:
//
//	Each connection tracks one open notebook; cell operations apply to
//	it. Reactive execution (edit, execute) runs on a background
//	goroutine so the read loop keeps servicing interrupts while a plan
//	is in flight. Results reach the client through the hub, not the
//	request path.
func (h *Handlers) HandleNotebookWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", slog.Any("error", err))
		return
	}
	defer ws.Close()
	h.hub.Register(ws)
	defer h.hub.Unregister(ws)
	h.logger.Info("websocket client connected")

	// Connection state: the notebook this client is working in.
	var current *session.Session

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			h.logger.Info("websocket client disconnected", slog.String("error", err.Error()))
			return
		}

		if err := h.validate.Struct(&msg); err != nil {
			h.sendError(ws, "invalid message: "+err.Error())
			continue
		}

		ctx := c.Request.Context()

		switch msg.Type {
		case "list_notebooks":
			h.handleList(ctx, ws)

		case "create_notebook":
			h.handleCreate(ctx, ws, msg)

		case "delete_notebook":
			if current != nil && current.ID == msg.NotebookID {
				current = nil
			}
			h.handleDelete(ctx, ws, msg)

		case "rename_notebook":
			h.handleRename(ctx, ws, msg)

		case "open_notebook":
			sess, err := h.manager.Open(ctx, msg.NotebookID)
			if err != nil {
				h.sendError(ws, err.Error())
				continue
			}
			current = sess
			h.sendState(ws, sess)

		case "cell_updated":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			if msg.CellID == "" {
				h.sendError(ws, "cell_id is required")
				continue
			}
			go h.runEdit(current, msg.CellID, msg.Source)

		case "execute_cell":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			if msg.CellID == "" {
				h.sendError(ws, "cell_id is required")
				continue
			}
			go h.runExecute(current, msg.CellID)

		case "execute_all":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			go h.runExecuteAll(current)

		case "add_cell":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			position := -1
			if msg.Position != nil {
				position = *msg.Position
			}
			cell, err := current.AddCell(ctx, position)
			if err != nil {
				h.sendError(ws, err.Error())
				continue
			}
			h.hub.Broadcast(ServerMessage{
				Type:       MsgCellAdded,
				NotebookID: current.ID,
				Cell:       cell,
				Position:   position,
			})

		case "delete_cell":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			if err := current.DeleteCell(ctx, msg.CellID); err != nil {
				h.sendError(ws, err.Error())
				continue
			}
			h.hub.Broadcast(ServerMessage{
				Type:       MsgCellDeleted,
				NotebookID: current.ID,
				CellID:     msg.CellID,
			})

		case "interrupt":
			if current == nil {
				continue
			}
			current.Interrupt()

		case "reset":
			if current == nil {
				h.sendError(ws, "no notebook open")
				continue
			}
			if err := current.Reset(ctx); err != nil {
				h.sendError(ws, err.Error())
				continue
			}
			h.sendState(ws, current)
		}
	}
}

func (h *Handlers) handleList(ctx context.Context, ws *websocket.Conn) {
	metas, err := h.manager.List(ctx)
	if err != nil {
		h.sendError(ws, err.Error())
		return
	}
	_ = h.hub.Send(ws, ServerMessage{Type: MsgNotebooksList, Notebooks: metas})
}

func (h *Handlers) handleCreate(ctx context.Context, ws *websocket.Conn, msg ClientMessage) {
	meta, err := h.manager.Create(ctx, msg.Name)
	if err != nil {
		h.sendError(ws, err.Error())
		return
	}
	h.hub.Broadcast(ServerMessage{
		Type:       MsgNotebookCreated,
		NotebookID: meta.ID,
		Notebook:   meta,
	})
}

func (h *Handlers) handleDelete(ctx context.Context, ws *websocket.Conn, msg ClientMessage) {
	if err := h.manager.Delete(ctx, msg.NotebookID); err != nil {
		h.sendError(ws, err.Error())
		return
	}
	h.hub.Broadcast(ServerMessage{
		Type:       MsgNotebookDeleted,
		NotebookID: msg.NotebookID,
	})
}

func (h *Handlers) handleRename(ctx context.Context, ws *websocket.Conn, msg ClientMessage) {
	meta, err := h.manager.Rename(ctx, msg.NotebookID, msg.Name)
	if err != nil {
		h.sendError(ws, err.Error())
		return
	}
	h.hub.Broadcast(ServerMessage{
		Type:       MsgNotebookRenamed,
		NotebookID: meta.ID,
		Notebook:   meta,
	})
}

func (h *Handlers) sendState(ws *websocket.Conn, sess *session.Session) {
	_ = h.hub.Send(ws, ServerMessage{
		Type:       MsgNotebookState,
		NotebookID: sess.ID,
		Cells:      sess.Cells(),
	})
}

func (h *Handlers) sendError(ws *websocket.Conn, message string) {
	_ = h.hub.Send(ws, ServerMessage{Type: MsgError, Message: message})
}

// runEdit drives a reactive edit off the read loop. Results stream over
// the hub; only infrastructure faults come back as error messages.
func (h *Handlers) runEdit(sess *session.Session, cellID, source string) {
	if err := sess.EditCell(context.Background(), cellID, source); err != nil {
		h.logger.Error("cell edit failed",
			slog.String("notebook_id", sess.ID),
			slog.String("cell_id", cellID),
			slog.Any("error", err))
		h.hub.Broadcast(ServerMessage{Type: MsgError, NotebookID: sess.ID, Message: err.Error()})
	}
}

func (h *Handlers) runExecute(sess *session.Session, cellID string) {
	if err := sess.Execute(context.Background(), cellID); err != nil {
		h.logger.Error("cell execution failed",
			slog.String("notebook_id", sess.ID),
			slog.String("cell_id", cellID),
			slog.Any("error", err))
		h.hub.Broadcast(ServerMessage{Type: MsgError, NotebookID: sess.ID, Message: err.Error()})
	}
}

func (h *Handlers) runExecuteAll(sess *session.Session) {
	if err := sess.ExecuteAll(context.Background()); err != nil {
		h.logger.Error("full notebook execution failed",
			slog.String("notebook_id", sess.ID),
			slog.Any("error", err))
		h.hub.Broadcast(ServerMessage{Type: MsgError, NotebookID: sess.ID, Message: err.Error()})
	}
}
