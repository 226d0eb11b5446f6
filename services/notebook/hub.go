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
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
)

// Hub fans server messages out to every connected websocket client, so
// several browser tabs of the same notebook stay in sync.
//
// Thread Safety: Hub is safe for concurrent use. Each connection gets its
// own write mutex because gorilla/websocket allows one concurrent writer.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With(slog.String("component", "hub")),
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Register adds a connection to the broadcast set.
func (h *Hub) Register(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ws] = &sync.Mutex{}
}

// Unregister removes a connection. Safe to call twice.
func (h *Hub) Unregister(ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, ws)
}

// Send writes one message to one connection.
func (h *Hub) Send(ws *websocket.Conn, msg ServerMessage) error {
	h.mu.Lock()
	writeMu, ok := h.clients[ws]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := ws.WriteJSON(msg); err != nil {
		h.logger.Warn("failed to write websocket JSON",
			slog.String("type", msg.Type),
			slog.Any("error", err))
		return err
	}
	return nil
}

// Broadcast writes one message to every connection. Write failures drop
// the failing connection; its read loop notices on its next read.
func (h *Hub) Broadcast(msg ServerMessage) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for ws := range h.clients {
		conns = append(conns, ws)
	}
	h.mu.Unlock()

	for _, ws := range conns {
		if err := h.Send(ws, msg); err != nil {
			h.Unregister(ws)
		}
	}
}

// EngineSink returns an engine.EventSink that broadcasts the notebook's
// execution events, tagged with its id.
func (h *Hub) EngineSink(notebookID string) engine.EventSink {
	return &hubSink{hub: h, notebookID: notebookID}
}

type hubSink struct {
	hub        *Hub
	notebookID string
}

func (s *hubSink) Publish(ev engine.Event) {
	msg, ok := s.translate(ev)
	if !ok {
		return
	}
	s.hub.Broadcast(msg)
}

// translate maps an engine event onto the wire protocol. Unknown event
// types are dropped rather than leaked to clients.
func (s *hubSink) translate(ev engine.Event) (ServerMessage, bool) {
	msg := ServerMessage{
		NotebookID: s.notebookID,
		CellID:     ev.CellID,
		CellIDs:    ev.CellIDs,
		Cell:       ev.Cell,
		Message:    ev.Message,
	}
	switch ev.Type {
	case engine.EventExecutionQueue:
		msg.Type = MsgExecutionQueue
	case engine.EventExecutionStarted:
		msg.Type = MsgExecutionStarted
	case engine.EventExecutionResult:
		msg.Type = MsgExecutionResult
	case engine.EventExecutionInterrupted:
		msg.Type = MsgExecutionInterrupted
	case engine.EventStructuralError:
		msg.Type = MsgError
	default:
		return ServerMessage{}, false
	}
	return msg, true
}
