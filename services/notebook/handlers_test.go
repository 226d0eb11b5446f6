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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarkhullar1/reactive-notebook/services/notebook/engine"
)

func TestClientMessageValidation(t *testing.T) {
	v := validator.New()

	valid := []ClientMessage{
		{Type: "cell_updated", CellID: "c1", Source: "x = 1"},
		{Type: "execute_cell", CellID: "c1"},
		{Type: "execute_all"},
		{Type: "interrupt"},
		{Type: "list_notebooks"},
		{Type: "create_notebook", Name: "notes"},
		{Type: "open_notebook", NotebookID: "nb-1"},
	}
	for _, msg := range valid {
		assert.NoError(t, v.Struct(&msg), "type %s should validate", msg.Type)
	}

	invalid := []ClientMessage{
		{},
		{Type: "drop_tables"},
	}
	for _, msg := range invalid {
		assert.Error(t, v.Struct(&msg), "type %q should be rejected", msg.Type)
	}
}

func TestHubSinkEventMapping(t *testing.T) {
	hub := NewHub(nil)
	sink := hub.EngineSink("nb-1").(*hubSink)

	tests := []struct {
		event engine.EventType
		want  string
	}{
		{engine.EventExecutionQueue, MsgExecutionQueue},
		{engine.EventExecutionStarted, MsgExecutionStarted},
		{engine.EventExecutionResult, MsgExecutionResult},
		{engine.EventExecutionInterrupted, MsgExecutionInterrupted},
		{engine.EventStructuralError, MsgError},
	}
	for _, tt := range tests {
		msg, ok := sink.translate(engine.Event{Type: tt.event, CellID: "c1"})
		require.True(t, ok, "event %s should translate", tt.event)
		assert.Equal(t, tt.want, msg.Type)
		assert.Equal(t, "nb-1", msg.NotebookID)
	}

	_, ok := sink.translate(engine.Event{Type: "unknown"})
	assert.False(t, ok, "unknown event types are dropped")
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	// No clients registered; must not panic or block.
	hub.Broadcast(ServerMessage{Type: MsgError, Message: "nobody listening"})
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	h := &Handlers{hub: NewHub(nil), validate: validator.New()}
	v1 := router.Group("/v1")
	RegisterRoutes(v1, h)

	req := httptest.NewRequest(http.MethodGet, "/v1/notebook/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
