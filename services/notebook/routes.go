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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all notebook routes with the router.
//
// Description:
//
//	Registers the notebook endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	h - The handlers instance
//
// Endpoints:
//
//	GET /v1/notebook/ws - Websocket carrying the notebook protocol
//	GET /v1/notebook/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	nb := rg.Group("/notebook")
	{
		nb.GET("/ws", h.HandleNotebookWebSocket)
		nb.GET("/health", h.HandleHealth)
	}
}
