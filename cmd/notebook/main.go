// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command notebook starts the reactive notebook server.
//
// The server keeps every notebook's cells in a dependency graph: editing
// a cell re-executes it and everything downstream of it, in order, with
// results streamed over a websocket.
//
// Usage:
//
//	go run ./cmd/notebook serve
//	go run ./cmd/notebook serve --port 9090 --data-dir ~/.notebook
//	go run ./cmd/notebook serve --config notebook.yaml
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Reactive Python notebook server",
	Long: "A reactive notebook: cells form a dependency graph over the symbols\n" +
		"they define and read, and editing one cell re-executes its transitive\n" +
		"dependents in dependency order.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
