// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts the symbols a notebook cell defines and reads.
//
// The analyzer performs static analysis only: cell source is parsed with
// tree-sitter and never executed. The defined/used symbol sets drive the
// notebook dependency graph, so the analysis is deliberately conservative
// on the read side (when in doubt, a name counts as used) and strict on
// the write side (only top-level bindings count as defined).
package ast

import "errors"

// Sentinel errors for cell analysis.
var (
	// ErrSyntax is returned when the cell source cannot be parsed.
	// A cell with a syntax error contributes no symbols to the graph
	// until it is edited into parseable shape.
	ErrSyntax = errors.New("cell source has syntax errors")

	// ErrSourceTooLarge is returned when the cell source exceeds the
	// analyzer's configured size limit.
	ErrSourceTooLarge = errors.New("cell source too large")

	// ErrInvalidContent is returned when the cell source is not valid UTF-8.
	ErrInvalidContent = errors.New("cell source is not valid UTF-8")
)

// AnalysisError wraps a parse failure for one cell. The failure is local:
// other cells keep their symbols and the broken cell is treated as
// depending on nothing until re-analyzed.
type AnalysisError struct {
	CellID string
	Err    error
}

func (e *AnalysisError) Error() string {
	return "analysis failed for cell " + e.CellID + ": " + e.Err.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
