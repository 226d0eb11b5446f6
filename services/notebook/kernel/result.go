// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

// Status classifies the outcome of one cell run.
type Status string

const (
	// StatusSuccess means the cell ran to completion; its namespace
	// mutations were accepted.
	StatusSuccess Status = "success"

	// StatusError means the cell's code raised; the namespace was rolled
	// back to its pre-run snapshot.
	StatusError Status = "error"

	// StatusTimeout means the wall-clock deadline fired and the worker was
	// killed; the namespace is untouched.
	StatusTimeout Status = "timeout"

	// StatusInterrupted means the user canceled the run; the worker was
	// killed and the namespace is untouched.
	StatusInterrupted Status = "interrupted"
)

// RichOutput is a size-capped structured projection of a tabular, columnar,
// or n-dimensional result value (pandas DataFrame/Series, numpy ndarray).
// Produced by the worker; passed through to the frontend untouched.
type RichOutput struct {
	Type      string            `json:"type"` // "dataframe", "series", "ndarray"
	Data      any               `json:"data"`
	Columns   []string          `json:"columns,omitempty"`
	Dtypes    map[string]string `json:"dtypes,omitempty"`
	Index     []any             `json:"index,omitempty"`
	Name      any               `json:"name,omitempty"`
	Shape     []int             `json:"shape"`
	Truncated bool              `json:"truncated"`
}

// Result is the outcome of running one cell.
type Result struct {
	// Status classifies the run.
	Status Status

	// Output is everything the cell wrote to stdout, plus the repr of a
	// trailing bare expression (REPL-style auto-display).
	Output string

	// Rich carries a structured projection of the final value when it is
	// one of the recognized shapes, nil otherwise.
	Rich *RichOutput

	// ErrorMessage is a human-readable fault rendering: exception type,
	// message, and the originating line when available.
	ErrorMessage string
}
