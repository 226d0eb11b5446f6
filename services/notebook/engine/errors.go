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

import "errors"

// Sentinel errors for engine operations.
var (
	// ErrCellNotFound is returned when an operation names a cell id the
	// notebook does not contain.
	ErrCellNotFound = errors.New("cell not found")

	// ErrNilRunner is returned by New when no cell runner is supplied.
	ErrNilRunner = errors.New("runner must not be nil")
)
