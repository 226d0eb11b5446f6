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

import "errors"

// Sentinel errors for kernel operations.
var (
	// ErrPythonNotFound is returned when no Python interpreter is on PATH.
	ErrPythonNotFound = errors.New("python interpreter not found")

	// ErrTimeout is returned when a cell exceeds its wall-clock deadline.
	// The worker is killed and the namespace is left untouched.
	ErrTimeout = errors.New("cell execution timed out")

	// ErrInterrupted is returned when the user interrupts the running cell.
	// Same namespace guarantee as ErrTimeout.
	ErrInterrupted = errors.New("cell execution interrupted")

	// ErrWorkerFailed is returned when the worker process dies or emits a
	// malformed response. Distinct from the cell's own code raising.
	ErrWorkerFailed = errors.New("worker process failed")
)
