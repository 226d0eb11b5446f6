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

// Namespace is one notebook session's symbol store, held by the engine as
// an opaque serialized snapshot. It is handed to exactly one worker per
// run and replaced wholesale on success, which makes rollback on failure
// trivial: keep the old snapshot.
//
// The snapshot format (a pickled dict, dill when available) is produced
// and consumed only by the Python worker; Go never inspects the blob.
type Namespace struct {
	blob  []byte
	names []string
}

// NewNamespace returns an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{}
}

// Names returns the symbol names currently bound, sorted by the worker.
func (n *Namespace) Names() []string {
	out := make([]string, len(n.names))
	copy(out, n.names)
	return out
}

// Empty reports whether the namespace has no bindings.
func (n *Namespace) Empty() bool {
	return len(n.blob) == 0
}
