// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel runs notebook cells in isolated Python worker processes.
//
// Each run spawns a fresh python3 subprocess driven by an embedded worker
// script. The session namespace never lives in a long-running worker: it
// travels with every request as an opaque pickled snapshot and comes back
// mutated only on success. A timed-out or interrupted worker is simply
// killed — the coordinator still holds the last good snapshot, so no
// state is lost and no restart dance is needed.
package kernel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	_ "embed"
)

//go:embed runner.py
var runnerScript string

// DefaultTimeout bounds a single cell run.
const DefaultTimeout = 30 * time.Second

// workerRequest is the JSON document handed to the worker on stdin.
type workerRequest struct {
	Op        string   `json:"op"`
	Code      string   `json:"code,omitempty"`
	Names     []string `json:"names,omitempty"`
	Namespace string   `json:"namespace"`
}

// workerResponse is the JSON document the worker writes to stdout.
type workerResponse struct {
	Status     string      `json:"status"`
	Output     string      `json:"output"`
	Error      string      `json:"error"`
	Rich       *RichOutput `json:"rich_output"`
	Namespace  string      `json:"namespace"`
	BoundNames []string    `json:"names"`
}

// Kernel executes cells against a caller-held namespace.
//
// Thread Safety: a Kernel is safe for concurrent use; each Run drives its
// own subprocess. Callers serialize runs against a single namespace
// themselves (the engine holds one execution stream per notebook).
type Kernel struct {
	pythonPath string
	timeout    time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	interrupt context.CancelCauseFunc
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithPythonPath overrides interpreter discovery with an explicit path.
func WithPythonPath(path string) Option {
	return func(k *Kernel) { k.pythonPath = path }
}

// WithTimeout sets the per-cell wall-clock deadline.
func WithTimeout(d time.Duration) Option {
	return func(k *Kernel) { k.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) { k.logger = logger }
}

// New creates a Kernel, locating a Python interpreter on PATH unless one
// was supplied via WithPythonPath.
//
// Outputs:
//   - *Kernel: Ready to run cells.
//   - error: ErrPythonNotFound when no interpreter is available.
func New(opts ...Option) (*Kernel, error) {
	k := &Kernel{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.pythonPath == "" {
		path, err := exec.LookPath("python3")
		if err != nil {
			path, err = exec.LookPath("python")
			if err != nil {
				return nil, ErrPythonNotFound
			}
		}
		k.pythonPath = path
	}
	return k, nil
}

// Run executes one cell's source against the given namespace.
//
// Description:
//
//	Spawns a fresh worker, hands it the source and the namespace
//	snapshot, and waits for the result under the configured deadline.
//	On success the returned namespace carries the worker's mutated
//	snapshot; on any failure (cell error, timeout, interrupt, worker
//	death) the input namespace is returned unchanged, so the caller's
//	state is exactly what it was before the run.
//
// Inputs:
//   - ctx: Cancels the run; kernel deadline is layered on top.
//   - cellID: Used for log correlation only.
//   - source: The cell's Python source. Empty source succeeds trivially.
//   - ns: The current namespace snapshot. Never mutated in place.
//
// Outputs:
//   - *Result: Always non-nil on nil error; classifies the outcome.
//   - *Namespace: The namespace to carry forward.
//   - error: Infrastructure faults only (ErrWorkerFailed, context errors
//     from the parent). Cell-level faults are Results, not errors.
func (k *Kernel) Run(ctx context.Context, cellID, source string, ns *Namespace) (*Result, *Namespace, error) {
	if source == "" {
		return &Result{Status: StatusSuccess}, ns, nil
	}

	req := workerRequest{
		Op:        "execute",
		Code:      source,
		Namespace: base64.StdEncoding.EncodeToString(ns.blob),
	}

	start := time.Now()
	resp, runErr := k.invoke(ctx, req)
	elapsed := time.Since(start)

	switch {
	case errors.Is(runErr, ErrTimeout):
		k.logger.Warn("cell timed out",
			slog.String("cell_id", cellID),
			slog.Duration("timeout", k.timeout))
		return &Result{
			Status:       StatusTimeout,
			ErrorMessage: fmt.Sprintf("Cell execution exceeded %s and was terminated", k.timeout),
		}, ns, nil
	case errors.Is(runErr, ErrInterrupted):
		k.logger.Info("cell interrupted",
			slog.String("cell_id", cellID),
			slog.Duration("elapsed", elapsed))
		return &Result{
			Status:       StatusInterrupted,
			ErrorMessage: "Execution interrupted",
		}, ns, nil
	case runErr != nil:
		return nil, ns, runErr
	}

	if resp.Status != "success" {
		return &Result{
			Status:       StatusError,
			Output:       resp.Output,
			Rich:         resp.Rich,
			ErrorMessage: resp.Error,
		}, ns, nil
	}

	blob, err := base64.StdEncoding.DecodeString(resp.Namespace)
	if err != nil {
		return nil, ns, fmt.Errorf("%w: bad namespace encoding: %v", ErrWorkerFailed, err)
	}

	k.logger.Debug("cell executed",
		slog.String("cell_id", cellID),
		slog.Duration("elapsed", elapsed),
		slog.Int("bound_names", len(resp.BoundNames)))

	return &Result{
		Status: StatusSuccess,
		Output: resp.Output,
		Rich:   resp.Rich,
	}, &Namespace{blob: blob, names: resp.BoundNames}, nil
}

// DropNames removes bindings from the namespace, typically after a cell
// that defined them was deleted. A failure leaves the namespace unchanged.
func (k *Kernel) DropNames(ctx context.Context, ns *Namespace, names []string) (*Namespace, error) {
	if len(names) == 0 || ns.Empty() {
		return ns, nil
	}

	req := workerRequest{
		Op:        "drop",
		Names:     names,
		Namespace: base64.StdEncoding.EncodeToString(ns.blob),
	}
	resp, err := k.invoke(ctx, req)
	if err != nil {
		return ns, err
	}
	if resp.Status != "success" {
		return ns, fmt.Errorf("%w: %s", ErrWorkerFailed, resp.Error)
	}

	blob, err := base64.StdEncoding.DecodeString(resp.Namespace)
	if err != nil {
		return ns, fmt.Errorf("%w: bad namespace encoding: %v", ErrWorkerFailed, err)
	}
	return &Namespace{blob: blob, names: resp.BoundNames}, nil
}

// Interrupt cancels the in-flight run, if any. The worker is killed and
// the run resolves with StatusInterrupted. No-op when nothing is running.
func (k *Kernel) Interrupt() {
	k.mu.Lock()
	cancel := k.interrupt
	k.mu.Unlock()
	if cancel != nil {
		cancel(ErrInterrupted)
	}
}

// invoke drives one worker subprocess through a full request/response
// cycle under the kernel deadline.
func (k *Kernel) invoke(ctx context.Context, req workerRequest) (*workerResponse, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	k.mu.Lock()
	k.interrupt = cancel
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.interrupt = nil
		k.mu.Unlock()
	}()

	deadlineCtx, cancelDeadline := context.WithTimeoutCause(runCtx, k.timeout, ErrTimeout)
	defer cancelDeadline()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrWorkerFailed, err)
	}

	cmd := exec.CommandContext(deadlineCtx, k.pythonPath, "-c", runnerScript)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cause := context.Cause(deadlineCtx)
		switch {
		case errors.Is(cause, ErrTimeout):
			return nil, ErrTimeout
		case errors.Is(cause, ErrInterrupted):
			return nil, ErrInterrupted
		case deadlineCtx.Err() != nil:
			// Parent context canceled (shutdown): surface it as-is.
			return nil, cause
		}
		return nil, fmt.Errorf("%w: %v (stderr: %s)", ErrWorkerFailed, err, stderr.String())
	}

	var resp workerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrWorkerFailed, err)
	}
	return &resp, nil
}
