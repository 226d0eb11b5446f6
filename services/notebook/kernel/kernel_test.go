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

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// newTestKernel skips the test when no Python interpreter is available.
func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH; skipping kernel integration test")
	}
	k, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return k
}

func TestRunSimpleExpression(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	result, ns, err := k.Run(ctx, "c1", "x = 40 + 2\nx", NewNamespace())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("Status = %s, want success (error: %s)", result.Status, result.ErrorMessage)
	}
	if result.Output != "42" {
		t.Errorf("Output = %q, want repr of trailing expression", result.Output)
	}
	if got := ns.Names(); len(got) != 1 || got[0] != "x" {
		t.Errorf("Names() = %v, want [x]", got)
	}
}

func TestRunStdoutAndExpression(t *testing.T) {
	k := newTestKernel(t)

	result, _, err := k.Run(context.Background(), "c1",
		"print('hello')\n1 + 1", NewNamespace())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Output != "hello\n2" {
		t.Errorf("Output = %q, want stdout then repr", result.Output)
	}
}

func TestRunNamespaceCarriesBetweenRuns(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	_, ns, err := k.Run(ctx, "c1", "base = 10", NewNamespace())
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	result, ns, err := k.Run(ctx, "c2", "base * 2", ns)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("Status = %s, want success (error: %s)", result.Status, result.ErrorMessage)
	}
	if result.Output != "20" {
		t.Errorf("Output = %q, want 20", result.Output)
	}
	if got := ns.Names(); len(got) != 1 || got[0] != "base" {
		t.Errorf("Names() = %v, want [base]; bare expressions bind nothing", got)
	}
}

func TestRunErrorRollsBackNamespace(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	_, ns, err := k.Run(ctx, "c1", "kept = 1", NewNamespace())
	if err != nil {
		t.Fatalf("setup Run() error: %v", err)
	}

	result, ns, err := k.Run(ctx, "c2", "doomed = 2\nraise ValueError('boom')", ns)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %s, want error", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "ValueError: boom") {
		t.Errorf("ErrorMessage = %q, want exception rendering", result.ErrorMessage)
	}
	if !strings.Contains(result.ErrorMessage, "line 2") {
		t.Errorf("ErrorMessage = %q, want originating line", result.ErrorMessage)
	}

	// All-or-nothing: 'doomed' must not survive the failed run.
	if got := ns.Names(); len(got) != 1 || got[0] != "kept" {
		t.Errorf("Names() = %v, want [kept]", got)
	}
}

func TestRunSyntaxError(t *testing.T) {
	k := newTestKernel(t)

	result, _, err := k.Run(context.Background(), "c1", "def broken(:", NewNamespace())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %s, want error", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "SyntaxError") {
		t.Errorf("ErrorMessage = %q, want SyntaxError", result.ErrorMessage)
	}
}

func TestRunEmptySourceSkipsWorker(t *testing.T) {
	k := newTestKernel(t)

	ns := NewNamespace()
	result, got, err := k.Run(context.Background(), "c1", "", ns)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusSuccess || result.Output != "" {
		t.Errorf("empty source should succeed with no output, got %+v", result)
	}
	if got != ns {
		t.Error("empty source should return the namespace unchanged")
	}
}

func TestRunTimeout(t *testing.T) {
	k := newTestKernel(t, WithTimeout(500*time.Millisecond))
	ctx := context.Background()

	_, ns, err := k.Run(ctx, "c1", "survivor = 7", NewNamespace())
	if err != nil {
		t.Fatalf("setup Run() error: %v", err)
	}

	start := time.Now()
	result, ns, err := k.Run(ctx, "c2", "while True:\n    pass", ns)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Fatalf("Status = %s, want timeout", result.Status)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout took %s, worker was not killed", elapsed)
	}

	// Namespace untouched; the next run still sees prior state.
	after, _, err := k.Run(ctx, "c3", "survivor", ns)
	if err != nil {
		t.Fatalf("post-timeout Run() error: %v", err)
	}
	if after.Status != StatusSuccess || after.Output != "7" {
		t.Errorf("post-timeout run = %+v, want survivor = 7", after)
	}
}

func TestInterrupt(t *testing.T) {
	k := newTestKernel(t, WithTimeout(30*time.Second))

	done := make(chan struct{})
	var result *Result
	var runErr error
	go func() {
		defer close(done)
		result, _, runErr = k.Run(context.Background(), "c1",
			"while True:\n    pass", NewNamespace())
	}()

	// Give the worker a moment to start, then cancel it.
	time.Sleep(300 * time.Millisecond)
	k.Interrupt()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("interrupted run did not return")
	}
	if runErr != nil {
		t.Fatalf("Run() error: %v", runErr)
	}
	if result.Status != StatusInterrupted {
		t.Fatalf("Status = %s, want interrupted", result.Status)
	}
}

func TestDropNames(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	_, ns, err := k.Run(ctx, "c1", "a = 1\nb = 2", NewNamespace())
	if err != nil {
		t.Fatalf("setup Run() error: %v", err)
	}

	ns, err = k.DropNames(ctx, ns, []string{"a"})
	if err != nil {
		t.Fatalf("DropNames() error: %v", err)
	}
	if got := ns.Names(); len(got) != 1 || got[0] != "b" {
		t.Errorf("Names() = %v, want [b]", got)
	}

	// A dependent read of the dropped name now fails with NameError.
	result, _, err := k.Run(ctx, "c2", "a", ns)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Status != StatusError || !strings.Contains(result.ErrorMessage, "NameError") {
		t.Errorf("read of dropped name = %+v, want NameError", result)
	}
}

func TestNewWithExplicitPython(t *testing.T) {
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not on PATH")
	}
	k, err := New(WithPythonPath(path))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if k.pythonPath != path {
		t.Errorf("pythonPath = %q, want %q", k.pythonPath, path)
	}
}
