// Package pipeline drives the stage graph that turns project documents into
// a refined glossary: extraction, generation, review, refinement, and the
// persistence and cancellation discipline around them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lexigen/lexigen/pkg/events"
	"github.com/lexigen/lexigen/pkg/llm"
)

// ErrCancelled is the distinguished cancellation value, shared with the LLM
// client so a cancel surfaced anywhere propagates up the stack unchanged.
var ErrCancelled = llm.ErrCancelled

// LogFunc receives pipeline log and progress events. Invocations always go
// through safeCallback: a faulty subscriber can never break a run.
type LogFunc func(events.LogEvent)

// ExecutionContext carries the per-run plumbing into the executor. The
// cancel latch is the context.Context passed to Execute; holding only data
// here keeps the manager→executor reference acyclic.
type ExecutionContext struct {
	RunID    int64
	Log      LogFunc
	DebugDir string
}

// checkCancelled returns ErrCancelled when the run's latch is set. Stages
// call it on entry and per-item loops call it before each LLM call, so a
// cancel lands within one LLM timeout even on multi-hour workloads.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// safeCallback invokes fn, swallowing a panic with a warning. Progress and
// log callbacks cross into subscriber code; their faults are never allowed
// to propagate into the pipeline.
func safeCallback(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Callback failed", "callback", name, "panic", r)
		}
	}()
	fn()
}
