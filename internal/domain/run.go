package domain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

const (
	RunSetup     RunStatus = "SETUP"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool { return s == RunCompleted || s == RunFailed }

// ScoreStatus is the dashboard-facing state of one score within a run.
type ScoreStatus string

const (
	ScoreRunning   ScoreStatus = "RUNNING"
	ScoreCompleted ScoreStatus = "COMPLETED"
)

// CanTransition reports whether moving from s to next is monotone.
// RUNNING may stay RUNNING or become COMPLETED; COMPLETED only repeats itself.
func (s ScoreStatus) CanTransition(next ScoreStatus) bool {
	switch s {
	case "":
		return next == ScoreRunning || next == ScoreCompleted
	case ScoreRunning:
		return next == ScoreRunning || next == ScoreCompleted
	case ScoreCompleted:
		return next == ScoreCompleted
	default:
		return false
	}
}

// EvaluationRun is the mutable run aggregate. Its status only moves forward:
// SETUP -> RUNNING -> COMPLETED | FAILED, and SETUP may fail directly.
type EvaluationRun struct {
	RunID     string
	StartedAt time.Time

	mu         sync.Mutex
	status     RunStatus
	finishedAt time.Time
	partial    bool
	err        error

	processed atomic.Int64
}

// NewEvaluationRun creates a run in SETUP.
func NewEvaluationRun(runID string) *EvaluationRun {
	return &EvaluationRun{RunID: runID, status: RunSetup}
}

// Start moves the run to RUNNING.
func (r *EvaluationRun) Start(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunSetup {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, r.status, RunRunning)
	}
	r.status = RunRunning
	r.StartedAt = now
	return nil
}

// Complete marks the run COMPLETED, optionally with partial results.
func (r *EvaluationRun) Complete(now time.Time, partial bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, r.status, RunCompleted)
	}
	r.status = RunCompleted
	r.finishedAt = now
	r.partial = partial
	return nil
}

// Fail marks the run FAILED with the triggering error attached.
func (r *EvaluationRun) Fail(now time.Time, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, r.status, RunFailed)
	}
	if cause == nil {
		cause = errors.New("run failed")
	}
	r.status = RunFailed
	r.finishedAt = now
	r.err = cause
	return nil
}

// Status returns the current status.
func (r *EvaluationRun) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Partial reports whether the run completed after abandoning work.
func (r *EvaluationRun) Partial() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// Err returns the failure cause, if any.
func (r *EvaluationRun) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// FinishedAt returns when the run reached a terminal state.
func (r *EvaluationRun) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// AddProcessed bumps the processed counter and returns the new value.
func (r *EvaluationRun) AddProcessed(n int64) int64 { return r.processed.Add(n) }

// Processed returns the number of completed sample-score units.
func (r *EvaluationRun) Processed() int64 { return r.processed.Load() }
