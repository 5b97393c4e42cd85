package api

import (
	"context"
	"errors"
	"time"
)

// Status represents the engine-level lifecycle state of an orchestration
// instance. Business-level outcomes (shipped, cancelled, ...) live in the
// instance Output, not here; the engine stays workflow-agnostic.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether s is an absorbing state. Once an instance is
// terminal, no trigger mutates it again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrSuspended is returned out of an orchestrator when replay reaches an
	// await point with no matching completion in history. It is not a
	// failure: the engine commits the pass and waits for the next trigger.
	ErrSuspended = errors.New("orchestration suspended")

	// ErrNondeterminism is returned when a replay diverges from recorded
	// history, for example when the Nth activity call replays under a
	// different name than the Nth ActivityScheduled record.
	ErrNondeterminism = errors.New("orchestration replay diverged from history")

	// ErrInstanceNotFound is returned when an instance id is unknown.
	ErrInstanceNotFound = errors.New("instance not found")
)

// OrchestratorFunc is the deterministic body of a workflow. It is re-executed
// from the top against recorded history on every trigger, so it must not
// perform side effects directly; all non-determinism goes through the
// OrchestrationContext await APIs.
//
// Returning ErrSuspended (usually by propagating it from an await call)
// parks the instance. Returning nil completes it with the given output.
// Any other error fails it.
type OrchestratorFunc func(ctx *OrchestrationContext) (any, error)

// WorkflowDefinition registers an orchestrator under a name.
type WorkflowDefinition struct {
	Name         string
	Orchestrator OrchestratorFunc
}

// ActivityFunc is a single side-effecting unit of work. The input is the
// value recorded in the ActivityScheduled record; the result is memoized
// into history and never re-executed for the same call position.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// ActivityDefinition registers an activity under a name, with an optional
// retry policy applied by the executor on transient failure.
type ActivityDefinition struct {
	Name  string
	Fn    ActivityFunc
	Retry *RetryPolicy
}

// RetryPolicy controls how an activity is retried when it returns an error.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry; it grows by
// BackoffMultiplier per attempt (default 2.0 if <= 0) and is capped by
// MaxBackoff when MaxBackoff > 0.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// OrchestrationInstance is one running (or finished) execution of a
// workflow. It is fully described by its persisted fields plus its history;
// a suspended instance holds no goroutine or in-memory state.
type OrchestrationInstance struct {
	ID       string
	Workflow string
	Status   Status

	// Input is the payload the instance was started with. It is replayed
	// into the orchestrator on every pass.
	Input any

	// Output is the orchestrator's return value once Status is COMPLETED.
	Output any

	// Err is set when Status is FAILED.
	Err error

	StartedAt   time.Time
	CompletedAt time.Time
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Workflow, if non-empty, limits results to instances of that workflow.
	Workflow string

	// Status, if non-empty, limits results to instances with that status.
	Status Status
}
