package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/ordena/ordena/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when an orchestration instance is not
	// in the store.
	ErrInstanceNotFound = errors.New("instance not found")
)

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Workflow string
	Status   api.Status
}

// InstanceStore handles storage of orchestration instances.
type InstanceStore interface {
	SaveInstance(inst *api.OrchestrationInstance) error
	UpdateInstance(inst *api.OrchestrationInstance) error
	GetInstance(id string) (*api.OrchestrationInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.OrchestrationInstance, error)
}

// HistoryStore is the append-only, per-instance ordered log of history
// events. It is the only source of truth for an instance's progress.
//
// AppendEvent assigns the event's sequence number (monotonic per instance,
// starting at 1) and returns the stored event. Committed events are never
// rewritten or reordered; ListEvents returns them start-to-end.
type HistoryStore interface {
	AppendEvent(ctx context.Context, instanceID string, ev api.HistoryEvent) (api.HistoryEvent, error)
	ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error)
}

// Timer is a persisted deadline owned by an instance. Seq is the sequence
// number of the TimerCreated history record it backs.
type Timer struct {
	InstanceID string
	Seq        int64
	Deadline   time.Time
}

// TimerStore persists durable timers so they fire independently of process
// lifetime.
type TimerStore interface {
	// SaveTimer persists a pending timer.
	SaveTimer(ctx context.Context, t Timer) error

	// ClaimDue atomically marks all pending timers with deadline <= now as
	// fired and returns them. A timer is returned by exactly one ClaimDue
	// call over the store's lifetime; no timer fires twice.
	ClaimDue(ctx context.Context, now time.Time) ([]Timer, error)

	// Fired reports whether the timer has been claimed by a ClaimDue call,
	// in this process or an earlier one. Recovery uses it to find claims
	// whose firing was never recorded in history.
	Fired(ctx context.Context, instanceID string, seq int64) (bool, error)

	// CancelTimer prevents a pending timer from firing. It is a no-op if
	// the timer has already been claimed.
	CancelTimer(ctx context.Context, instanceID string, seq int64) error

	// CancelAll cancels every pending timer owned by an instance.
	CancelAll(ctx context.Context, instanceID string) error
}

// EventBufferStore holds externally raised events that arrived before any
// matching subscription, keyed by (instance id, event name). Buffered
// payloads are drained in arrival order when a subscription appears and
// discarded when the instance reaches a terminal state.
type EventBufferStore interface {
	Push(ctx context.Context, instanceID, name string, payload any) error
	Pop(ctx context.Context, instanceID, name string) (payload any, ok bool, err error)
	Clear(ctx context.Context, instanceID string) error
}

// Persistence groups the stores an engine needs.
type Persistence struct {
	Instances InstanceStore
	Histories HistoryStore
	Timers    TimerStore
	Buffer    EventBufferStore
}
