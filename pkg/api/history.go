package api

import "time"

// EventKind identifies a history record. The set is closed: replay matches
// on these kinds and nothing else, so adding a kind is an engine change,
// not a configuration.
type EventKind string

const (
	KindActivityScheduled      EventKind = "ActivityScheduled"
	KindActivityCompleted      EventKind = "ActivityCompleted"
	KindTimerCreated           EventKind = "TimerCreated"
	KindTimerFired             EventKind = "TimerFired"
	KindEventSubscribed        EventKind = "EventSubscribed"
	KindExternalEventReceived  EventKind = "ExternalEventReceived"
	KindOrchestrationCompleted EventKind = "OrchestrationCompleted"
	KindOrchestrationFailed    EventKind = "OrchestrationFailed"
)

// HistoryEvent is one immutable record in an instance's append-only history.
// History is the sole source of truth for an instance's progress: replay
// reads it start-to-end and must never observe it rewritten or reordered.
type HistoryEvent struct {
	// Sequence is assigned by the history store on append, monotonic per
	// instance starting at 1. Commit order doubles as the tiebreak for
	// races (first recorded wins).
	Sequence int64

	Kind EventKind
	At   time.Time

	// Name carries the activity name (ActivityScheduled/Completed) or the
	// external event name (EventSubscribed/ExternalEventReceived).
	Name string

	// TaskID links a completion to the request record it resolves:
	// ActivityCompleted -> Sequence of its ActivityScheduled,
	// TimerFired -> Sequence of its TimerCreated.
	TaskID int64

	// Deadline is set on TimerCreated records only. It is captured once when
	// the timer is first requested, so replays read a stable value.
	Deadline time.Time

	// Payload carries the activity input or result, the external event
	// payload, the orchestration output, or the failure message.
	Payload any
}
