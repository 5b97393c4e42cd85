package api

import "context"

// Engine is the instance management API. All triggers that mutate a given
// instance (start, activity completion, timer firing, event arrival) are
// serialized per instance; across instances the engine is fully parallel.
type Engine interface {
	// RegisterWorkflow registers an orchestrator definition by name.
	RegisterWorkflow(def WorkflowDefinition) error

	// RegisterActivity registers an activity implementation by name.
	RegisterActivity(def ActivityDefinition) error

	// Start creates a new instance with status RUNNING and an empty history,
	// persists it, and runs the first replay pass. It returns a snapshot of
	// the instance after that pass; activities dispatched by the pass
	// complete asynchronously.
	Start(ctx context.Context, workflow string, input any) (*OrchestrationInstance, error)

	// GetInstance returns a read-only snapshot of an instance.
	// Returns ErrInstanceNotFound for unknown ids.
	GetInstance(ctx context.Context, id string) (*OrchestrationInstance, error)

	// ListInstances returns instances matching the given options.
	// Zero-valued options return all instances.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*OrchestrationInstance, error)

	// RaiseEvent routes a named external event to an instance. Delivery is
	// at-least-once upstream, so RaiseEvent is idempotent with respect to
	// the instance's state machine: duplicates and events for terminal
	// instances are accepted and dropped without mutation. An unknown id
	// returns ErrInstanceNotFound without mutation.
	RaiseEvent(ctx context.Context, id string, name string, payload any) error

	// History returns the ordered, append-only history of an instance.
	History(ctx context.Context, id string) ([]HistoryEvent, error)

	// Recover re-drives work that was in flight when the previous process
	// stopped: it re-dispatches unresolved activity requests, records
	// claimed timer firings that never reached history, and re-delivers
	// buffered events against open subscriptions for every RUNNING
	// instance. Call it on startup before accepting new work. It returns
	// the number of instances touched.
	Recover(ctx context.Context) (int, error)

	// Close stops the engine's timer loop and waits for it and any
	// in-flight activity invocations to finish. Completions arriving during
	// shutdown are still recorded if the instance is running.
	Close() error
}
