package ordena

import (
	"context"
	"database/sql"

	"github.com/ordena/ordena/internal/engine"
	"github.com/ordena/ordena/pkg/api"
)

// Name identifies the service in logs.
const Name = "ordena"

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                = api.Engine
	WorkflowDefinition    = api.WorkflowDefinition
	ActivityDefinition    = api.ActivityDefinition
	ActivityFunc          = api.ActivityFunc
	OrchestratorFunc      = api.OrchestratorFunc
	OrchestrationContext  = api.OrchestrationContext
	OrchestrationInstance = api.OrchestrationInstance
	InstanceListOptions   = api.InstanceListOptions
	HistoryEvent          = api.HistoryEvent
	EventKind             = api.EventKind
	Status                = api.Status
	RetryPolicy           = api.RetryPolicy
	Observer              = api.Observer
	LoggingObserver       = api.LoggingObserver
	CompositeObserver     = api.CompositeObserver
	NoopObserver          = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

// Re-export the history record kinds.

const (
	KindActivityScheduled      = api.KindActivityScheduled
	KindActivityCompleted      = api.KindActivityCompleted
	KindTimerCreated           = api.KindTimerCreated
	KindTimerFired             = api.KindTimerFired
	KindEventSubscribed        = api.KindEventSubscribed
	KindExternalEventReceived  = api.KindExternalEventReceived
	KindOrchestrationCompleted = api.KindOrchestrationCompleted
	KindOrchestrationFailed    = api.KindOrchestrationFailed
)

// Sentinel errors workflow authors care about.

var (
	ErrSuspended        = api.ErrSuspended
	ErrNondeterminism   = api.ErrNondeterminism
	ErrInstanceNotFound = api.ErrInstanceNotFound
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists instances, histories,
// timers and buffered events in a SQLite database. Workflow and activity
// definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts a new instance of a registered workflow.
func Start(ctx context.Context, eng Engine, name string, input any) (*OrchestrationInstance, error) {
	return eng.Start(ctx, name, input)
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*OrchestrationInstance, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists orchestration instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*OrchestrationInstance, error) {
	return eng.ListInstances(ctx, opts)
}

// RaiseEvent delivers an external event to a running instance.
func RaiseEvent(ctx context.Context, eng Engine, id, name string, payload any) error {
	return eng.RaiseEvent(ctx, id, name, payload)
}
