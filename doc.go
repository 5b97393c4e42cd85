// Package ordena provides a durable workflow engine for order approval,
// built on event-sourced replay.
//
// An orchestration instance is fully described by its input and its
// append-only history of records. The orchestrator function is re-executed
// from the top on every trigger; await points either return results already
// recorded in history or suspend the instance until the awaited outcome is
// durably committed. A suspended instance holds no goroutine, no open
// connection and no in-memory state, so a process restart loses nothing.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. OrchestrationContext
//  3. Activities
//  4. Durable timers
//  5. External events
//
// # Engine
//
// The Engine registers workflow and activity definitions, persists instance
// state, and provides APIs to:
//   - start instances
//   - raise external events
//   - read instance state and history
//   - recover in-flight work after a restart
//
// Engines can be backed by in-memory stores (non-durable, best for tests)
// or SQLite (embedded durability).
//
// # Orchestrators
//
// An orchestrator must be deterministic: all side effects go through
// OrchestrationContext (CallActivity, CreateTimer, SubscribeEvent, Select),
// which memoizes outcomes into history. Activities carry the side effects
// and may be retried; their results are recorded exactly once.
//
// The pkg/orderflow package implements the order-approval workflow on top
// of this engine, and cmd/ordena serves it over HTTP with a relay queue for
// payment confirmations.
package ordena
