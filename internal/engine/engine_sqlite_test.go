package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ordena/ordena/internal/persistence"
	"github.com/ordena/ordena/pkg/api"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteEngine_EventLifecycle(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "ordena.db"))

	eng, err := NewSQLiteEngine(db)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	if err := eng.RegisterWorkflow(raceWorkflow(10 * time.Second)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := eng.Start(context.Background(), "race", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.RaiseEvent(context.Background(), inst.ID, "go", "paid"); err != nil {
		t.Fatalf("RaiseEvent failed: %v", err)
	}

	done := waitForStatus(t, eng, inst.ID, api.StatusCompleted)
	if done.Output != "event:paid" {
		t.Fatalf("unexpected output: %v", done.Output)
	}

	// History must be readable back from storage, in commit order.
	hist, err := eng.History(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) == 0 {
		t.Fatal("expected non-empty history")
	}
	for i, ev := range hist {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("history out of order at %d: seq %d", i, ev.Sequence)
		}
	}
	last := hist[len(hist)-1]
	if last.Kind != api.KindOrchestrationCompleted {
		t.Fatalf("expected OrchestrationCompleted last, got %s", last.Kind)
	}
}

func TestSQLiteEngine_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordena.db")

	// First process: start an instance that suspends waiting for an event,
	// then go away without any shutdown courtesy.
	db1 := openTestDB(t, path)
	eng1, err := NewSQLiteEngine(db1)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	if err := eng1.RegisterWorkflow(raceWorkflow(10 * time.Second)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	inst, err := eng1.Start(context.Background(), "race", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Second process: same database, fresh engine.
	db2 := openTestDB(t, path)
	eng2, err := NewSQLiteEngine(db2)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = eng2.Close() })
	if err := eng2.RegisterWorkflow(raceWorkflow(10 * time.Second)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	recovered, err := eng2.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered instance, got %d", recovered)
	}

	if err := eng2.RaiseEvent(context.Background(), inst.ID, "go", "paid"); err != nil {
		t.Fatalf("RaiseEvent after restart failed: %v", err)
	}
	done := waitForStatus(t, eng2, inst.ID, api.StatusCompleted)
	if done.Output != "event:paid" {
		t.Fatalf("unexpected output after restart: %v", done.Output)
	}
}

func TestSQLiteEngine_RecoverRedispatchesActivity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordena.db")

	wf := api.WorkflowDefinition{
		Name: "one-activity",
		Orchestrator: func(ctx *api.OrchestrationContext) (any, error) {
			return ctx.CallActivity("work", nil)
		},
	}

	// First process: the activity hangs, simulating a crash mid-execution.
	// The engine is abandoned, not closed; Close would wait for it.
	db1 := openTestDB(t, path)
	eng1, err := NewSQLiteEngine(db1)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	if err := eng1.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	err = eng1.RegisterActivity(api.ActivityDefinition{
		Name: "work",
		Fn: func(ctx context.Context, input any) (any, error) {
			select {} // never returns
		},
	})
	if err != nil {
		t.Fatalf("RegisterActivity failed: %v", err)
	}
	inst, err := eng1.Start(context.Background(), "one-activity", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Second process: the same activity works. Recover must notice the
	// unresolved ActivityScheduled record and run it again.
	db2 := openTestDB(t, path)
	eng2, err := NewSQLiteEngine(db2)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = eng2.Close() })
	if err := eng2.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	err = eng2.RegisterActivity(api.ActivityDefinition{
		Name: "work",
		Fn: func(ctx context.Context, input any) (any, error) {
			return "done", nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterActivity failed: %v", err)
	}

	if _, err := eng2.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	done := waitForStatus(t, eng2, inst.ID, api.StatusCompleted)
	if done.Output != "done" {
		t.Fatalf("unexpected output: %v", done.Output)
	}
}

func TestSQLiteEngine_RecoverRecordsClaimedTimer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordena.db")

	db1 := openTestDB(t, path)
	eng1, err := NewSQLiteEngine(db1)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	if err := eng1.RegisterWorkflow(raceWorkflow(time.Minute)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	inst, err := eng1.Start(context.Background(), "race", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a process that claimed the timer and stopped before it could
	// record the firing: the store row is marked fired, history has no
	// TimerFired record.
	store, err := persistence.NewSQLiteTimerStore(db1)
	if err != nil {
		t.Fatalf("NewSQLiteTimerStore failed: %v", err)
	}
	claimed, err := store.ClaimDue(context.Background(), time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed timer, got %d", len(claimed))
	}

	db2 := openTestDB(t, path)
	eng2, err := NewSQLiteEngine(db2)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = eng2.Close() })
	if err := eng2.RegisterWorkflow(raceWorkflow(time.Minute)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if _, err := eng2.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	// Recover must notice the orphaned claim and record the firing; the
	// instance would otherwise stay RUNNING forever.
	done := waitForStatus(t, eng2, inst.ID, api.StatusCompleted)
	if done.Output != "timeout" {
		t.Fatalf("unexpected output: %v", done.Output)
	}
}

func TestSQLiteEngine_DurableTimerFiresAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordena.db")

	db1 := openTestDB(t, path)
	eng1, err := NewSQLiteEngine(db1)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	if err := eng1.RegisterWorkflow(raceWorkflow(50 * time.Millisecond)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	inst, err := eng1.Start(context.Background(), "race", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2 := openTestDB(t, path)
	eng2, err := NewSQLiteEngine(db2)
	if err != nil {
		t.Fatalf("NewSQLiteEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = eng2.Close() })
	if err := eng2.RegisterWorkflow(raceWorkflow(50 * time.Millisecond)); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if _, err := eng2.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	// The deadline was persisted by the first engine; the second engine's
	// timer loop must fire it without any in-memory handoff.
	done := waitForStatus(t, eng2, inst.ID, api.StatusCompleted)
	if done.Output != "timeout" {
		t.Fatalf("unexpected output: %v", done.Output)
	}
}
