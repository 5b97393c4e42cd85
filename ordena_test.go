package ordena_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ordena/ordena"
	"github.com/ordena/ordena/pkg/orderflow"
)

func waitForTerminal(t *testing.T, eng ordena.Engine, id string) *ordena.OrchestrationInstance {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := ordena.GetInstance(context.Background(), eng, id)
		require.NoError(t, err)
		if inst.Status.Terminal() {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached a terminal status", id)
	return nil
}

func TestFacade_SQLiteOrderRoundTrip(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ordena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	eng, err := ordena.NewSQLiteEngine(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	require.NoError(t, orderflow.Register(eng, orderflow.Config{PaymentTimeout: 10 * time.Second}))

	inst, err := ordena.Start(context.Background(), eng, orderflow.WorkflowName, orderflow.Order{
		Number: 42,
		Items:  []string{"widget"},
	})
	require.NoError(t, err)
	require.Equal(t, ordena.StatusRunning, inst.Status)

	require.NoError(t, ordena.RaiseEvent(
		context.Background(), eng, inst.ID, orderflow.EventPaymentConfirmed, true))

	done := waitForTerminal(t, eng, inst.ID)
	require.Equal(t, ordena.StatusCompleted, done.Status)

	// The output survived a gob round trip through SQLite with its concrete
	// type intact.
	result, ok := done.Output.(orderflow.Result)
	require.True(t, ok, "unexpected output type %T", done.Output)
	require.Equal(t, orderflow.OutcomeShipped, result.Outcome)

	hist, err := eng.History(context.Background(), inst.ID)
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	require.Equal(t, ordena.KindOrchestrationCompleted, hist[len(hist)-1].Kind)
}

func TestFacade_ListInstances(t *testing.T) {
	t.Parallel()

	eng := ordena.NewInMemoryEngine()
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, orderflow.Register(eng, orderflow.Config{}))

	for i := int64(1); i <= 3; i++ {
		_, err := ordena.Start(context.Background(), eng, orderflow.WorkflowName, orderflow.Order{Number: i * 2})
		require.NoError(t, err)
	}

	instances, err := ordena.ListInstances(context.Background(), eng, ordena.InstanceListOptions{
		Workflow: orderflow.WorkflowName,
	})
	require.NoError(t, err)
	require.Len(t, instances, 3)
}
