package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ordena/ordena"
	"github.com/ordena/ordena/internal/relayqueue"
	"github.com/ordena/ordena/pkg/orderflow"
	"github.com/ordena/ordena/pkg/worker"
)

func newOrderEngine(t *testing.T) ordena.Engine {
	t.Helper()
	eng := ordena.NewInMemoryEngine()
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, orderflow.Register(eng, orderflow.Config{PaymentTimeout: 10 * time.Second}))
	return eng
}

func waitForTerminal(t *testing.T, eng ordena.Engine, id string) *ordena.OrchestrationInstance {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := eng.GetInstance(context.Background(), id)
		require.NoError(t, err)
		if inst.Status.Terminal() {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached a terminal status", id)
	return nil
}

func TestConsumerDeliversConfirmation(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	inst, err := eng.Start(context.Background(), orderflow.WorkflowName, orderflow.Order{Number: 42})
	require.NoError(t, err)

	require.NoError(t, worker.Enqueue(context.Background(), queue, worker.Message{
		InstanceID:  inst.ID,
		PaymentMade: true,
	}))
	require.NoError(t, consumer.ProcessOne(context.Background()))

	done := waitForTerminal(t, eng, inst.ID)
	result, ok := done.Output.(orderflow.Result)
	require.True(t, ok)
	require.Equal(t, orderflow.OutcomeShipped, result.Outcome)
}

func TestConsumerDeliversDeclinedPayment(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	inst, err := eng.Start(context.Background(), orderflow.WorkflowName, orderflow.Order{Number: 42})
	require.NoError(t, err)

	require.NoError(t, worker.Enqueue(context.Background(), queue, worker.Message{
		InstanceID:  inst.ID,
		PaymentMade: false,
	}))
	require.NoError(t, consumer.ProcessOne(context.Background()))

	done := waitForTerminal(t, eng, inst.ID)
	result, ok := done.Output.(orderflow.Result)
	require.True(t, ok)
	require.Equal(t, orderflow.OutcomeCancelled, result.Outcome)
}

func TestConsumerRejectsMalformedMessage(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	require.NoError(t, queue.Enqueue(context.Background(), []byte("{not json")))

	err := consumer.ProcessOne(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed payment confirmation")
	// The poison message is consumed, not requeued.
	require.Equal(t, 0, queue.Len())
}

func TestConsumerRejectsEmptyInstanceID(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	require.NoError(t, worker.Enqueue(context.Background(), queue, worker.Message{
		InstanceID:  "",
		PaymentMade: true,
	}))

	err := consumer.ProcessOne(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty instance id")
}

func TestConsumerDropsUnknownInstance(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	require.NoError(t, worker.Enqueue(context.Background(), queue, worker.Message{
		InstanceID:  "no-such-instance",
		PaymentMade: true,
	}))

	// Unknown ids are consumed and dropped; the consumer keeps going.
	require.NoError(t, consumer.ProcessOne(context.Background()))
	require.Equal(t, 0, queue.Len())
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	eng := newOrderEngine(t)
	queue := relayqueue.NewInMemoryQueue(16)
	consumer := worker.NewConsumer(eng, queue, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
