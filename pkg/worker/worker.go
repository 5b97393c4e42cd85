// Package worker consumes payment-confirmation messages from the relay
// queue and raises them as external events against the engine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ordena/ordena/internal/relayqueue"
	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/log"
	"github.com/ordena/ordena/pkg/orderflow"
)

// Message is the wire shape of a payment confirmation.
type Message struct {
	InstanceID  string `json:"instanceId"`
	PaymentMade bool   `json:"paymentMade"`
}

// Enqueue publishes a payment confirmation onto the relay queue.
func Enqueue(ctx context.Context, q relayqueue.Queue, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode payment confirmation: %w", err)
	}
	return q.Enqueue(ctx, payload)
}

// Consumer drains the relay queue into the engine.
type Consumer struct {
	engine api.Engine
	queue  relayqueue.Queue
	logger *slog.Logger
}

// NewConsumer creates a Consumer. A nil logger falls back to slog.Default.
func NewConsumer(engine api.Engine, queue relayqueue.Queue, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{engine: engine, queue: queue, logger: logger}
}

// ProcessOne blocks for the next message and delivers it. A malformed
// message (bad JSON, empty instance id) is consumed and reported as an
// error; it is never requeued, because retrying cannot fix it.
func (c *Consumer) ProcessOne(ctx context.Context) error {
	payload, err := c.queue.Dequeue(ctx)
	if err != nil {
		return err
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("malformed payment confirmation: %w", err)
	}
	if msg.InstanceID == "" {
		return errors.New("malformed payment confirmation: empty instance id")
	}

	err = c.engine.RaiseEvent(ctx, msg.InstanceID, orderflow.EventPaymentConfirmed, msg.PaymentMade)
	if errors.Is(err, api.ErrInstanceNotFound) {
		// Confirmations for instances this engine never started are
		// consumed and dropped; requeueing them would loop forever.
		c.logger.Warn("payment confirmation for unknown instance",
			log.InstanceID(msg.InstanceID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("raise payment confirmation for %s: %w", msg.InstanceID, err)
	}

	c.logger.Info("payment confirmation delivered",
		log.InstanceID(msg.InstanceID),
		slog.Bool("payment_made", msg.PaymentMade))
	return nil
}

// Run processes messages until the context is cancelled. Message-level
// errors are logged and skipped; only cancellation stops the loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.ProcessOne(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.logger.Error("processing payment confirmation failed", log.Error(err))
	}
}
