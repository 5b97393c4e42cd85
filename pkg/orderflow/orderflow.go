// Package orderflow implements the order-approval workflow: reserve the
// ordered items, then race the customer's payment confirmation against a
// payment deadline, shipping on confirmed payment and cancelling otherwise.
package orderflow

import (
	"encoding/gob"
	"fmt"
	"time"

	"github.com/ordena/ordena/pkg/api"
)

// WorkflowName is the registered name of the order-approval orchestrator.
const WorkflowName = "order-approval"

// EventPaymentConfirmed is the external event name the orchestrator
// subscribes to while waiting for the customer's payment.
const EventPaymentConfirmed = "PaymentConfirmed"

// Activity names.
const (
	ActivityReserveItems     = "reserve-items"
	ActivityCreateShipment   = "create-shipment"
	ActivityCancelOrder      = "cancel-order"
	ActivityPaymentConfirmed = "payment-confirmed"
)

// DefaultPaymentTimeout is how long an order waits for payment confirmation
// before it is cancelled.
const DefaultPaymentTimeout = 120 * time.Second

// Order is the workflow input.
type Order struct {
	Number int64
	Items  []string
}

// Outcome is the business-level result of an order-approval run.
type Outcome string

const (
	OutcomeShipped          Outcome = "Shipped"
	OutcomeCancelled        Outcome = "Cancelled"
	OutcomeItemsUnavailable Outcome = "ItemsUnavailable"
)

// Result is the workflow output.
type Result struct {
	Outcome Outcome
	Message string
}

func init() {
	gob.Register(Order{})
	gob.Register(Result{})
}

// Config tunes the workflow. The zero value uses DefaultPaymentTimeout.
type Config struct {
	// PaymentTimeout is the deadline for the payment-confirmation event.
	PaymentTimeout time.Duration
}

func (c Config) paymentTimeout() time.Duration {
	if c.PaymentTimeout <= 0 {
		return DefaultPaymentTimeout
	}
	return c.PaymentTimeout
}

// Definition returns the order-approval workflow definition with the given
// configuration.
func Definition(cfg Config) api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name:         WorkflowName,
		Orchestrator: orchestrator(cfg),
	}
}

// orchestrator is deterministic: every branch goes through the context's
// await APIs, so replaying the same history always walks the same path.
func orchestrator(cfg Config) api.OrchestratorFunc {
	return func(ctx *api.OrchestrationContext) (any, error) {
		order, err := orderInput(ctx.Input())
		if err != nil {
			return nil, err
		}

		reservedAny, err := ctx.CallActivity(ActivityReserveItems, order)
		if err != nil {
			return nil, err
		}
		reserved, _ := reservedAny.(bool)
		if !reserved {
			return Result{
				Outcome: OutcomeItemsUnavailable,
				Message: fmt.Sprintf("order %d: one or more items could not be reserved", order.Number),
			}, nil
		}

		deadline := ctx.CreateTimer(cfg.paymentTimeout())
		payment := ctx.SubscribeEvent(EventPaymentConfirmed)

		winner, err := ctx.Select(deadline, payment)
		if err != nil {
			return nil, err
		}

		if winner == 1 {
			deadline.Cancel()
			paid, _ := payment.Result()
			if paymentMade, _ := paid.(bool); paymentMade {
				shippedAny, err := ctx.CallActivity(ActivityCreateShipment, order)
				if err != nil {
					return nil, err
				}
				msg, _ := shippedAny.(string)
				return Result{Outcome: OutcomeShipped, Message: msg}, nil
			}
		} else {
			payment.Cancel()
		}

		cancelledAny, err := ctx.CallActivity(ActivityCancelOrder, order)
		if err != nil {
			return nil, err
		}
		msg, _ := cancelledAny.(string)
		return Result{Outcome: OutcomeCancelled, Message: msg}, nil
	}
}

func orderInput(input any) (Order, error) {
	order, ok := input.(Order)
	if !ok {
		return Order{}, fmt.Errorf("order-approval input is %T, want orderflow.Order", input)
	}
	return order, nil
}
