package orderflow

import (
	"context"
	"fmt"

	"github.com/ordena/ordena/pkg/api"
)

// ReserveItems attempts to reserve stock for the order. The demo inventory
// has stock for even order numbers only.
func ReserveItems(ctx context.Context, input any) (any, error) {
	order, err := orderInput(input)
	if err != nil {
		return nil, err
	}
	return order.Number%2 == 0, nil
}

// CreateShipment ships a paid order.
func CreateShipment(ctx context.Context, input any) (any, error) {
	order, err := orderInput(input)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("order %d shipped (%d item(s))", order.Number, len(order.Items)), nil
}

// CancelOrder releases the reservation for an order whose payment never
// arrived or was declined.
func CancelOrder(ctx context.Context, input any) (any, error) {
	order, err := orderInput(input)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("order %d cancelled due to non-payment", order.Number), nil
}

// PaymentConfirmed echoes a payment confirmation flag. The orchestration
// waits on the external event instead of calling it; it is registered for
// callers that drive confirmations as a plain activity.
func PaymentConfirmed(ctx context.Context, input any) (any, error) {
	paymentMade, ok := input.(bool)
	if !ok {
		return nil, fmt.Errorf("payment confirmation input is %T, want bool", input)
	}
	return paymentMade, nil
}

// Register wires the order-approval workflow and its activities into the
// engine.
func Register(e api.Engine, cfg Config) error {
	if err := e.RegisterWorkflow(Definition(cfg)); err != nil {
		return err
	}

	activities := []api.ActivityDefinition{
		{Name: ActivityReserveItems, Fn: ReserveItems},
		{Name: ActivityCreateShipment, Fn: CreateShipment},
		{Name: ActivityCancelOrder, Fn: CancelOrder},
		{Name: ActivityPaymentConfirmed, Fn: PaymentConfirmed},
	}
	for _, def := range activities {
		if err := e.RegisterActivity(def); err != nil {
			return err
		}
	}
	return nil
}
