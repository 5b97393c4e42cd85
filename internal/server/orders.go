package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/orderflow"
	"github.com/ordena/ordena/pkg/worker"
)

var (
	ErrInvalidJSON   = errors.New("invalid request body")
	ErrStartOrder    = errors.New("failed to start order")
	ErrListOrders    = errors.New("failed to list orders")
	ErrGetOrder      = errors.New("failed to get order")
	ErrQueuePayment  = errors.New("failed to queue payment confirmation")
	ErrOrderNotFound = errors.New("order not found")
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Number int64    `json:"number"`
	Items  []string `json:"items"`
}

// OrderStartedResponse acknowledges an accepted order.
type OrderStartedResponse struct {
	InstanceID     string `json:"instance_id"`
	StatusQueryURI string `json:"status_query_uri"`
}

// OrderStatusResponse describes one order instance. Status is the
// business-level order status: Running, Shipped, Cancelled,
// ItemsUnavailable or Failed. Message is only present once the order has
// completed.
type OrderStatusResponse struct {
	InstanceID  string     `json:"instance_id"`
	Workflow    string     `json:"workflow"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OrderListResponse is the body of GET /orders.
type OrderListResponse struct {
	Orders []OrderStatusResponse `json:"orders"`
	Count  int                   `json:"count"`
}

// HistoryEventResponse is the JSON shape of one history record.
type HistoryEventResponse struct {
	Sequence int64      `json:"sequence"`
	Kind     string     `json:"kind"`
	At       time.Time  `json:"at"`
	Name     string     `json:"name,omitempty"`
	TaskID   int64      `json:"task_id,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Payload  any        `json:"payload,omitempty"`
}

func (s *Server) startOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Number <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  "order number must be positive",
			Status: http.StatusBadRequest,
		})
		return
	}

	inst, err := s.engine.Start(c.Request.Context(), orderflow.WorkflowName, orderflow.Order{
		Number: req.Number,
		Items:  req.Items,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrStartOrder, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusAccepted, OrderStartedResponse{
		InstanceID:     inst.ID,
		StatusQueryURI: "/orders/" + inst.ID,
	})
}

func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("instanceID")

	inst, err := s.engine.GetInstance(c.Request.Context(), id)
	if errors.Is(err, api.ErrInstanceNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", ErrOrderNotFound, id),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetOrder, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, orderStatus(inst))
}

func (s *Server) listOrders(c *gin.Context) {
	opts := api.InstanceListOptions{
		Workflow: c.Query("workflow"),
		Status:   api.Status(c.Query("status")),
	}

	instances, err := s.engine.ListInstances(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListOrders, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	orders := make([]OrderStatusResponse, 0, len(instances))
	for _, inst := range instances {
		orders = append(orders, orderStatus(inst))
	}
	c.JSON(http.StatusOK, OrderListResponse{Orders: orders, Count: len(orders)})
}

func (s *Server) getOrderHistory(c *gin.Context) {
	id := c.Param("instanceID")

	hist, err := s.engine.History(c.Request.Context(), id)
	if errors.Is(err, api.ErrInstanceNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", ErrOrderNotFound, id),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetOrder, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	events := make([]HistoryEventResponse, 0, len(hist))
	for _, ev := range hist {
		resp := HistoryEventResponse{
			Sequence: ev.Sequence,
			Kind:     string(ev.Kind),
			At:       ev.At,
			Name:     ev.Name,
			TaskID:   ev.TaskID,
			Payload:  ev.Payload,
		}
		if !ev.Deadline.IsZero() {
			deadline := ev.Deadline
			resp.Deadline = &deadline
		}
		events = append(events, resp)
	}
	c.JSON(http.StatusOK, gin.H{"instance_id": id, "events": events})
}

// confirmPayment is the payment provider callback: a GET carrying the
// instance id and the payment outcome in the path. The confirmation goes
// through the relay queue, not straight into the engine, so the reply is
// an acknowledgement of receipt only.
func (s *Server) confirmPayment(c *gin.Context) {
	id := c.Param("instanceID")

	paymentMade, err := strconv.ParseBool(c.Param("paymentMade"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:  fmt.Sprintf("invalid paymentMade value %q", c.Param("paymentMade")),
			Status: http.StatusBadRequest,
		})
		return
	}

	msg := worker.Message{InstanceID: id, PaymentMade: paymentMade}
	if err := worker.Enqueue(c.Request.Context(), s.queue, msg); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrQueuePayment, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"instance_id": id,
		"queued":      true,
	})
}

// orderStatus maps an engine instance onto the business-level view: the
// engine only knows RUNNING/COMPLETED/FAILED, the order outcome lives in
// the workflow output.
func orderStatus(inst *api.OrchestrationInstance) OrderStatusResponse {
	resp := OrderStatusResponse{
		InstanceID: inst.ID,
		Workflow:   inst.Workflow,
		Status:     businessStatus(inst),
		StartedAt:  inst.StartedAt,
	}
	if !inst.CompletedAt.IsZero() {
		completed := inst.CompletedAt
		resp.CompletedAt = &completed
	}
	if inst.Err != nil {
		resp.Error = inst.Err.Error()
	}
	if result, ok := inst.Output.(orderflow.Result); ok {
		resp.Message = result.Message
	}
	return resp
}

// businessStatus collapses the engine status and the workflow outcome into
// the five-valued order status.
func businessStatus(inst *api.OrchestrationInstance) string {
	switch inst.Status {
	case api.StatusRunning:
		return "Running"
	case api.StatusFailed:
		return "Failed"
	}
	if result, ok := inst.Output.(orderflow.Result); ok {
		return string(result.Outcome)
	}
	return string(inst.Status)
}
