// Package server implements the HTTP front door: starting orders, querying
// their status and accepting payment confirmations for the relay queue.
package server

import (
	"log/slog"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/ordena/ordena/internal/relayqueue"
	"github.com/ordena/ordena/pkg/api"
)

// Server implements the HTTP API for the order service.
type Server struct {
	engine api.Engine
	queue  relayqueue.Queue
	logger *slog.Logger
}

// ErrorResponse is the JSON shape for error replies.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// NewServer creates a new HTTP API server.
func NewServer(eng api.Engine, queue relayqueue.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, queue: queue, logger: logger}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints.
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)

	router.POST("/orders", s.startOrder)
	router.GET("/orders", s.listOrders)
	router.GET("/orders/:instanceID", s.getOrder)
	router.GET("/orders/:instanceID/history", s.getOrderHistory)

	router.GET("/confirm-payment/:instanceID/:paymentMade", s.confirmPayment)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
