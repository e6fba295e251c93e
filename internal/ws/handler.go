package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/rpc"
)

// Handler upgrades HTTP requests to WebSocket and serves a runtime worker on
// each connection. Connections share one backend; sessions created on a
// connection are disposed when it closes.
type Handler struct {
	backend  rpc.Backend
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket worker handler
func NewHandler(backend rpc.Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		backend: backend,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Workers are reached by trusted hosts, not browsers
			},
		},
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection handles WebSocket upgrade and serves frames until the
// peer disconnects
func (h *Handler) HandleConnection(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(raw)
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger.With(zap.String("conn_id", connID), zap.String("remote", c.ClientIP()))
	logger.Info("worker connection opened")

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	worker := rpc.NewWorker(h.backend, conn, logger).WithMetrics(h.metrics)
	if err := worker.Serve(c.Request.Context()); err != nil {
		logger.Warn("worker connection ended with error", zap.Error(err))
		return
	}
	logger.Info("worker connection closed")
}
