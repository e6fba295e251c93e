package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/ws"
)

// Worker hosts only the sandbox engine behind /worker
type Worker struct {
	router *gin.Engine
	engine *sandbox.Engine
	logger *logging.Logger
	config *config.Config
}

// NewWorker creates a runtime worker server
func NewWorker(cfg *config.Config, opts Options) *Worker {
	logger := newLogger(cfg, opts)
	metrics, gatherer := newMetrics(opts)

	engine := sandbox.NewEngine(SandboxConfig(cfg.Sandbox), logger.Component("sandbox")).WithMetrics(metrics)
	router := newRouter(cfg, logger, metrics, gatherer)
	router.GET("/worker", ws.NewHandler(engine, logger.Component("worker")).WithMetrics(metrics).HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		health := engine.Health(c.Request.Context())
		status := http.StatusOK
		if !health.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	logger.Info("Runtime worker initialized", zap.String("addr", cfg.Server.Address()))
	return &Worker{router: router, engine: engine, logger: logger, config: cfg}
}

// Handler exposes the router for tests and embedding
func (w *Worker) Handler() http.Handler {
	return w.router
}

// Run serves until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	return serve(ctx, w.config.Server, w.router, w.logger)
}

// Close disposes every session and flushes logs
func (w *Worker) Close() {
	w.engine.Close()
	_ = w.logger.Sync()
}
