package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	api "github.com/GriffinCanCode/AgentOS/cardruntime/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/rpc"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	service  *host.Service
	engine   *sandbox.Engine // nil in remote mode
	client   *rpc.Client     // nil in in-process mode
	registry *registry.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// Options overrides pieces NewServer would otherwise build
type Options struct {
	Logger     *logging.Logger
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// SandboxConfig converts the environment sandbox section
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	out := sandbox.DefaultConfig()
	if cfg.MaxMemoryMB > 0 {
		out.MaxMemoryBytes = int64(cfg.MaxMemoryMB) << 20
	}
	if cfg.MaxCallStackDepth > 0 {
		out.MaxCallStackDepth = cfg.MaxCallStackDepth
	}
	if cfg.LoadTimeout > 0 {
		out.LoadTimeout = cfg.LoadTimeout
	}
	if cfg.RenderTimeout > 0 {
		out.RenderTimeout = cfg.RenderTimeout
	}
	if cfg.EventTimeout > 0 {
		out.EventTimeout = cfg.EventTimeout
	}
	out.EnableConsole = cfg.Console
	return out
}

func newLogger(cfg *config.Config, opts Options) *logging.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	logger, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("Invalid logging config, using defaults", zap.Error(err))
	}
	return logger
}

func newMetrics(opts Options) (*monitoring.Metrics, prometheus.Gatherer) {
	if opts.Registerer != nil && opts.Gatherer != nil {
		return monitoring.NewMetrics(opts.Registerer), opts.Gatherer
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return monitoring.NewMetrics(reg), reg
}

func newRouter(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}

// NewServer creates the host API server. In remote mode it dials the
// worker before returning.
func NewServer(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts)
	logger.Info("Initializing card runtime server",
		zap.String("addr", cfg.Server.Address()),
		zap.String("runtime_mode", cfg.Runtime.Mode),
	)

	metrics, gatherer := newMetrics(opts)

	s := &Server{
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	var runtime host.Runtime
	switch cfg.Runtime.Mode {
	case config.RuntimeRemote:
		conn, err := ws.Dial(ctx, cfg.Runtime.WorkerURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to runtime worker: %w", err)
		}
		s.client = rpc.NewClient(conn, logger.Component("rpc")).WithMetrics(metrics)
		runtime = s.client
		logger.Info("Connected to runtime worker", zap.String("url", cfg.Runtime.WorkerURL))
	default:
		s.engine = sandbox.NewEngine(SandboxConfig(cfg.Sandbox), logger.Component("sandbox")).WithMetrics(metrics)
		runtime = s.engine
	}

	store := session.NewStore(
		session.WithTimelineCap(cfg.Store.TimelineCap),
		session.WithQueueCap(cfg.Store.QueueCap),
		session.WithLogger(logger.Component("store")),
	).WithMetrics(metrics)
	dispatcher := router.NewRecordingDispatcher().WithLimit(cfg.Store.QueueCap)
	s.registry = registry.NewManager().WithMetrics(metrics)

	s.service = host.NewService(runtime, store, router.New(store, dispatcher, logger.Component("router")), s.registry,
		host.Config{
			BreakerThreshold: cfg.Breaker.Threshold,
			BreakerCooldown:  cfg.Breaker.Cooldown,
			InjectTimeout:    cfg.Breaker.InjectTimeout,
		}, logger.Component("host")).WithMetrics(metrics)

	if cfg.Server.CardsDir != "" {
		s.seedCards(cfg.Server.CardsDir)
	}

	s.router = newRouter(cfg, logger, metrics, gatherer)
	api.NewHandlers(s.service, dispatcher, logger.Component("api")).Register(s.router)

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) seedCards(dir string) {
	ids, err := bundle.SeedCards(os.DirFS(dir), bundle.DefaultCardsPattern, s.registry, s.logger.Component("bundle"))
	if err != nil {
		s.logger.Warn("Some runtime cards failed to load", zap.String("dir", dir), zap.Error(err))
	}
	s.logger.Info("Seeded runtime cards", zap.String("dir", dir), zap.Strings("cards", ids))
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Service returns the host service
func (s *Server) Service() *host.Service {
	return s.service
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	return serve(ctx, s.config.Server, s.router, s.logger)
}

// Close releases the runtime and flushes logs
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.service.Close()

	var err error
	if s.engine != nil {
		s.engine.Close()
	}
	if s.client != nil {
		if cerr := s.client.Close(); cerr != nil {
			err = fmt.Errorf("failed to close runtime client: %w", cerr)
		}
	}
	_ = s.logger.Sync()
	return err
}

func serve(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *logging.Logger) error {
	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Address(), err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", ln.Addr().String()),
			zap.Int("max_connections", cfg.MaxConnections))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
