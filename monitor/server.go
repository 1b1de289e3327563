package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/najoast/zkernel/core"
)

// StatsSource provides the health snapshot served on the health path.
type StatsSource interface {
	Stats() core.ContextStats
}

// ServerConfig configures the monitor HTTP server.
type ServerConfig struct {
	Addr        string
	MetricsPath string
	HealthPath  string
	Development bool
}

// Server serves /metrics and /health for one kernel context.
type Server struct {
	cfg     ServerConfig
	metrics *Metrics
	stats   StatsSource
	logger  *zap.Logger

	router *gin.Engine

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan error
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg ServerConfig, metrics *Metrics, stats StatsSource, logger *zap.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		metrics: metrics,
		stats:   stats,
		logger:  logger.Named("monitor"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
		Registry: metrics.Registry(),
	})))
	router.GET(cfg.HealthPath, s.health)
	s.router = router

	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	stats := s.stats.Stats()

	status := "ok"
	code := http.StatusOK
	switch {
	case stats.Terminated:
		status = "terminated"
		code = http.StatusServiceUnavailable
	case stats.Terminating:
		status = "terminating"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"context": stats,
	})
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("monitor server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan error, 1)

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(s.server, s.done)

	s.logger.Info("monitor server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("monitor serve: %w", err)
	}

	s.logger.Info("monitor server stopped")
	return nil
}
