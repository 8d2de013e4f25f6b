package ui

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"selinf/app"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/config"
	"selinf/ports"
)

// maxRuns bounds the completed runs kept in memory; the oldest is dropped
// first
const maxRuns = 100

// Server exposes replicate runs, their reports and the process metrics over HTTP
type Server struct {
	router   *gin.Engine
	config   *config.Config
	registry *prometheus.Registry
	metrics  *app.Metrics
	sink     ports.ResultSinkPort // optional, receives every finished run
	logger   *internal.Logger

	runsMutex sync.RWMutex
	runs      map[core.RunID]*selection.ReplicateSummary
	order     []core.RunID
}

// NewServer creates a server whose runs start from cfg. sink may be nil.
func NewServer(cfg *config.Config, sink ports.ResultSinkPort, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		config:   cfg,
		registry: registry,
		metrics:  app.NewMetrics(registry),
		sink:     sink,
		logger:   logger.With("http"),
		runs:     make(map[core.RunID]*selection.ReplicateSummary),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	api.GET("/runs", s.handleListRuns)
	api.POST("/runs", s.handleCreateRun)
	api.GET("/runs/:id", s.handleGetRun)

	s.router.GET("/runs/:id/report", s.handleRunReport)
}

// Handler returns the router for embedding or tests
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

func (s *Server) store(summary *selection.ReplicateSummary) {
	s.runsMutex.Lock()
	defer s.runsMutex.Unlock()
	if _, ok := s.runs[summary.RunID]; !ok {
		s.order = append(s.order, summary.RunID)
	}
	s.runs[summary.RunID] = summary
	for len(s.order) > maxRuns {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) lookup(id string) (*selection.ReplicateSummary, bool) {
	runID, err := core.ParseRunID(id)
	if err != nil {
		return nil, false
	}
	s.runsMutex.RLock()
	defer s.runsMutex.RUnlock()
	summary, ok := s.runs[runID]
	return summary, ok
}
