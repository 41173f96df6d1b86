// Package api serves the processed station dataset over a read-only REST
// API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/station-data-etl/internal/catalog"
	"github.com/couchcryptid/station-data-etl/internal/domain"
	"github.com/gin-gonic/gin"
)

// Store is the read side of the processed dataset.
type Store interface {
	Stations() []catalog.StationInfo
	Series(station string) (domain.Series, bool)
	Outcome(station string) (domain.StationOutcome, bool)
	Geo() []domain.StationGeoInfo
}

// Server bundles the router and its dependencies.
type Server struct {
	addr    string
	store   Store
	vars    domain.VariableCatalog
	opts    domain.SummaryOptions
	engine  *gin.Engine
	logger  *slog.Logger
	timeout time.Duration
}

// New constructs a server with routes and middleware.
func New(addr string, store Store, vars domain.VariableCatalog, opts domain.SummaryOptions, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	// Variable names such as "Solar_R_W/m^2" travel percent-encoded.
	engine.UseRawPath = true
	engine.UnescapePathValues = true
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		addr:    addr,
		store:   store,
		vars:    vars,
		opts:    opts,
		engine:  engine,
		logger:  logger,
		timeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/variables", s.handleListVariables)
		v1.GET("/geo", s.handleListGeo)
		v1.GET("/stations", s.handleListStations)
		v1.GET("/stations/:station", s.handleGetStation)
		v1.GET("/stations/:station/readings", s.handleReadings)
		v1.GET("/stations/:station/daily/:variable", s.handleDaily)
		v1.GET("/stations/:station/summary", s.handleSummary)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
