// Package api exposes the coordination engine over HTTP. Handlers are a
// thin shell around the services layer; no scheduling decision lives here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/observability"
	"github.com/concord-io/concord/pkg/repository"
	"github.com/concord-io/concord/pkg/services"
)

// Server hosts the engine's REST surface.
type Server struct {
	engine *gin.Engine
	logger observability.Logger
	http   *http.Server
}

// NewServer assembles the router over the given services.
func NewServer(
	addr string,
	logger observability.Logger,
	metrics observability.MetricsClient,
	scheduler services.Scheduler,
	detector services.ConflictDetector,
	negotiator services.NegotiationCoordinator,
	store repository.Store,
) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger, metrics))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := engine.Group("/api/v1")
	NewBookingAPI(scheduler).RegisterRoutes(v1)
	NewDependencyAPI(scheduler).RegisterRoutes(v1)
	NewConflictAPI(detector, store).RegisterRoutes(v1)
	NewNegotiationAPI(negotiator, store).RegisterRoutes(v1)

	return &Server{
		engine: engine,
		logger: logger.WithPrefix("api"),
		http:   &http.Server{Addr: addr, Handler: engine},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger records one structured line and a latency sample per request.
func requestLogger(logger observability.Logger, metrics observability.MetricsClient) gin.HandlerFunc {
	logger = logger.WithPrefix("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		if metrics != nil {
			metrics.RecordTimer("http_request_duration", latency, map[string]string{
				"method": c.Request.Method,
				"path":   c.FullPath(),
			})
		}
		logger.Debug("request completed", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": latency.String(),
		})
	}
}

// respondError maps engine errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		cycleErr models.CycleError
		selfErr  models.SelfDependencyError
		dupErr   models.DuplicateEdgeError
	)
	switch {
	case models.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case models.IsStaleState(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &cycleErr), errors.As(err, &selfErr), errors.As(err, &dupErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
