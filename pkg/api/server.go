// Package api serves the operational HTTP surface for continuous mode:
// a liveness probe, a status snapshot, and Prometheus metrics. It carries
// no entity data and accepts no writes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/database"
	"github.com/spacwatch/spacwatch/pkg/metrics"
	"github.com/spacwatch/spacwatch/pkg/models"
	"github.com/spacwatch/spacwatch/pkg/review"
	"github.com/spacwatch/spacwatch/pkg/store"
	"github.com/spacwatch/spacwatch/pkg/version"
)

// healthStaleAfter is how old the scheduler heartbeat may be before the
// probe reports it degraded. Two tick intervals plus slack.
const healthStaleAfter = 5 * time.Minute

// AgeReporter exposes per-task time since last run.
type AgeReporter interface {
	LastRunAges(ctx context.Context) map[string]time.Duration
}

// EntityLister exposes the active portfolio.
type EntityLister interface {
	ListActive(ctx context.Context) ([]*models.Spac, error)
}

// Server is the read-only operational endpoint.
type Server struct {
	db       *database.Client
	store    *store.Store
	queues   *review.Queues
	ages     AgeReporter  // nil omits task ages
	entities EntityLister // nil omits the portfolio count
	cfg      *config.APIConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a Server. ages and entities may be nil in one-shot
// invocations that still want the probe up.
func NewServer(db *database.Client, st *store.Store, queues *review.Queues, ages AgeReporter, entities EntityLister, cfg *config.APIConfig) *Server {
	return &Server{
		db:       db,
		store:    st,
		queues:   queues,
		ages:     ages,
		entities: entities,
		cfg:      cfg,
		logger:   slog.Default().With("component", "api"),
		now:      time.Now,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Health)
	r.GET("/api/v1/status", s.Status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("API listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// Health reports database reachability and the scheduler heartbeat age.
// The probe fails only on database loss; a stale heartbeat is reported but
// keeps the process alive so the operator can inspect it.
func (s *Server) Health(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"version": version.Full(),
			"error":   err.Error(),
		})
		return
	}

	resp := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}
	var beat time.Time
	switch err := s.store.Get(ctx, store.NSHealth, "scheduler", &beat); {
	case err == nil:
		age := s.now().Sub(beat)
		resp["scheduler_heartbeat_age"] = age.Round(time.Second).String()
		if age > healthStaleAfter {
			resp["status"] = "degraded"
		}
	case errors.Is(err, store.ErrNotFound):
		resp["scheduler_heartbeat_age"] = "never"
	default:
		s.logger.Warn("Heartbeat lookup failed", "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns the operational snapshot: task ages, review queue depth,
// and portfolio size. The gauges are refreshed as a side effect so scrapes
// and probes agree.
func (s *Server) Status(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"version": version.Full()}

	if s.ages != nil {
		ages := make(map[string]string)
		for name, age := range s.ages.LastRunAges(ctx) {
			ages[name] = age.Round(time.Second).String()
		}
		resp["task_ages"] = ages
	}

	depth := 0
	queue, err := s.queues.Active(ctx)
	switch {
	case err == nil:
		if depth, err = s.queues.PendingCount(ctx, queue.ID); err != nil {
			s.logger.Warn("Queue depth lookup failed", "error", err)
			depth = 0
		}
	case errors.Is(err, review.ErrNoActiveQueue):
	default:
		s.logger.Warn("Active queue lookup failed", "error", err)
	}
	resp["review_queue_depth"] = depth
	metrics.QueueDepth.Set(float64(depth))

	if s.entities != nil {
		if active, err := s.entities.ListActive(ctx); err == nil {
			resp["tracked_entities"] = len(active)
			metrics.TrackedEntities.Set(float64(len(active)))
		} else {
			s.logger.Warn("Portfolio lookup failed", "error", err)
		}
	}

	c.JSON(http.StatusOK, resp)
}
