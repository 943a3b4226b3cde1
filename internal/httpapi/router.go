// Package httpapi is the frontend-facing HTTP surface: suggestion turns,
// confirmations, rule management and the per-session event stream.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/metrics"
	"github.com/HendryAvila/plotline/internal/notify"
)

// Config wires the router. Engine is required.
type Config struct {
	Engine  *engine.Engine
	Hub     *notify.Hub
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// RulesPath is what POST /v1/rules/reload reads; empty means the
	// built-in catalogue.
	RulesPath string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(cfg Config) *gin.Engine {
	log := logging.OrNop(cfg.Logger).Named("http")
	h := &handler{eng: cfg.Engine, hub: cfg.Hub, log: log, rulesPath: cfg.RulesPath}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/rules", h.listRules)
		v1.POST("/rules/reload", h.reloadRules)

		s := v1.Group("/sessions/:session")
		s.GET("", h.session)
		s.DELETE("", h.forget)
		s.POST("/project", h.bind)
		s.GET("/events", h.events)
		s.GET("/suggestions", h.offers)
		s.POST("/suggestions", h.suggest)
		s.GET("/suggestions/:id", h.status)
		s.POST("/suggestions/:id/confirm", h.confirm)
		s.POST("/suggestions/:id/cancel", h.cancel)
	}
	return r
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
	log *logging.Logger
}

func NewServer(addr string, cfg Config) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logging.OrNop(cfg.Logger).Named("http"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
