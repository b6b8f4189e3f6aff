// Package diag serves a loopback-only HTTP surface exposing the agent's
// internal state for field debugging: last poll result, backoff level,
// the pending-call table and outbox depth.
package diag

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"callagent/internal/auth"
	"callagent/internal/backoff"
	"callagent/internal/config"
	"callagent/internal/engine"
	"callagent/internal/outbox"
	"callagent/internal/resolve"
	"callagent/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg     config.DiagConfig
	eng     *engine.Engine
	machine *resolve.Machine
	flusher *outbox.Flusher
	backoff *backoff.Controller
	tokens  *auth.Coordinator
	log     *slog.Logger

	srv *http.Server
}

func New(cfg config.DiagConfig, eng *engine.Engine, machine *resolve.Machine, flusher *outbox.Flusher, bo *backoff.Controller, tokens *auth.Coordinator, log *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		eng:     eng,
		machine: machine,
		flusher: flusher,
		backoff: bo,
		tokens:  tokens,
		log:     log,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/pending", s.getPending)
		v1.GET("/outbox", s.getOutbox)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.eng.Status()
	c.JSON(http.StatusOK, gin.H{
		"last_poll":        st,
		"backoff_level":    s.backoff.Level(),
		"pending_calls":    s.machine.PendingCount(),
		"refresh_failures": s.tokens.FailureCount(),
	})
}

func (s *Server) getPending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.machine.Snapshot()})
}

func (s *Server) getOutbox(c *gin.Context) {
	stats, err := s.flusher.Stats(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("outbox stats failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"per_kind":  stats.PerKind,
		"total":     stats.Total,
		"oldest_ms": stats.OldestAge.Milliseconds(),
	})
}

// Start begins serving and returns immediately. Server failure cancels
// nothing; the diag surface is best-effort.
func (s *Server) Start() {
	go func() {
		s.log.Info("diag server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("diag server failed", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
