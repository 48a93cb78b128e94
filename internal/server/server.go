// Package server is the launcher's local control API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New builds the control API on addr. Metrics are served from gatherer.
func New(addr, secret string, ctl Controller, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RequestID(), AccessLog(logger), Recovery(logger), Guard(secret))
	registerRoutes(router, NewHandler(ctl, logger), gatherer)

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func registerRoutes(r *gin.Engine, h *Handler, gatherer prometheus.Gatherer) {
	r.GET("/ping", h.Ping)
	r.GET("/status", h.Status)
	r.GET("/peers", h.Peers)
	r.POST("/discover", h.Discover)
	r.POST("/launch", h.Launch)
	r.POST("/runtime", h.SelectRuntime)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Addr is the listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("control API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
