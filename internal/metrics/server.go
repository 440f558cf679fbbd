// Package metrics serves the prometheus scrape endpoint over a
// dedicated registry so only the probe's own collectors appear.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server exposes /metrics on its own listener.
type Server struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// NewServer creates a Server with a fresh registry carrying the
// standard Go runtime collectors.
func NewServer(listen string) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		registry: registry,
		srv: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Registry returns the registry for collectors to register against.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		log.WithField("listen", s.srv.Addr).Info("Metrics server started")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
}

// Shutdown stops the listener, waiting briefly for in-flight scrapes.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.WithError(err).Debug("Metrics server shutdown incomplete")
	}
}
