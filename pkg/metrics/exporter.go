package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/gidd/pkg/component"
	"github.com/veesix-networks/gidd/pkg/logger"
)

// Exporter serves the collector on /metrics.
type Exporter struct {
	*component.Base
	logger    *slog.Logger
	addr      string
	collector prometheus.Collector

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

func NewExporter(addr string, collector prometheus.Collector) *Exporter {
	return &Exporter{
		Base:      component.NewBase("metrics"),
		logger:    logger.Get(logger.Metrics),
		addr:      addr,
		collector: collector,
	}
}

// Addr returns the bound listen address once started.
func (e *Exporter) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.addr
}

func (e *Exporter) Start(ctx context.Context) error {
	if err := e.StartContext(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(e.collector); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := e.server
	e.mu.Unlock()

	e.logger.Info("Prometheus HTTP server listening", "addr", ln.Addr().String())
	e.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("Prometheus HTTP server error", "error", err)
		}
	})
	return nil
}

func (e *Exporter) Stop(ctx context.Context) error {
	e.logger.Info("Stopping Prometheus exporter")

	e.mu.RLock()
	srv := e.server
	e.mu.RUnlock()

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}

	e.StopContext()
	return err
}
