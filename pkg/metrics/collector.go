package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/veesix-networks/gidd/pkg/logger"
)

// Collector fans Describe and Collect out to its handlers.
type Collector struct {
	logger   *slog.Logger
	handlers []MetricHandler
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(handlers ...MetricHandler) *Collector {
	return &Collector{
		logger:   logger.Get(logger.Metrics),
		handlers: handlers,
	}
}

func (c *Collector) Handlers() int {
	return len(c.handlers)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, handler := range c.handlers {
		handler.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.logger.Debug("Collecting metrics")
	for _, handler := range c.handlers {
		if err := handler.Collect(ch); err != nil {
			c.logger.Error("Failed to collect metrics", "handler", handler.Name(), "error", err)
		}
	}
}
