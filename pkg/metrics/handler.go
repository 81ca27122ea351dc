// Package metrics exposes GID cache, dispatcher, reclaimer and event bus
// statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gidd"

// MetricHandler produces one family of metrics from a live source.
type MetricHandler interface {
	Name() string
	Describe(ch chan<- *prometheus.Desc)
	Collect(ch chan<- prometheus.Metric) error
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}
