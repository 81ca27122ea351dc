package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/veesix-networks/gidd/pkg/gidcache"
)

// TableSource lists attached devices and their caches.
type TableSource interface {
	Devices() []string
	Manager(name string) *gidcache.Manager
}

type GIDTableHandler struct {
	src      TableSource
	size     *prometheus.Desc
	entries  *prometheus.Desc
	writes   *prometheus.Desc
	failures *prometheus.Desc
	active   *prometheus.Desc
}

func NewGIDTableHandler(src TableSource) *GIDTableHandler {
	return &GIDTableHandler{
		src:      src,
		size:     desc("gid_table", "size", "Number of slots in the GID table.", "device", "port"),
		entries:  desc("gid_table", "entries", "Number of occupied GID table slots.", "device", "port"),
		writes:   desc("gid_table", "writes_total", "GID table slot writes.", "device", "port"),
		failures: desc("gid_table", "program_failures_total", "Failed hardware programming attempts.", "device", "port"),
		active:   desc("gid_table", "active", "Whether the GID table accepts updates.", "device", "port"),
	}
}

func (h *GIDTableHandler) Name() string {
	return "gid_table"
}

func (h *GIDTableHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.size
	ch <- h.entries
	ch <- h.writes
	ch <- h.failures
	ch <- h.active
}

func (h *GIDTableHandler) Collect(ch chan<- prometheus.Metric) error {
	for _, name := range h.src.Devices() {
		mgr := h.src.Manager(name)
		if mgr == nil {
			continue
		}
		for port := 1; port <= mgr.Ports(); port++ {
			st, err := mgr.Stats(port)
			if err != nil {
				return err
			}
			labels := []string{name, strconv.Itoa(port)}
			active := 0.0
			if mgr.IsActive(port) {
				active = 1
			}
			ch <- prometheus.MustNewConstMetric(h.size, prometheus.GaugeValue, float64(st.Size), labels...)
			ch <- prometheus.MustNewConstMetric(h.entries, prometheus.GaugeValue, float64(st.Used), labels...)
			ch <- prometheus.MustNewConstMetric(h.writes, prometheus.CounterValue, float64(st.Writes), labels...)
			ch <- prometheus.MustNewConstMetric(h.failures, prometheus.CounterValue, float64(st.ProgramFailures), labels...)
			ch <- prometheus.MustNewConstMetric(h.active, prometheus.GaugeValue, active, labels...)
		}
	}
	return nil
}
