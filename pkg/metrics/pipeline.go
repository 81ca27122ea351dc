package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/veesix-networks/gidd/pkg/events"
	"github.com/veesix-networks/gidd/pkg/gidcache"
	"github.com/veesix-networks/gidd/pkg/gidmgmt"
)

type DispatcherHandler struct {
	d         *gidmgmt.Dispatcher
	depth     *prometheus.Desc
	capacity  *prometheus.Desc
	enqueued  *prometheus.Desc
	processed *prometheus.Desc
	dropped   *prometheus.Desc
}

func NewDispatcherHandler(d *gidmgmt.Dispatcher) *DispatcherHandler {
	return &DispatcherHandler{
		d:         d,
		depth:     desc("dispatcher", "queue_depth", "Work items waiting for the update worker."),
		capacity:  desc("dispatcher", "queue_capacity", "Capacity of the update queue."),
		enqueued:  desc("dispatcher", "enqueued_total", "Work items accepted by the update queue."),
		processed: desc("dispatcher", "processed_total", "Work items executed by the update worker."),
		dropped:   desc("dispatcher", "dropped_total", "Work items dropped because the queue was full or stopped."),
	}
}

func (h *DispatcherHandler) Name() string {
	return "dispatcher"
}

func (h *DispatcherHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.depth
	ch <- h.capacity
	ch <- h.enqueued
	ch <- h.processed
	ch <- h.dropped
}

func (h *DispatcherHandler) Collect(ch chan<- prometheus.Metric) error {
	st := h.d.Stats()
	ch <- prometheus.MustNewConstMetric(h.depth, prometheus.GaugeValue, float64(st.QueueLen))
	ch <- prometheus.MustNewConstMetric(h.capacity, prometheus.GaugeValue, float64(st.QueueCap))
	ch <- prometheus.MustNewConstMetric(h.enqueued, prometheus.CounterValue, float64(st.Enqueued))
	ch <- prometheus.MustNewConstMetric(h.processed, prometheus.CounterValue, float64(st.Processed))
	ch <- prometheus.MustNewConstMetric(h.dropped, prometheus.CounterValue, float64(st.Dropped))
	return nil
}

type ReclaimHandler struct {
	r         *gidcache.Reclaimer
	deferred  *prometheus.Desc
	fallbacks *prometheus.Desc
	reclaimed *prometheus.Desc
	pending   *prometheus.Desc
}

func NewReclaimHandler(r *gidcache.Reclaimer) *ReclaimHandler {
	return &ReclaimHandler{
		r:         r,
		deferred:  desc("reclaim", "deferred_total", "Callbacks queued for release after a grace period."),
		fallbacks: desc("reclaim", "inline_total", "Callbacks run inline because the reclaim queue was full."),
		reclaimed: desc("reclaim", "reclaimed_total", "Callbacks run after a grace period."),
		pending:   desc("reclaim", "pending", "Callbacks waiting for a grace period."),
	}
}

func (h *ReclaimHandler) Name() string {
	return "reclaim"
}

func (h *ReclaimHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.deferred
	ch <- h.fallbacks
	ch <- h.reclaimed
	ch <- h.pending
}

func (h *ReclaimHandler) Collect(ch chan<- prometheus.Metric) error {
	st := h.r.Stats()
	ch <- prometheus.MustNewConstMetric(h.deferred, prometheus.CounterValue, float64(st.Deferred))
	ch <- prometheus.MustNewConstMetric(h.fallbacks, prometheus.CounterValue, float64(st.Fallbacks))
	ch <- prometheus.MustNewConstMetric(h.reclaimed, prometheus.CounterValue, float64(st.Reclaimed))
	ch <- prometheus.MustNewConstMetric(h.pending, prometheus.GaugeValue, float64(st.Pending))
	return nil
}

type BusHandler struct {
	bus       events.Bus
	published *prometheus.Desc
	delivered *prometheus.Desc
	dropped   *prometheus.Desc
}

func NewBusHandler(bus events.Bus) *BusHandler {
	return &BusHandler{
		bus:       bus,
		published: desc("events", "published_total", "Events accepted by the bus."),
		delivered: desc("events", "delivered_total", "Events handed to subscribers."),
		dropped:   desc("events", "dropped_total", "Events dropped because the bus queue was full."),
	}
}

func (h *BusHandler) Name() string {
	return "events"
}

func (h *BusHandler) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.published
	ch <- h.delivered
	ch <- h.dropped
}

func (h *BusHandler) Collect(ch chan<- prometheus.Metric) error {
	st := h.bus.Stats()
	ch <- prometheus.MustNewConstMetric(h.published, prometheus.CounterValue, float64(st.Published))
	ch <- prometheus.MustNewConstMetric(h.delivered, prometheus.CounterValue, float64(st.Delivered))
	ch <- prometheus.MustNewConstMetric(h.dropped, prometheus.CounterValue, float64(st.Dropped))
	return nil
}
