package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of a replication coordinator.
// All methods are safe to call on a nil Collector.
type Collector struct {
	gatherer prometheus.Gatherer

	BatchesSent     prometheus.Counter
	BytesSent       prometheus.Counter
	BatchesReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	RecordsSent     *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	StarvedTicks    prometheus.Counter
	Objects         *prometheus.GaugeVec
	CorrectionError prometheus.Histogram
}

// NewCollector registers the replication metrics against reg, defaulting to
// the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physync_batches_sent_total",
			Help: "Outgoing batches produced by Tick.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physync_bytes_sent_total",
			Help: "Encoded size of outgoing batches.",
		}),
		BatchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physync_batches_received_total",
			Help: "Incoming batches decoded successfully.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physync_bytes_received_total",
			Help: "Size of incoming batches, including dropped ones.",
		}),
		RecordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physync_records_sent_total",
			Help: "Object records sent, labeled by the change that triggered them.",
		}, []string{"reason"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physync_dropped_total",
			Help: "Incoming data discarded, labeled by cause.",
		}, []string{"cause"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physync_commands_total",
			Help: "Interaction commands, labeled by direction and kind.",
		}, []string{"direction", "kind"}),
		StarvedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physync_starved_ticks_total",
			Help: "Object ticks spent extrapolating past the newest sample.",
		}),
		Objects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "physync_objects",
			Help: "Registered objects by ownership.",
		}, []string{"ownership"}),
		CorrectionError: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "physync_correction_error",
			Help:    "Position error measured when a corrective sample is applied.",
			Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}

	for name, col := range map[string]prometheus.Collector{
		"physync_batches_sent_total":     c.BatchesSent,
		"physync_bytes_sent_total":       c.BytesSent,
		"physync_batches_received_total": c.BatchesReceived,
		"physync_bytes_received_total":   c.BytesReceived,
		"physync_records_sent_total":     c.RecordsSent,
		"physync_dropped_total":          c.Dropped,
		"physync_commands_total":         c.Commands,
		"physync_starved_ticks_total":    c.StarvedTicks,
		"physync_objects":                c.Objects,
		"physync_correction_error":       c.CorrectionError,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return c, nil
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) BatchSent(bytes int) {
	if c == nil {
		return
	}
	c.BatchesSent.Inc()
	c.BytesSent.Add(float64(bytes))
}

func (c *Collector) BatchReceived(bytes int, ok bool) {
	if c == nil {
		return
	}
	c.BytesReceived.Add(float64(bytes))
	if ok {
		c.BatchesReceived.Inc()
	}
}

func (c *Collector) RecordSent(reason string) {
	if c == nil {
		return
	}
	c.RecordsSent.WithLabelValues(reason).Inc()
}

func (c *Collector) Drop(cause string) {
	if c == nil {
		return
	}
	c.Dropped.WithLabelValues(cause).Inc()
}

func (c *Collector) Command(direction, kind string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(direction, kind).Inc()
}

func (c *Collector) Starved() {
	if c == nil {
		return
	}
	c.StarvedTicks.Inc()
}

func (c *Collector) SetObjects(local, remote int) {
	if c == nil {
		return
	}
	c.Objects.WithLabelValues("local").Set(float64(local))
	c.Objects.WithLabelValues("remote").Set(float64(remote))
}

func (c *Collector) ObserveCorrection(err float64) {
	if c == nil {
		return
	}
	c.CorrectionError.Observe(err)
}
