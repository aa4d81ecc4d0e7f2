// Package metrics exposes dispatch observations as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const (
	outcomeDelivered = "delivered"
	outcomePermanent = "failed_permanent"
	outcomeTransient = "failed_transient"
)

// Collector implements fanout.Recorder.
type Collector struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	batches  *prometheus.HistogramVec
}

// NewCollector registers its series on a private registry together with the
// Go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_dispatch_attempts_total",
			Help: "Delivery attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		batches: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "push_dispatch_batch_duration_seconds",
			Help:    "Wall time of a single-platform batch, from first attempt to barrier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
	}
}

func (c *Collector) ObserveAttempt(platform dispatch.Platform, outcome dispatch.Outcome) {
	label := outcomeDelivered
	switch {
	case outcome.Delivered():
	case outcome.Permanent():
		label = outcomePermanent
	default:
		label = outcomeTransient
	}
	c.attempts.WithLabelValues(string(platform), label).Inc()
}

func (c *Collector) ObserveBatch(platform dispatch.Platform, _ int, elapsed time.Duration) {
	c.batches.WithLabelValues(string(platform)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
