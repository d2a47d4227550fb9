package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/psantana5/loopd/pkg/daemon"
)

// Collector exports daemon lifecycle events as Prometheus metrics
type Collector struct {
	events            *prometheus.CounterVec
	iterations        prometheus.Counter
	iterationDuration prometheus.Histogram
	memory            prometheus.Gauge
	running           prometheus.Gauge
	shutdownRequested prometheus.Gauge
}

// NewCollector creates the daemon metrics and registers them on reg
func NewCollector(reg prometheus.Registerer, daemonName string) *Collector {
	labels := prometheus.Labels{"daemon": daemonName}
	c := &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "loopd_events_total",
				Help:        "Lifecycle events emitted by the daemon loop",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "loopd_iterations_total",
			Help:        "Completed loop iterations",
			ConstLabels: labels,
		}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "loopd_iteration_duration_seconds",
			Help:        "Wall-clock duration of loop iterations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loopd_memory_bytes",
			Help:        "Process memory usage at the last event",
			ConstLabels: labels,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loopd_running",
			Help:        "1 while the loop is between begin and end",
			ConstLabels: labels,
		}),
		shutdownRequested: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loopd_shutdown_requested",
			Help:        "1 once a shutdown has been requested",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(c.events, c.iterations, c.iterationDuration, c.memory, c.running, c.shutdownRequested)
	return c
}

// Notify implements daemon.Subscriber
func (c *Collector) Notify(e daemon.Event) {
	c.events.WithLabelValues(e.Name).Inc()
	c.memory.Set(float64(e.Memory))

	switch e.Kind {
	case daemon.EventLoopBegin:
		c.running.Set(1)
	case daemon.EventLoopIteration:
		c.iterations.Inc()
		c.iterationDuration.Observe(e.ExecutionTime.Seconds())
	case daemon.EventLoopEnd:
		c.running.Set(0)
	}

	if ctrl := e.Controller(); ctrl != nil && ctrl.IsShutdownRequested() {
		c.shutdownRequested.Set(1)
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteText writes every metric family of g in the Prometheus text format
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
