// Package metrics exposes poll loop counters and levels as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/gpio-mirror/internal/mirror"
)

const namespace = "gpio_mirror"

// Metrics holds the collectors for one daemon instance on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	polls        prometheus.Counter
	changes      prometheus.Counter
	errors       *prometheus.CounterVec
	switchLevel  prometheus.Gauge
	ledLevel     prometheus.Gauge
	pollInterval prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		polls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Successful switch-to-LED poll cycles",
		}),
		changes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "led_changes_total",
			Help:      "Polls where the LED level changed",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gpio_errors_total",
			Help:      "Failed GPIO operations during polling",
		}, []string{"op"}),
		switchLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "switch_level",
			Help:      "Last switch level read (1 = ON)",
		}),
		ledLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "led_level",
			Help:      "Last LED level written (1 = ON)",
		}),
		pollInterval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Configured poll interval",
		}),
	}
}

// Observe records a successful poll.
func (m *Metrics) Observe(res mirror.Result) {
	m.polls.Inc()
	if res.Changed {
		m.changes.Inc()
	}
	m.switchLevel.Set(level(res.Switch))
	m.ledLevel.Set(level(res.LED))
}

// ReadError counts a failed switch read.
func (m *Metrics) ReadError() {
	m.errors.WithLabelValues("read").Inc()
}

// WriteError counts a failed LED write.
func (m *Metrics) WriteError() {
	m.errors.WithLabelValues("write").Inc()
}

// SetPollInterval publishes the active poll interval.
func (m *Metrics) SetPollInterval(d time.Duration) {
	m.pollInterval.Set(d.Seconds())
}

func level(s mirror.State) float64 {
	if s == mirror.StateOn {
		return 1
	}
	return 0
}
