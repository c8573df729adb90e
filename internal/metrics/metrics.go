// Package metrics exposes merge pass metrics on a private registry.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callmerge/internal/merge"
)

const namespace = "callmerge"

// Metrics implements merge.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	Passes        *prometheus.CounterVec
	Groups        *prometheus.CounterVec
	Malformed     prometheus.Counter
	PassDuration  prometheus.Histogram
	LastSuccess   prometheus.Gauge
	WebhookEvents *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		PidFn:     func() (int, error) { return os.Getpid(), nil },
		Namespace: namespace,
	}))

	m := &Metrics{
		Registry: reg,
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Merge passes by outcome (ok, partial, failed, skipped).",
		}, []string{"outcome"}),
		Groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_total",
			Help:      "Call groups merged by result (created, updated, failed).",
		}, []string{"result"}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Unconsumed events skipped because they carry no call id.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of merge passes that ran.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that completed without a pass-level error.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by result (accepted, rejected, failed).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Passes, m.Groups, m.Malformed, m.PassDuration, m.LastSuccess, m.WebhookEvents)
	return m
}

func (m *Metrics) ObservePass(outcome merge.PassOutcome, s merge.Summary, elapsed time.Duration) {
	m.Passes.WithLabelValues(string(outcome)).Inc()
	if outcome == merge.OutcomeSkipped {
		return
	}
	m.Groups.WithLabelValues("created").Add(float64(s.Created))
	m.Groups.WithLabelValues("updated").Add(float64(s.Updated))
	m.Groups.WithLabelValues("failed").Add(float64(s.Failed))
	m.Malformed.Add(float64(s.Malformed))
	m.PassDuration.Observe(elapsed.Seconds())
	if outcome == merge.OutcomeOK || outcome == merge.OutcomePartial {
		m.LastSuccess.SetToCurrentTime()
	}
}

// ObserveWebhook counts one webhook delivery.
func (m *Metrics) ObserveWebhook(result string) {
	m.WebhookEvents.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
