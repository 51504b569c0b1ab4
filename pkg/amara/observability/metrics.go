// Package observability exposes Prometheus instruments for the bot engine
// and a small operations HTTP server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. It
// satisfies bot.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived    *prometheus.CounterVec
	TriggersFired       *prometheus.CounterVec
	Flushes             *prometheus.CounterVec
	CompletionFallbacks prometheus.Counter
	SpeechFailures      prometheus.Counter
	BroadcastSends      *prometheus.CounterVec
}

// NewMetrics registers the instruments on a fresh registry together with
// the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Private messages received by channel.",
		}, []string{"channel"}),
		TriggersFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Trigger policy decisions by action.",
		}, []string{"action"}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Debounced flushes by outcome.",
		}, []string{"outcome"}),
		CompletionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_fallbacks_total",
			Help:      "Completions answered with the fallback reply.",
		}),
		SpeechFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_failures_total",
			Help:      "Voice notes that could not be synthesized.",
		}),
		BroadcastSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) MessageReceived(channel string) { m.MessagesReceived.WithLabelValues(channel).Inc() }
func (m *Metrics) TriggerFired(action string)     { m.TriggersFired.WithLabelValues(action).Inc() }
func (m *Metrics) FlushCompleted(outcome string)  { m.Flushes.WithLabelValues(outcome).Inc() }
func (m *Metrics) CompletionFallback()            { m.CompletionFallbacks.Inc() }
func (m *Metrics) SpeechFailed()                  { m.SpeechFailures.Inc() }

func (m *Metrics) BroadcastSend(ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	m.BroadcastSends.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
