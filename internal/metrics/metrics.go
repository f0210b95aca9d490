// Package metrics exposes session counters on a caller-supplied
// prometheus registry. A nil *Metrics is a no-op everywhere so the
// session layer never has to care whether metrics are wired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reconnects      prometheus.Counter
	callFailures    *prometheus.CounterVec
	producersActive *prometheus.GaugeVec
	producerRetries prometheus.Counter
	consumerResumes prometheus.Counter
	pendingResumes  prometheus.Gauge
	rosterPeers     prometheus.Gauge
	sessionState    *prometheus.GaugeVec
}

// New registers the session collectors on reg. Tests pass their own
// prometheus.NewRegistry so repeated setups never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Subsystem: "signal", Name: "reconnects_total",
			Help: "Signaling channel reconnect attempts observed.",
		}),
		callFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meet", Subsystem: "signal", Name: "call_failures_total",
			Help: "Failed signaling calls by method.",
		}, []string{"method"}),
		producersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meet", Subsystem: "media", Name: "producers_active",
			Help: "Producers currently announced to the server, by source.",
		}, []string{"source"}),
		producerRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Subsystem: "media", Name: "producer_retries_total",
			Help: "Producer recreate attempts beyond the first.",
		}),
		consumerResumes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meet", Subsystem: "media", Name: "consumer_resumes_total",
			Help: "Consumers resumed after the receive transport connected.",
		}),
		pendingResumes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Subsystem: "media", Name: "pending_resumes",
			Help: "Consumers waiting for the receive transport.",
		}),
		rosterPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meet", Subsystem: "room", Name: "roster_peers",
			Help: "Participants currently in the room, including self.",
		}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "meet", Subsystem: "session", Name: "state",
			Help: "Current session state, 1 on the active label.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) RecordCallFailure(method string) {
	if m == nil {
		return
	}
	m.callFailures.WithLabelValues(method).Inc()
}

func (m *Metrics) SetProducerActive(source string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.producersActive.WithLabelValues(source).Set(v)
}

func (m *Metrics) RecordProducerRetry() {
	if m == nil {
		return
	}
	m.producerRetries.Inc()
}

func (m *Metrics) RecordConsumerResumed() {
	if m == nil {
		return
	}
	m.consumerResumes.Inc()
}

func (m *Metrics) SetPendingResumes(n int) {
	if m == nil {
		return
	}
	m.pendingResumes.Set(float64(n))
}

func (m *Metrics) SetRosterSize(n int) {
	if m == nil {
		return
	}
	m.rosterPeers.Set(float64(n))
}

func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	m.sessionState.Reset()
	m.sessionState.WithLabelValues(state).Set(1)
}
