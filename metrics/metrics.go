// Package metrics exposes the client's operational counters and
// gauges via prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric the client publishes. It is constructed
// once and held by the client facade, which drives it through its own
// adapters; the other components do not receive it.
type Registry struct {
	SDSOverruns        prometheus.Counter
	SequencerTimeouts  *prometheus.CounterVec
	MalformedMessages  *prometheus.CounterVec
	Reconnects         prometheus.Counter
	RegulatorBatchSize *prometheus.HistogramVec
}

// New constructs a Registry and registers its metrics with reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SDSOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiaclient",
			Subsystem: "sds",
			Name:      "overruns_total",
			Help:      "Number of times a microphone SDS reader fell behind and overran.",
		}),
		SequencerTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiaclient",
			Subsystem: "sequencer",
			Name:      "timeouts_total",
			Help:      "Number of times a per-topic sequencer's reordering window timed out.",
		}, []string{"topic"}),
		MalformedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aiaclient",
			Subsystem: "dispatcher",
			Name:      "malformed_messages_total",
			Help:      "Number of inbound messages rejected as malformed, by topic.",
		}, []string{"topic"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aiaclient",
			Subsystem: "connmgr",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts made after the service disconnected the session.",
		}),
		RegulatorBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aiaclient",
			Subsystem: "regulator",
			Name:      "batch_chunks",
			Help:      "Number of chunks aggregated per emitted batch, by regulator name.",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		}, []string{"regulator"}),
	}

	reg.MustRegister(m.SDSOverruns, m.SequencerTimeouts, m.MalformedMessages, m.Reconnects, m.RegulatorBatchSize)
	return m
}
