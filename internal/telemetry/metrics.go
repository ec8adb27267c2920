package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the client's metrics on a private prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	txnOperationTotal    *prometheus.CounterVec
	txnOperationDuration *prometheus.HistogramVec
	txnOutcomeTotal      *prometheus.CounterVec
	recordsSentTotal     *prometheus.CounterVec
	publishAttemptsTotal prometheus.Counter
	topicEnsureTotal     *prometheus.CounterVec

	startTime prometheus.Gauge
}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		txnOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txpub_txn_operation_total",
				Help: "Transactional session operations",
			},
			[]string{"op", "status"}, // status: success, error
		),

		txnOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txpub_txn_operation_duration_seconds",
				Help:    "Time spent in transactional session operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		txnOutcomeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txpub_txn_outcome_total",
				Help: "Transactions by final outcome",
			},
			[]string{"outcome"}, // committed, aborted, fenced, fatal
		),

		recordsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txpub_records_sent_total",
				Help: "Records handed to the producer inside a transaction",
			},
			[]string{"topic"},
		),

		publishAttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "txpub_publish_attempts_total",
				Help: "Publish attempts, retries included",
			},
		),

		topicEnsureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txpub_topic_ensure_total",
				Help: "Topic provisioning results",
			},
			[]string{"result"}, // created, exists, error
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "txpub_start_time_seconds",
				Help: "Unix timestamp when the client started",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.txnOperationTotal,
		r.txnOperationDuration,
		r.txnOutcomeTotal,
		r.recordsSentTotal,
		r.publishAttemptsTotal,
		r.topicEnsureTotal,
		r.startTime,
	)
	r.startTime.SetToCurrentTime()

	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

func (r *Registry) RecordTxnOperation(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.txnOperationTotal.WithLabelValues(op, status).Inc()
	r.txnOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (r *Registry) RecordOutcome(outcome string) {
	r.txnOutcomeTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordSent(topic string) {
	r.recordsSentTotal.WithLabelValues(topic).Inc()
}

func (r *Registry) RecordAttempt() {
	r.publishAttemptsTotal.Inc()
}

func (r *Registry) RecordTopicEnsure(result string) {
	r.topicEnsureTotal.WithLabelValues(result).Inc()
}
