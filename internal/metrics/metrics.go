// Package metrics exposes identity service measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements identity.Observer.
type PrometheusObserver struct {
	opLatency  *prometheus.HistogramVec
	operations *prometheus.CounterVec
	matchScore prometheus.Histogram
}

// NewPrometheusObserver creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "face_registry_operation_duration_seconds",
			Help:    "Latency of identity operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "face_registry_operations_total",
			Help: "Identity operations by outcome or error kind",
		}, []string{"op", "outcome"}),
		matchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "face_registry_match_score",
			Help:    "Cosine similarity of the nearest identity",
			Buckets: []float64{0, 0.5, 0.7, 0.8, 0.85, 0.9, 0.93, 0.95, 0.97, 0.99, 1},
		}),
	}

	reg.MustRegister(o.opLatency, o.operations, o.matchScore)
	return o
}

// ObserveOperation records one finished operation.
func (o *PrometheusObserver) ObserveOperation(op, outcome string, d time.Duration) {
	status := "success"
	if !isSuccess(outcome) {
		status = "error"
	}
	o.opLatency.WithLabelValues(op, status).Observe(d.Seconds())
	o.operations.WithLabelValues(op, outcome).Inc()
}

func (o *PrometheusObserver) ObserveMatchScore(score float64) {
	o.matchScore.Observe(score)
}

func isSuccess(outcome string) bool {
	switch identity.Outcome(outcome) {
	case identity.OutcomeMatched, identity.OutcomeNoMatch, identity.OutcomeAttached, identity.OutcomeCreated:
		return true
	}
	return false
}

var _ identity.Observer = (*PrometheusObserver)(nil)
