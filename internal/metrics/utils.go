package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func createCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func createHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveInference records the duration of one forward pass.
func (m *Metrics) ObserveInference(device string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(device).Observe(elapsed.Seconds())
}

// RecordFailure counts a failed encode by kind.
func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(kind).Inc()
}

// InferenceStarted and InferenceFinished track device slot occupancy.
func (m *Metrics) InferenceStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) InferenceFinished() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}
