package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PositionUpdates counts position updates by outcome
	PositionUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "position_updates_total", Help: "Position updates by outcome."},
		[]string{"outcome"},
	)
	CheckpointsCovered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "checkpoints_covered_total", Help: "Checkpoints newly covered."},
	)
	AssignmentsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "assignments_completed_total", Help: "Assignments that reached completed."},
	)
	// EvaluateDuration tracks time spent applying one position update
	EvaluateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "coverage_evaluate_seconds", Help: "Position update processing time in seconds.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1}},
	)
	// IngestMessages counts device messages received over MQTT by result
	IngestMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_messages_total", Help: "MQTT position messages by result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PositionUpdates)
		Registry.MustRegister(CheckpointsCovered)
		Registry.MustRegister(AssignmentsCompleted)
		Registry.MustRegister(EvaluateDuration)
		Registry.MustRegister(IngestMessages)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
