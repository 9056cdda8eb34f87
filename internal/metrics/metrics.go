// Package metrics provides Prometheus instrumentation for matching and allocation.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/example/event-matchmaker/internal/application"
)

// Recorder counts domain events and times batch operations. It is an
// application.EventSink so it can sit next to the notifier in a MultiSink.
type Recorder struct {
	registry *prometheus.Registry

	// MatchesConfirmed counts reciprocal likes that produced a match.
	MatchesConfirmed prometheus.Counter
	// MeetingsAssigned counts booked meetings.
	MeetingsAssigned prometheus.Counter
	// MeetingsCancelled counts meetings invalidated by availability changes.
	MeetingsCancelled prometheus.Counter
	// AssignmentFailures counts failed allocation attempts by reason.
	AssignmentFailures *prometheus.CounterVec
	// OperationDuration tracks engine operation latency.
	OperationDuration *prometheus.HistogramVec
}

var _ application.EventSink = (*Recorder)(nil)

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		MatchesConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_matches_confirmed_total",
			Help: "Total matches created from reciprocal likes",
		}),
		MeetingsAssigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_meetings_assigned_total",
			Help: "Total meetings booked",
		}),
		MeetingsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchmaker_meetings_cancelled_total",
			Help: "Total meetings cancelled by availability changes",
		}),
		AssignmentFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_assignment_failures_total",
			Help: "Total failed allocation attempts",
		}, []string{"reason"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchmaker_operation_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "status"}),
	}
}

// Registry exposes the registry for scraping or pushing.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Publish implements application.EventSink.
func (r *Recorder) Publish(_ context.Context, event application.DomainEvent) error {
	switch event.Type {
	case application.EventMatchConfirmed:
		r.MatchesConfirmed.Inc()
	case application.EventMeetingAssigned:
		r.MeetingsAssigned.Inc()
	case application.EventMeetingCancelled:
		r.MeetingsCancelled.Inc()
	case application.EventAssignmentFailed:
		reason := string(event.Reason)
		if reason == "" {
			reason = "unknown"
		}
		r.AssignmentFailures.WithLabelValues(reason).Inc()
	}
	return nil
}

// ObserveOperation records how long an operation took and whether it errored.
func (r *Recorder) ObserveOperation(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.OperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// Push sends the current values to a Prometheus pushgateway. Batch commands
// call it before exiting since nothing scrapes a short-lived process.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "matchmaker"
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
