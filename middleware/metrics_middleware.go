package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mini-placement/placement"
)

const (
	metricsSubsystem = "placement"

	actorTypeLabel = "actor_type"
	nodeLabel      = "node"
	reasonLabel    = "reason"
)

// Metrics holds the Prometheus collectors for placement decisions.
type Metrics struct {
	decisions *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "decisions_total",
				Help:      "Total number of successful placement decisions by actor type and node",
			},
			[]string{actorTypeLabel, nodeLabel},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "failures_total",
				Help:      "Total number of failed placement decisions by actor type and reason",
			},
			[]string{actorTypeLabel, reasonLabel},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: metricsSubsystem,
				Name:      "decision_duration_seconds",
				Help:      "Duration of placement decisions in seconds, including the membership query",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{actorTypeLabel},
		),
	}
	for _, c := range []prometheus.Collector{m.decisions, m.failures, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func MetricsMiddleware(m *Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
			start := time.Now()
			node, err := next(ctx, target)
			m.duration.WithLabelValues(target.ActorType).Observe(time.Since(start).Seconds())
			if err != nil {
				m.failures.WithLabelValues(target.ActorType, failureReason(err)).Inc()
				return node, err
			}
			m.decisions.WithLabelValues(target.ActorType, node.String()).Inc()
			return node, nil
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, placement.ErrNoCompatibleNode):
		return "no_compatible_node"
	case errors.Is(err, placement.ErrUnconfiguredPolicy):
		return "unconfigured_policy"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
