package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryLabels = []string{"metric", "outcome"}
	queryTimer  = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulse",
		Subsystem: "tenant_query",
		Name:      "duration_seconds",
		Help:      "Tenant metric query duration, including data read time.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, queryLabels)
	queryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "tenant_query",
		Name:      "total",
		Help:      "Tenant metric query count by outcome.",
	}, queryLabels)
)

// Query outcomes.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeSkipped = "skipped" // no usable table or column
)

// observation times a single metric query.
type observation struct {
	metric string
	timer  *prometheus.Timer
}

func startObservation(metric string) *observation {
	o := &observation{metric: metric}
	o.timer = prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		queryTimer.WithLabelValues(o.metric, outcomeOK).Observe(v)
	}))
	return o
}

// finish records the outcome. Only successful queries feed the histogram so
// timeouts do not skew latency.
func (o *observation) finish(err error) string {
	outcome := outcomeFor(err)
	queryCounter.WithLabelValues(o.metric, outcome).Inc()
	if outcome == outcomeOK {
		o.timer.ObserveDuration()
	}
	return outcome
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, errSkipped):
		return outcomeSkipped
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
