package gateway

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish and unpublish outcome labels.
const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeNoHandler  = "no_handler"
	outcomeAmbiguous  = "ambiguous"
	outcomeRolledBack = "rolled_back"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	publishes   *prometheus.CounterVec // By type and outcome
	unpublishes *prometheus.CounterVec // By type and outcome
	transitions *prometheus.CounterVec // By from and to state
	calls       *prometheus.CounterVec // By outcome
	handlers    prometheus.Gauge
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vineyard",
			Subsystem: "gateway",
			Name:      "publish_total",
			Help:      "Resource publish attempts by resource type and outcome",
		}, []string{"type", "outcome"}), // outcome: ok, error, no_handler, ambiguous, rolled_back

		unpublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vineyard",
			Subsystem: "gateway",
			Name:      "unpublish_total",
			Help:      "Resource unpublish attempts by resource type and outcome",
		}, []string{"type", "outcome"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vineyard",
			Subsystem: "gateway",
			Name:      "state_transitions_total",
			Help:      "Registration lifecycle transitions",
		}, []string{"from", "to"}),

		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vineyard",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Calls reported by the traffic boundary",
		}, []string{"outcome"}),

		handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vineyard",
			Subsystem: "gateway",
			Name:      "handlers",
			Help:      "Number of registered resource handlers",
		}),
	}

	for _, c := range []prometheus.Collector{m.publishes, m.unpublishes, m.transitions, m.calls, m.handlers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordPublish(typ, outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) recordUnpublish(typ string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.unpublishes.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) recordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) recordCall(failed bool) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if failed {
		outcome = outcomeError
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setHandlers(n int) {
	if m == nil {
		return
	}
	m.handlers.Set(float64(n))
}

// MetricSink receives registration activity for long-term storage, such as
// a time-series database. Implementations must not block.
type MetricSink interface {
	WriteCall(ctx context.Context, registrationID string, elapsed time.Duration, failed bool)
	WriteTransition(ctx context.Context, registrationID, from, to string)
}
