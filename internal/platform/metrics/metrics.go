// Package metrics defines the Prometheus metrics of the live delivery core.
//
// Metric naming follows Prometheus conventions:
//   - pok7_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery paths taken by the decision engine.
const (
	PathLive     = "live"
	PathPush     = "push"
	PathFallback = "fallback" // presence unknown, pushed anyway
	PathSelf     = "self"
)

var (
	// LiveSessions is the number of stream sessions attached to this process.
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pok7_live_sessions",
			Help: "Live stream sessions attached to this process.",
		},
	)

	// LiveUsers is the size of the shared presence index after the last sweep.
	LiveUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pok7_live_users",
			Help: "Users with a non-expired presence entry, as of the last sweep.",
		},
	)

	// DeliveriesTotal counts delivery decisions by path.
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pok7_deliveries_total",
			Help: "Poke notifications dispatched, by delivery path.",
		},
		[]string{"path"},
	)

	// PushFailuresTotal counts web push sends that failed.
	PushFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pok7_push_failures_total",
			Help: "Web push deliveries that failed, by reason.",
		},
		[]string{"reason"},
	)

	// StreamEmitsTotal counts snapshots written to live sessions.
	StreamEmitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pok7_stream_emits_total",
			Help: "Notification snapshots emitted to live sessions.",
		},
	)

	// PresenceSweptTotal counts stale index members removed by the sweeper.
	PresenceSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pok7_presence_swept_total",
			Help: "Expired presence index members removed by the sweeper.",
		},
	)
)

var registerOnce sync.Once

// Register adds all metrics to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			LiveSessions,
			LiveUsers,
			DeliveriesTotal,
			PushFailuresTotal,
			StreamEmitsTotal,
			PresenceSweptTotal,
		)
	})
}
