package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// sessionsStartedTotal counts sessions started.
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "sessions_started_total",
			Help:      "Total mining sessions started.",
		},
	)

	// sessionsClosedTotal counts sessions finalized and closed.
	sessionsClosedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "sessions_closed_total",
			Help:      "Total mining sessions closed.",
		},
	)

	// sessionsFlaggedTotal counts sessions whose elapsed claim was flagged.
	sessionsFlaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "celfd",
			Name:      "sessions_flagged_total",
			Help:      "Total sessions flagged by elapsed-time validation.",
		},
	)

	// openSessions tracks currently open (active or paused) sessions.
	openSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "celfd",
			Name:      "open_sessions",
			Help:      "Number of currently open mining sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsStartedTotal,
		sessionsClosedTotal,
		sessionsFlaggedTotal,
		openSessions,
	)
}
