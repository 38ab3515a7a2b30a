package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	pushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "celfd",
		Subsystem: "syncer",
		Name:      "pushes_total",
		Help:      "Transactions pushed to the remote ledger by outcome.",
	}, []string{"status"})

	unsyncedBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "celfd",
		Subsystem: "syncer",
		Name:      "unsynced_backlog",
		Help:      "Unsynced transactions observed at the start of the last cycle.",
	})

	lastSyncUnix = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "celfd",
		Subsystem: "syncer",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix time of the last completed sync cycle.",
	})
)

func init() {
	prometheus.MustRegister(pushesTotal, unsyncedBacklog, lastSyncUnix)
}
