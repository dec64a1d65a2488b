// Package metrics exposes the coordinator's Prometheus instrumentation:
// mutation throughput, broadcast fan-out, connected sessions, and hash
// mismatch counts (the signal that divergence recovery, spec §4.8, is
// actually firing).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the coordinator updates. Constructed
// once at process startup and registered against a prometheus.Registerer
// (normally prometheus.DefaultRegisterer, wired in cmd/coordinatord).
type Metrics struct {
	MutationsTotal      *prometheus.CounterVec
	MutationsRejected   *prometheus.CounterVec
	BroadcastsTotal      prometheus.Counter
	BroadcastsDropped    prometheus.Counter
	ConnectedSessions    prometheus.Gauge
	ConnectedPlayers     prometheus.Gauge
	HashMismatchesTotal  prometheus.Counter
	SnapshotsSentTotal   prometheus.Counter
	ColdFlushesTotal     prometheus.Counter
}

// New constructs and registers every metric against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyboardia_mutations_total",
			Help: "Total mutations successfully applied, labeled by op.",
		}, []string{"op"}),
		MutationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyboardia_mutations_rejected_total",
			Help: "Total mutations rejected at validation, labeled by op.",
		}, []string{"op"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyboardia_broadcasts_total",
			Help: "Total applied-delta sends attempted across all connections.",
		}),
		BroadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyboardia_broadcasts_dropped_total",
			Help: "Total applied-delta sends dropped because a connection's outbox was full.",
		}),
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyboardia_connected_sessions",
			Help: "Number of sessions with at least one live connection.",
		}),
		ConnectedPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keyboardia_connected_players",
			Help: "Number of live player connections across all sessions.",
		}),
		HashMismatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyboardia_hash_mismatches_total",
			Help: "Total hash_challenge rounds that reported a mismatch.",
		}),
		SnapshotsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyboardia_snapshots_sent_total",
			Help: "Total snapshot envelopes sent in reply to snapshot_request or as divergence-recovery snapshots; the snapshot sent on join is not counted.",
		}),
		ColdFlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyboardia_cold_flushes_total",
			Help: "Total cold-tier writes performed on session quiescence.",
		}),
	}

	collectors := []prometheus.Collector{
		m.MutationsTotal, m.MutationsRejected, m.BroadcastsTotal, m.BroadcastsDropped,
		m.ConnectedSessions, m.ConnectedPlayers, m.HashMismatchesTotal,
		m.SnapshotsSentTotal, m.ColdFlushesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
