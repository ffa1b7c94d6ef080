package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cluster-related Prometheus metrics. Defined in a standalone package to
// avoid import cycles between the cluster repository and HTTP packages.

var (
	ForwardLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qdb_forward_latency_ms",
		Help:    "Latencia del forward de transacciones al master en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	MasterChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qdb_master_changes_total",
		Help: "Cambios de master observados por este nodo",
	})

	MasterTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qdb_master_timeouts_total",
		Help: "Escrituras forwardeadas que vencieron esperando replicación local",
	})

	Reelections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qdb_reelections_total",
		Help: "Re-elecciones disparadas por timeout o rechazo not-master",
	})

	AppliedTxID = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qdb_applied_tx_id",
		Help: "Último id de transacción aplicado por el local store",
	})
)

// RegisterCluster registers the cluster metrics on the given registry (or
// default if nil).
func RegisterCluster(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ForwardLatency, MasterChanges, MasterTimeouts, Reelections, AppliedTxID,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
