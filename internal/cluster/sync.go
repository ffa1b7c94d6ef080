package cluster

import (
	"errors"
	"time"

	"github.com/qdb-io/qdbd/internal/observability/logger"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

const pullBatch = 512

// pull es el loop de replicación del follower: arrastra el tail del tx log
// del master hacia el local store. Corre una goroutine por link; se frena
// cerrando stop (cambio de rol o shutdown).
func (r *ClusteredRepository) pull(link *MasterLink, stop chan struct{}) {
	log := logger.L().With(logger.Component("cluster"), logger.Master(link.Server().String()))
	log.Info("replication pull started")

	ticker := time.NewTicker(r.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Info("replication pull stopped")
			return
		case <-ticker.C:
		}

		txs, err := link.Fetch(r.local.LastTxID(), pullBatch)
		if err != nil {
			if errors.Is(err, ErrStaleMaster) {
				log.Error("replication source lost mastership")
				r.reelect()
				return
			}
			// Falla transitoria de red: el próximo tick reintenta. La
			// fuente de verdad sobre la salud del master es la elección,
			// no este loop.
			log.Warn("replication fetch failed", logger.Err(err))
			continue
		}

		for _, tx := range txs {
			if err := r.local.ApplyReplicated(tx); err != nil {
				if errors.Is(err, txlog.ErrOutOfSequence) {
					// Otro apply (o un replay) ya cubrió este id.
					continue
				}
				// Un local store que no puede seguir el stream no puede
				// quedarse sirviendo reads cada vez más viejos en silencio:
				// pasar por la re-elección marca el nodo como no disponible
				// hasta que un nuevo anuncio rearme la replicación.
				log.Error("replicated tx apply failed", logger.TxID(tx.ID), logger.Err(err))
				r.reelect()
				return
			}
		}
	}
}
