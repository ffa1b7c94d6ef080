// Package handlers contiene los handlers HTTP de la API de qdbd.
//
// Cada handler recibe sus dependencias como interfaces chicas declaradas
// acá: los tests los ejercitan con fakes sin levantar un cluster.
package handlers

import (
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
)

// ClusterInfo expone el estado de rol del nodo.
type ClusterInfo interface {
	Status() repository.Status
	Master() *model.Server
	IsMaster() bool
	LastTxID() uint64
}

// TxReceiver acepta transacciones forwardeadas y sirve el tail del log.
type TxReceiver interface {
	AppendTxFromFollower(tx repository.Tx) (uint64, error)
	TxsSince(since uint64, limit int) ([]repository.Tx, error)
}
