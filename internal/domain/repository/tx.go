package repository

import (
	"encoding/json"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
)

// Tx es el registro inmutable de una mutación de modelo. Se crea sin ID; el
// local store del nodo que actúa de master asigna el ID al aplicarla, y ese
// ID es estrictamente creciente y se asigna exactamente una vez.
type Tx struct {
	ID       uint64          `json:"id,omitempty"` // asignado al aplicar
	Kind     model.Kind      `json:"kind"`
	Op       model.Op        `json:"op"`
	EntityID string          `json:"entityId"`
	Version  int             `json:"version,omitempty"` // versión previa esperada (0 en create)
	Payload  json.RawMessage `json:"payload"`           // objeto serializado
}

// TxID es el payload de respuesta del endpoint de forwarding.
type TxID struct {
	ID uint64 `json:"id"`
}

// NewTx serializa obj y arma el registro de transacción para la mutación.
func NewTx(kind model.Kind, op model.Op, entityID string, version int, obj any) (Tx, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return Tx{}, err
	}
	return Tx{Kind: kind, Op: op, EntityID: entityID, Version: version, Payload: data}, nil
}

// TxWaiter permite bloquear hasta que el local store haya aplicado una
// transacción con id >= N, con timeout. Una registración se usa una vez y
// debe cerrarse siempre (satisfecha, vencida o con error alrededor).
type TxWaiter interface {
	// WaitFor bloquea hasta que el último id aplicado sea >= id o venza el
	// timeout. Retorna true si se satisfizo a tiempo.
	WaitFor(id uint64, timeout time.Duration) bool

	// Close libera la registración. Idempotente.
	Close() error
}

// LocalStore es el contrato del storage engine de un solo nodo: aplica
// transacciones de forma durable y serializada, asigna ids crecientes y
// notifica a los waiters. Es la única fuente de verdad de ordenamiento.
type LocalStore interface {
	Repository

	// Exec valida y aplica tx, asignándole el próximo id. Durable antes de
	// retornar. Los applies concurrentes se serializan acá.
	Exec(tx Tx) (uint64, error)

	// ApplyReplicated aplica una copia replicada desde el master,
	// preservando el id asignado por él. El id debe ser LastTxID()+1.
	ApplyReplicated(tx Tx) error

	// LastTxID retorna el último id aplicado localmente (0 si ninguno).
	LastTxID() uint64

	// TxsSince retorna hasta limit transacciones con id > since, en orden.
	TxsSince(since uint64, limit int) ([]Tx, error)

	// CreateTxWaiter registra un waiter atado al stream de ids de este store.
	CreateTxWaiter() TxWaiter
}
