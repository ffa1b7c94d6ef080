// Package standalone implementa el local store de un nodo: aplica
// transacciones de forma durable y serializada sobre un txlog, mantiene el
// modelo en memoria y asigna los ids estrictamente crecientes que ordenan
// todo el cluster. Es la fuente de verdad de ordenamiento; el repositorio
// clusterizado solo decide QUIÉN ejecuta acá.
package standalone

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/metrics"
	"github.com/qdb-io/qdbd/internal/observability/logger"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

// stored es un objeto de modelo tal como quedó almacenado.
type stored struct {
	Version int
	Data    []byte
}

// Store es el storage engine de un solo nodo.
type Store struct {
	mu      sync.Mutex // serializa applies y protege objects
	log     txlog.Log
	bus     *eventbus.Bus
	objects map[model.Kind]map[string]stored

	lastID  atomic.Uint64
	upSince time.Time

	wmu     sync.Mutex
	waiters map[*TxWaiter]struct{}
	closed  bool
}

// Open crea el store sobre el txlog dado y reconstruye el modelo en memoria
// reproduciendo el log. bus puede ser nil (no se publican eventos).
func Open(log txlog.Log, bus *eventbus.Bus) (*Store, error) {
	s := &Store{
		log:     log,
		bus:     bus,
		objects: make(map[model.Kind]map[string]stored),
		upSince: time.Now(),
		waiters: make(map[*TxWaiter]struct{}),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

// replay reconstruye el modelo desde el log. El log es la verdad: las
// entradas se aplican sin re-validar.
func (s *Store) replay() error {
	const batch = 512
	var since uint64
	for {
		entries, err := s.log.ReadFrom(since, batch)
		if err != nil {
			return fmt.Errorf("standalone: replay: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			var tx repository.Tx
			if err := json.Unmarshal(e.Data, &tx); err != nil {
				return fmt.Errorf("standalone: replay tx %d: %w", e.ID, err)
			}
			s.putLocked(tx.Kind, tx.EntityID, stored{
				Version: versionOf(tx.Payload),
				Data:    tx.Payload,
			})
			since = e.ID
		}
		s.lastID.Store(since)
	}
	if n := s.lastID.Load(); n > 0 {
		logger.L().Info("tx log replayed", logger.Component("standalone"), logger.TxID(n))
	}
	return nil
}

// Exec valida y aplica tx, asignando el próximo id. Ver repository.LocalStore.
func (s *Store) Exec(tx repository.Tx) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, repository.ErrUnavailable
	}

	newVer, err := s.validateLocked(tx)
	if err != nil {
		return 0, err
	}

	data, err := withVersion(tx.Payload, newVer)
	if err != nil {
		return 0, repository.NewModelError("invalid payload for %s %q: %v", tx.Kind, tx.EntityID, err)
	}

	rec := tx
	rec.ID = 0
	rec.Payload = data
	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	id, err := s.log.Append(raw)
	if err != nil {
		return 0, fmt.Errorf("standalone: append tx: %w", err)
	}

	s.putLocked(tx.Kind, tx.EntityID, stored{Version: newVer, Data: data})
	s.lastID.Store(id)
	metrics.AppliedTxID.Set(float64(id))

	s.afterApply(tx, id)
	return id, nil
}

// ApplyReplicated aplica una copia replicada del master preservando su id.
// Las copias replicadas ya pasaron validación en el master; acá solo se
// chequea la secuencia.
func (s *Store) ApplyReplicated(tx repository.Tx) error {
	if tx.ID == 0 {
		return fmt.Errorf("standalone: replicated tx without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrUnavailable
	}

	newVer := versionOf(tx.Payload)
	if newVer == 0 {
		newVer = tx.Version + 1
	}
	data, err := withVersion(tx.Payload, newVer)
	if err != nil {
		return fmt.Errorf("standalone: replicated payload: %w", err)
	}

	rec := tx
	rec.ID = 0
	rec.Payload = data
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.log.AppendAt(tx.ID, raw); err != nil {
		return err
	}

	s.putLocked(tx.Kind, tx.EntityID, stored{Version: newVer, Data: data})
	s.lastID.Store(tx.ID)
	metrics.AppliedTxID.Set(float64(tx.ID))

	s.afterApply(tx, tx.ID)
	return nil
}

// afterApply notifica waiters y publica el evento de modelo. Se llama con
// s.mu tomado; el dispatch del bus es corto (handlers no bloquean).
func (s *Store) afterApply(tx repository.Tx, id uint64) {
	s.notifyWaiters()
	if s.bus != nil {
		s.bus.Publish(model.Event{Kind: tx.Kind, Op: tx.Op, ID: tx.EntityID, TxID: id})
	}
}

// validateLocked chequea la mutación contra el estado actual y retorna la
// versión que quedará almacenada.
func (s *Store) validateLocked(tx repository.Tx) (int, error) {
	if !tx.Kind.Valid() {
		return 0, repository.NewModelError("unknown model kind %q", tx.Kind)
	}
	if !tx.Op.Valid() {
		return 0, repository.NewModelError("unknown operation %q", tx.Op)
	}
	if !model.ValidateID(tx.EntityID) {
		return 0, repository.NewModelError("invalid %s id %q", tx.Kind, tx.EntityID)
	}

	cur, exists := s.objects[tx.Kind][tx.EntityID]
	switch tx.Op {
	case model.OpCreate:
		if exists {
			return 0, repository.NewModelError("%s %q already exists", tx.Kind, tx.EntityID)
		}
		return 1, nil
	default: // update
		if !exists {
			return 0, repository.NewModelError("%s %q does not exist", tx.Kind, tx.EntityID)
		}
		if tx.Version != cur.Version {
			return 0, &repository.OptimisticLockError{
				Kind:     string(tx.Kind),
				ID:       tx.EntityID,
				Expected: tx.Version,
				Actual:   cur.Version,
			}
		}
		return cur.Version + 1, nil
	}
}

func (s *Store) putLocked(kind model.Kind, id string, st stored) {
	m := s.objects[kind]
	if m == nil {
		m = make(map[string]stored)
		s.objects[kind] = m
	}
	m[id] = st
}

// LastTxID retorna el último id aplicado localmente.
func (s *Store) LastTxID() uint64 { return s.lastID.Load() }

// TxsSince retorna hasta limit transacciones con id > since.
func (s *Store) TxsSince(since uint64, limit int) ([]repository.Tx, error) {
	entries, err := s.log.ReadFrom(since, limit)
	if err != nil {
		return nil, err
	}
	out := make([]repository.Tx, 0, len(entries))
	for _, e := range entries {
		var tx repository.Tx
		if err := json.Unmarshal(e.Data, &tx); err != nil {
			return nil, fmt.Errorf("standalone: decode tx %d: %w", e.ID, err)
		}
		tx.ID = e.ID
		out = append(out, tx)
	}
	return out, nil
}

// Status siempre reporta up: el store de un nodo está disponible desde Open.
func (s *Store) Status() repository.Status {
	up := s.upSince
	return repository.Status{UpSince: &up}
}

// Close cierra el log y libera todos los waiters pendientes.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wmu.Lock()
	ws := make([]*TxWaiter, 0, len(s.waiters))
	for w := range s.waiters {
		ws = append(ws, w)
	}
	s.wmu.Unlock()
	for _, w := range ws {
		_ = w.Close()
	}

	return s.log.Close()
}

// ─── Helpers de payload ───

// withVersion normaliza la versión dentro del payload almacenado, para que
// los finds devuelvan siempre la versión vigente.
func withVersion(payload []byte, version int) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	m["version"] = version
	return json.Marshal(m)
}

func versionOf(payload []byte) int {
	var v struct {
		Version int `json:"version"`
	}
	_ = json.Unmarshal(payload, &v)
	return v.Version
}

// ─── Finds genéricos ───

func findOne[T any](s *Store, kind model.Kind, id string) (*T, error) {
	s.mu.Lock()
	st, ok := s.objects[kind][id]
	s.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	var v T
	if err := json.Unmarshal(st.Data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// findAll retorna la ventana [offset, offset+limit) ordenada por id.
// limit negativo trae todo desde offset.
func findAll[T any](s *Store, kind model.Kind, offset, limit int) ([]*T, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.objects[kind]))
	for id := range s.objects[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset < 0 {
		offset = 0
	}
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:]
	if limit >= 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]*T, 0, len(ids))
	var err error
	for _, id := range ids {
		var v T
		if e := json.Unmarshal(s.objects[kind][id].Data, &v); e != nil {
			err = e
			break
		}
		out = append(out, &v)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) count(kind model.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects[kind])
}

// execObj arma y ejecuta la transacción para una mutación de obj.
func execObj(s *Store, kind model.Kind, op model.Op, id string, version int, obj any) (uint64, error) {
	tx, err := repository.NewTx(kind, op, id, version, obj)
	if err != nil {
		return 0, err
	}
	return s.Exec(tx)
}

var _ repository.LocalStore = (*Store)(nil)
