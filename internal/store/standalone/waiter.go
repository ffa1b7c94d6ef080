package standalone

import (
	"sync"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/repository"
)

// TxWaiter bloquea hasta que el store aplique una transacción con id >= N.
// La tabla de registraciones comparte un único broadcast: cada apply hace un
// señalamiento no-bloqueante a todos los waiters y cada uno re-chequea su
// target contra LastTxID.
type TxWaiter struct {
	st     *Store
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// CreateTxWaiter registra un waiter nuevo atado a este store.
func (s *Store) CreateTxWaiter() repository.TxWaiter {
	w := &TxWaiter{
		st:     s,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.wmu.Lock()
	s.waiters[w] = struct{}{}
	s.wmu.Unlock()
	return w
}

// notifyWaiters despierta a todos los waiters registrados. El send es
// no-bloqueante: un waiter que ya tiene señal pendiente re-chequeará igual.
func (s *Store) notifyWaiters() {
	s.wmu.Lock()
	for w := range s.waiters {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
	s.wmu.Unlock()
}

// WaitFor bloquea hasta que LastTxID() >= id o venza el timeout.
// Retorna true si se satisfizo a tiempo; false en timeout o Close.
func (w *TxWaiter) WaitFor(id uint64, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if w.st.LastTxID() >= id {
			return true
		}
		select {
		case <-w.signal:
		case <-timer.C:
			return false
		case <-w.done:
			return false
		}
	}
}

// Close libera la registración. Idempotente y seguro de llamar mientras otro
// goroutine está en WaitFor (ese WaitFor retorna false).
func (w *TxWaiter) Close() error {
	w.once.Do(func() {
		w.st.wmu.Lock()
		delete(w.st.waiters, w)
		w.st.wmu.Unlock()
		close(w.done)
	})
	return nil
}
