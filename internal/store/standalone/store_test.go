package standalone

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(txlog.NewMemory(), eventbus.New())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExecAssignsIncreasingIDs(t *testing.T) {
	s := newStore(t)

	for i := 1; i <= 5; i++ {
		id := mustExec(t, s, model.KindUser, model.OpCreate, fmt.Sprintf("u%d", i), 0)
		if id != uint64(i) {
			t.Fatalf("tx id = %d, want %d", id, i)
		}
	}
	if s.LastTxID() != 5 {
		t.Fatalf("last tx id = %d, want 5", s.LastTxID())
	}
}

func TestExecConcurrentIDsAreUnique(t *testing.T) {
	s := newStore(t)

	const n = 50
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := mustExec(t, s, model.KindUser, model.OpCreate, fmt.Sprintf("u%d", i), 0)
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate tx id %d", id)
		}
		seen[id] = true
	}
	if s.LastTxID() != n {
		t.Fatalf("last tx id = %d, want %d", s.LastTxID(), n)
	}
}

func TestCreateExistingIsModelError(t *testing.T) {
	s := newStore(t)
	mustExec(t, s, model.KindDatabase, model.OpCreate, "db1", 0)

	_, err := execObj(s, model.KindDatabase, model.OpCreate, "db1", 0, &model.Database{ID: "db1"})
	if !repository.IsModel(err) {
		t.Fatalf("err = %v, want ModelError", err)
	}
}

func TestUpdateMissingIsModelError(t *testing.T) {
	s := newStore(t)

	_, err := execObj(s, model.KindDatabase, model.OpUpdate, "nope", 1, &model.Database{ID: "nope"})
	if !repository.IsModel(err) {
		t.Fatalf("err = %v, want ModelError", err)
	}
}

func TestUpdateVersionMismatch(t *testing.T) {
	s := newStore(t)
	if _, err := s.CreateQueue(&model.Queue{ID: "q1", Database: "db1", MaxSize: 100}); err != nil {
		t.Fatalf("create queue: %v", err)
	}

	// Versión vieja: alguien más ya actualizó.
	_, err := s.UpdateQueue(&model.Queue{ID: "q1", Database: "db1", MaxSize: 200, Version: 7})
	var lockErr *repository.OptimisticLockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("err = %v, want OptimisticLockError", err)
	}
	if lockErr.Expected != 7 || lockErr.Actual != 1 {
		t.Fatalf("lock err = %+v", lockErr)
	}

	// Con la versión correcta pasa.
	q, err := s.UpdateQueue(&model.Queue{ID: "q1", Database: "db1", MaxSize: 200, Version: 1})
	if err != nil {
		t.Fatalf("update with right version: %v", err)
	}
	if q.Version != 2 || q.MaxSize != 200 {
		t.Fatalf("queue = %+v", q)
	}
}

func TestFindPagination(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"c", "a", "b", "e", "d"} {
		if _, err := s.CreateDatabase(&model.Database{ID: id, Owner: "admin"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	dbs, err := s.FindDatabases(1, 2)
	if err != nil {
		t.Fatalf("find databases: %v", err)
	}
	if len(dbs) != 2 || dbs[0].ID != "b" || dbs[1].ID != "c" {
		t.Fatalf("window = %+v", dbs)
	}

	all, err := s.FindDatabases(0, -1)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len(all) = %d, want 5", len(all))
	}
	if n, _ := s.CountDatabases(); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
}

func TestApplyReplicatedPreservesIDs(t *testing.T) {
	s := newStore(t)

	tx, err := repository.NewTx(model.KindUser, model.OpCreate, "u1", 0, &model.User{ID: "u1", Version: 1})
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	tx.ID = 1
	if err := s.ApplyReplicated(tx); err != nil {
		t.Fatalf("apply replicated: %v", err)
	}
	if s.LastTxID() != 1 {
		t.Fatalf("last tx id = %d, want 1", s.LastTxID())
	}

	// Un id que saltea la secuencia se rechaza.
	tx.ID = 5
	tx.EntityID = "u2"
	if err := s.ApplyReplicated(tx); !errors.Is(err, txlog.ErrOutOfSequence) {
		t.Fatalf("err = %v, want ErrOutOfSequence", err)
	}
}

func TestWaiterReleasedByApply(t *testing.T) {
	s := newStore(t)

	w := s.CreateTxWaiter()
	defer w.Close()

	done := make(chan bool, 1)
	go func() { done <- w.WaitFor(1, time.Second) }()

	time.Sleep(20 * time.Millisecond)
	mustExec(t, s, model.KindUser, model.OpCreate, "u1", 0)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("waiter reported timeout after the tx applied")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never released")
	}
}

func TestWaiterAlreadySatisfied(t *testing.T) {
	s := newStore(t)
	mustExec(t, s, model.KindUser, model.OpCreate, "u1", 0)

	w := s.CreateTxWaiter()
	defer w.Close()
	if !w.WaitFor(1, 10*time.Millisecond) {
		t.Fatal("waiter should return immediately for an already-applied tx")
	}
}

func TestWaiterTimeout(t *testing.T) {
	s := newStore(t)

	w := s.CreateTxWaiter()
	defer w.Close()
	start := time.Now()
	if w.WaitFor(99, 50*time.Millisecond) {
		t.Fatal("waiter satisfied without the tx")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("waiter returned before its timeout")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	s, err := Open(txlog.NewMemory(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	w := s.CreateTxWaiter()

	done := make(chan bool, 1)
	go func() { done <- w.WaitFor(1, 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case ok := <-done:
		if ok {
			t.Fatal("waiter satisfied by close")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released on close")
	}
}

func TestReplayRebuildsModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txlog.db")

	log1, err := txlog.OpenBolt(path)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	s1, err := Open(log1, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := s1.CreateUser(&model.User{ID: "u1", PasswordHash: "h"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s1.CreateDatabase(&model.Database{ID: "db1", Owner: "u1"}); err != nil {
		t.Fatalf("create database: %v", err)
	}
	u, err := s1.FindUser("u1")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if _, err := s1.UpdateUser(&model.User{ID: "u1", PasswordHash: "h2", Version: u.Version}); err != nil {
		t.Fatalf("update user: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	log2, err := txlog.OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen bolt: %v", err)
	}
	s2, err := Open(log2, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()

	if s2.LastTxID() != 3 {
		t.Fatalf("last tx id after replay = %d, want 3", s2.LastTxID())
	}
	u2, err := s2.FindUser("u1")
	if err != nil {
		t.Fatalf("find user after replay: %v", err)
	}
	if u2.PasswordHash != "h2" || u2.Version != 2 {
		t.Fatalf("user after replay = %+v", u2)
	}
	if _, err := s2.FindDatabase("db1"); err != nil {
		t.Fatalf("find database after replay: %v", err)
	}
}

func mustExec(t *testing.T, s *Store, kind model.Kind, op model.Op, id string, version int) uint64 {
	t.Helper()
	var obj any
	switch kind {
	case model.KindUser:
		obj = &model.User{ID: id}
	case model.KindDatabase:
		obj = &model.Database{ID: id}
	default:
		t.Fatalf("unsupported kind %s in helper", kind)
	}
	txID, err := execObj(s, kind, op, id, version, obj)
	if err != nil {
		t.Fatalf("exec %s %s %s: %v", op, kind, id, err)
	}
	return txID
}
