package cluster

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/store/standalone"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

// manualStrategy deja que el test controle cuándo y a quién se anuncia como
// master. ChooseMaster solo cuenta llamadas; el anuncio es explícito.
type manualStrategy struct {
	bus *eventbus.Bus

	mu    sync.Mutex
	calls int
}

func (s *manualStrategy) ChooseMaster() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *manualStrategy) Close() error { return nil }

func (s *manualStrategy) chooseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *manualStrategy) announce(m *model.Server) {
	s.bus.Publish(MasterFound{Master: m})
}

func newTestRepo(t *testing.T, timeout time.Duration) (*ClusteredRepository, *manualStrategy, repository.LocalStore) {
	t.Helper()
	bus := eventbus.New()
	local, err := standalone.Open(txlog.NewMemory(), bus)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	strat := &manualStrategy{bus: bus}
	repo, err := New(Options{
		Local:         local,
		Strategy:      strat,
		Bus:           bus,
		Self:          &model.Server{ID: "node-a", URL: "http://node-a:9090"},
		ClusterName:   "test",
		ClusterSecret: "secret",
		MasterTimeout: timeout,
		PullInterval:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new clustered repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	// New dispara una primera elección; los tests cuentan desde cero.
	strat.mu.Lock()
	strat.calls = 0
	strat.mu.Unlock()
	return repo, strat, local
}

func TestExecUnavailableBeforeElection(t *testing.T) {
	repo, _, _ := newTestRepo(t, time.Second)

	_, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestExecLocalWhenMaster(t *testing.T) {
	repo, strat, local := newTestRepo(t, time.Second)
	strat.announce(&model.Server{ID: "node-a", URL: "http://node-a:9090"})

	if !repo.IsMaster() {
		t.Fatal("expected node to consider itself master")
	}
	u, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Version != 1 {
		t.Fatalf("version = %d, want 1", u.Version)
	}
	if local.LastTxID() != 1 {
		t.Fatalf("last tx id = %d, want 1", local.LastTxID())
	}
}

func TestStatusReflectsMaster(t *testing.T) {
	repo, strat, _ := newTestRepo(t, time.Second)

	if repo.Status().IsUp() {
		t.Fatal("status up before any master")
	}
	strat.announce(&model.Server{ID: "node-a", URL: "http://node-a:9090"})
	if !repo.Status().IsUp() {
		t.Fatal("status down after master found")
	}
}

// fakeMaster es un master remoto de mentira: aplica forwards sobre su propio
// local store y sirve el tail para el pull loop del follower.
type fakeMaster struct {
	t     *testing.T
	local repository.LocalStore

	mu          sync.Mutex
	forwardCode int  // si != 0, responde ese código en vez de aplicar
	muteTail    bool // si true, el tail responde siempre vacío
}

func (f *fakeMaster) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /cluster/transactions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		code := f.forwardCode
		f.mu.Unlock()
		if code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    "TEST",
				"message": "rejected by test master",
			})
			return
		}
		var tx repository.Tx
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			f.t.Errorf("decode forwarded tx: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id, err := f.local.Exec(tx)
		if err != nil {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(repository.TxID{ID: id})
	})
	mux.HandleFunc("GET /cluster/transactions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		mute := f.muteTail
		f.mu.Unlock()
		if mute {
			_ = json.NewEncoder(w).Encode([]repository.Tx{})
			return
		}
		since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
		txs, err := f.local.TxsSince(since, 512)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(txs)
	})
	return mux
}

func startFakeMaster(t *testing.T) (*fakeMaster, *model.Server) {
	t.Helper()
	mlocal, err := standalone.Open(txlog.NewMemory(), eventbus.New())
	if err != nil {
		t.Fatalf("open master store: %v", err)
	}
	fm := &fakeMaster{t: t, local: mlocal}
	ts := httptest.NewServer(fm.handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { mlocal.Close() })
	return fm, &model.Server{ID: "node-m", URL: ts.URL}
}

func TestForwardAndWaitForReplication(t *testing.T) {
	repo, strat, local := newTestRepo(t, 2*time.Second)
	_, master := startFakeMaster(t)
	strat.announce(master)

	if repo.IsMaster() {
		t.Fatal("follower believes it is master")
	}
	u, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("forwarded create: %v", err)
	}
	if u.ID != "u1" || u.Version != 1 {
		t.Fatalf("replicated user = %+v", u)
	}
	if local.LastTxID() == 0 {
		t.Fatal("follower local store did not apply the replicated tx")
	}
}

func TestForwardModelErrorKeepsMaster(t *testing.T) {
	repo, strat, _ := newTestRepo(t, time.Second)
	fm, master := startFakeMaster(t)
	strat.announce(master)

	fm.mu.Lock()
	fm.forwardCode = http.StatusConflict
	fm.mu.Unlock()

	_, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if !repository.IsModel(err) {
		t.Fatalf("err = %v, want ModelError", err)
	}
	// Un rechazo de aplicación no es un problema de cluster.
	if repo.Master() == nil {
		t.Fatal("master dropped after model error")
	}
	if calls := strat.chooseCalls(); calls != 0 {
		t.Fatalf("re-election triggered %d times after model error", calls)
	}
}

func TestForwardStaleMasterTriggersReelection(t *testing.T) {
	repo, strat, _ := newTestRepo(t, time.Second)
	fm, master := startFakeMaster(t)
	strat.announce(master)

	fm.mu.Lock()
	fm.forwardCode = http.StatusGone
	fm.mu.Unlock()

	_, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if !errors.Is(err, repository.ErrNotMaster) {
		t.Fatalf("err = %v, want ErrNotMaster", err)
	}
	if repo.Master() != nil {
		t.Fatal("master not cleared after 410")
	}
	if repo.Status().IsUp() {
		t.Fatal("status still up after losing master")
	}
	if calls := strat.chooseCalls(); calls == 0 {
		t.Fatal("re-election not triggered after 410")
	}
}

func TestForwardTimeoutTriggersReelection(t *testing.T) {
	repo, strat, _ := newTestRepo(t, 100*time.Millisecond)
	fm, master := startFakeMaster(t)
	fm.mu.Lock()
	fm.muteTail = true // el master aplica pero la replicación "nunca llega"
	fm.mu.Unlock()
	strat.announce(master)

	start := time.Now()
	_, err := repo.CreateUser(&model.User{ID: "u1", PasswordHash: "x"})
	if !errors.Is(err, repository.ErrMasterTimeout) {
		t.Fatalf("err = %v, want ErrMasterTimeout", err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("returned before the master timeout elapsed")
	}
	if calls := strat.chooseCalls(); calls == 0 {
		t.Fatal("re-election not triggered after timeout")
	}
}

// brokenApplyStore delega todo en el store real salvo ApplyReplicated, que
// falla mientras el test lo tenga armado.
type brokenApplyStore struct {
	repository.LocalStore

	mu   sync.Mutex
	fail error
}

func (s *brokenApplyStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *brokenApplyStore) ApplyReplicated(tx repository.Tx) error {
	s.mu.Lock()
	err := s.fail
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.LocalStore.ApplyReplicated(tx)
}

func TestPullApplyFailureTriggersReelection(t *testing.T) {
	bus := eventbus.New()
	inner, err := standalone.Open(txlog.NewMemory(), bus)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	broken := &brokenApplyStore{LocalStore: inner}
	broken.setFail(errors.New("txlog write failed"))
	strat := &manualStrategy{bus: bus}
	repo, err := New(Options{
		Local:         broken,
		Strategy:      strat,
		Bus:           bus,
		Self:          &model.Server{ID: "node-a", URL: "http://node-a:9090"},
		ClusterName:   "test",
		ClusterSecret: "secret",
		MasterTimeout: time.Second,
		PullInterval:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new clustered repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	strat.mu.Lock()
	strat.calls = 0
	strat.mu.Unlock()

	fm, master := startFakeMaster(t)
	tx, err := repository.NewTx(model.KindUser, model.OpCreate, "u1", 0, &model.User{ID: "u1"})
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	if _, err := fm.local.Exec(tx); err != nil {
		t.Fatalf("seed master tx: %v", err)
	}
	strat.announce(master)

	// El primer apply falla: el pull loop tiene que soltar el rol y pedir
	// una re-elección en vez de quedarse mudo sirviendo reads viejos.
	deadline := time.Now().Add(2 * time.Second)
	for strat.chooseCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if strat.chooseCalls() == 0 {
		t.Fatal("re-election not triggered after apply failure")
	}
	if repo.Master() != nil {
		t.Fatal("master not cleared after apply failure")
	}
	if repo.Status().IsUp() {
		t.Fatal("status still up after apply failure")
	}
	if inner.LastTxID() != 0 {
		t.Fatalf("last tx id = %d, want 0", inner.LastTxID())
	}

	// Con el store sano de nuevo, el próximo anuncio rearma la replicación.
	broken.setFail(nil)
	strat.announce(master)
	deadline = time.Now().Add(2 * time.Second)
	for inner.LastTxID() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if inner.LastTxID() != 1 {
		t.Fatalf("last tx id = %d, want 1 after recovery", inner.LastTxID())
	}
}

func TestAppendTxFromFollower(t *testing.T) {
	repo, strat, _ := newTestRepo(t, time.Second)

	tx, err := repository.NewTx(model.KindUser, model.OpCreate, "u1", 0, &model.User{ID: "u1"})
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	if _, err := repo.AppendTxFromFollower(tx); !errors.Is(err, repository.ErrNotMaster) {
		t.Fatalf("err = %v, want ErrNotMaster while not master", err)
	}

	strat.announce(&model.Server{ID: "node-a", URL: "http://node-a:9090"})
	id, err := repo.AppendTxFromFollower(tx)
	if err != nil {
		t.Fatalf("append as master: %v", err)
	}
	if id != 1 {
		t.Fatalf("tx id = %d, want 1", id)
	}
}

func TestMasterChangeReplacesLink(t *testing.T) {
	repo, strat, _ := newTestRepo(t, time.Second)
	_, masterA := startFakeMaster(t)
	_, masterB := startFakeMaster(t)

	strat.announce(masterA)
	if got := repo.Master(); got == nil || got.ID != masterA.ID {
		t.Fatalf("master = %v, want %s", got, masterA.ID)
	}
	strat.announce(masterB)
	if got := repo.Master(); got == nil || got.ID != masterB.ID {
		t.Fatalf("master = %v, want %s", got, masterB.ID)
	}

	// Re-anunciar el mismo master es un no-op.
	before := repo.Status()
	strat.announce(masterB)
	if after := repo.Status(); before.UpSince == nil || after.UpSince == nil || !before.UpSince.Equal(*after.UpSince) {
		t.Fatalf("upSince changed on duplicate announce: %v -> %v", before.UpSince, after.UpSince)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	bus := eventbus.New()
	local, err := standalone.Open(txlog.NewMemory(), bus)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	strat := &manualStrategy{bus: bus}
	repo, err := New(Options{
		Local:         local,
		Strategy:      strat,
		Bus:           bus,
		Self:          &model.Server{ID: "node-a", URL: "http://node-a:9090"},
		ClusterName:   "test",
		ClusterSecret: "secret",
		MasterTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new clustered repository: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := repo.CreateUser(&model.User{ID: "u1"}); !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("err after close = %v, want ErrUnavailable", err)
	}
	// Idempotente.
	if err := repo.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
