package cluster

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
)

func newTestLink(t *testing.T, handler http.HandlerFunc) *MasterLink {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	minter, err := clustertoken.NewMinter("test", "secret", "node-a", 0)
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	return NewMasterLink(&model.Server{ID: "node-m", URL: ts.URL}, minter, 2*time.Second)
}

func testTx(t *testing.T) repository.Tx {
	t.Helper()
	tx, err := repository.NewTx(model.KindQueue, model.OpCreate, "q1", 0, &model.Queue{ID: "q1", Database: "db1"})
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	return tx
}

func TestForwardSendsBearerToken(t *testing.T) {
	var auth string
	link := newTestLink(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(repository.TxID{ID: 7})
	})

	id, err := link.Forward(testTx(t))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("authorization header = %q, want Bearer token", auth)
	}
	v, err := clustertoken.NewVerifier("test", "secret")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	peer, err := v.Verify(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		t.Fatalf("verify forwarded token: %v", err)
	}
	if peer != "node-a" {
		t.Fatalf("token subject = %q, want node-a", peer)
	}
}

func TestForwardConflictMapsToModelError(t *testing.T) {
	link := newTestLink(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "CONFLICT",
			"message": "La solicitud entra en conflicto con el estado actual del servidor.",
			"detail":  `queue "q1" already exists`,
		})
	})

	_, err := link.Forward(testTx(t))
	if !repository.IsModel(err) {
		t.Fatalf("err = %v, want ModelError", err)
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want detail from envelope", err)
	}
}

func TestForwardGoneMapsToStaleMaster(t *testing.T) {
	link := newTestLink(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, err := link.Forward(testTx(t))
	if !errors.Is(err, ErrStaleMaster) {
		t.Fatalf("err = %v, want ErrStaleMaster", err)
	}
}

func TestForwardUnexpectedStatus(t *testing.T) {
	link := newTestLink(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	})

	_, err := link.Forward(testTx(t))
	var rcErr *ResponseCodeError
	if !errors.As(err, &rcErr) {
		t.Fatalf("err = %v, want ResponseCodeError", err)
	}
	if rcErr.Code != http.StatusTeapot {
		t.Fatalf("code = %d, want 418", rcErr.Code)
	}
}

func TestFetchDecodesTail(t *testing.T) {
	want := []repository.Tx{
		{ID: 3, Kind: model.KindUser, Op: model.OpCreate, EntityID: "u1"},
		{ID: 4, Kind: model.KindUser, Op: model.OpUpdate, EntityID: "u1", Version: 1},
	}
	link := newTestLink(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "2" {
			t.Errorf("since = %q, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		_ = json.NewEncoder(w).Encode(want)
	})

	txs, err := link.Fetch(2, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(txs) != 2 || txs[0].ID != 3 || txs[1].ID != 4 {
		t.Fatalf("txs = %+v", txs)
	}
}
