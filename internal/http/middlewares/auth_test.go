package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qdb-io/qdbd/internal/cache"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
	"github.com/qdb-io/qdbd/internal/security/password"
	"github.com/qdb-io/qdbd/internal/store/standalone"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

var testHashParams = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLen: 32}

func newAuthFixture(t *testing.T, withCache bool) *Authenticator {
	t.Helper()
	s, err := standalone.Open(txlog.NewMemory(), eventbus.New())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hash, err := password.Hash(testHashParams, "hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := s.CreateUser(&model.User{ID: "alice", PasswordHash: hash}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	adminHash, err := password.Hash(testHashParams, "root-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := s.CreateUser(&model.User{ID: "root", PasswordHash: adminHash, Admin: true}); err != nil {
		t.Fatalf("create root: %v", err)
	}

	var c cache.Cache
	if withCache {
		c, err = cache.New(cache.Config{})
		if err != nil {
			t.Fatalf("new cache: %v", err)
		}
		t.Cleanup(func() { c.Close() })
	}
	return NewAuthenticator(s, c)
}

func doAuth(t *testing.T, a *Authenticator, user, pass string, withCreds bool) (*httptest.ResponseRecorder, *model.User) {
	t.Helper()
	var got *model.User
	h := a.WithBasicAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/databases", nil)
	if withCreds {
		req.SetBasicAuth(user, pass)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got
}

func TestBasicAuthAccepts(t *testing.T) {
	a := newAuthFixture(t, false)
	rec, u := doAuth(t, a, "alice", "hunter2", true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if u == nil || u.ID != "alice" || u.Admin {
		t.Fatalf("context user = %+v", u)
	}
}

func TestBasicAuthRejectsWrongPassword(t *testing.T) {
	a := newAuthFixture(t, false)
	rec, u := doAuth(t, a, "alice", "nope", true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if u != nil {
		t.Fatal("handler ran for a rejected request")
	}
}

func TestBasicAuthRejectsUnknownUser(t *testing.T) {
	a := newAuthFixture(t, false)
	rec, _ := doAuth(t, a, "mallory", "hunter2", true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBasicAuthChallengesWithoutCredentials(t *testing.T) {
	a := newAuthFixture(t, false)
	rec, _ := doAuth(t, a, "", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge")
	}
}

func TestBasicAuthCacheHit(t *testing.T) {
	a := newAuthFixture(t, true)

	if rec, _ := doAuth(t, a, "alice", "hunter2", true); rec.Code != http.StatusNoContent {
		t.Fatalf("first auth: %d", rec.Code)
	}
	// Segundo request con las mismas credenciales: sale del cache.
	if raw, ok := a.cache.Get(credentialsKey("alice", "hunter2")); !ok || len(raw) == 0 {
		t.Fatal("positive auth result was not cached")
	}
	if rec, _ := doAuth(t, a, "alice", "hunter2", true); rec.Code != http.StatusNoContent {
		t.Fatalf("cached auth: %d", rec.Code)
	}
	// El password equivocado no comparte key de cache.
	if rec, _ := doAuth(t, a, "alice", "otra", true); rec.Code != http.StatusUnauthorized {
		t.Fatal("wrong password must not hit the cached entry")
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(setUser(req.Context(), &model.User{ID: "alice"})))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(setUser(req.Context(), &model.User{ID: "root", Admin: true})))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin: status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous: status = %d, want 403", rec.Code)
	}
}

func TestClusterAuth(t *testing.T) {
	v, err := clustertoken.NewVerifier("prod", "s3cret")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	h := WithClusterAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	m, _ := clustertoken.NewMinter("prod", "s3cret", "node-b", 0)
	tok, err := m.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/cluster/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid token: status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/cluster/transactions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	otherMinter, _ := clustertoken.NewMinter("prod", "otro-secret", "intruso", 0)
	badTok, _ := otherMinter.Mint()
	req = httptest.NewRequest(http.MethodGet, "/cluster/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+badTok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}
}
