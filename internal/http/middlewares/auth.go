package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/qdb-io/qdbd/internal/cache"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/security/password"
)

const authCacheTTL = 2 * time.Minute

// Authenticator resuelve HTTP Basic contra los usuarios del repositorio.
// Verificar argon2id por request es caro; los resultados positivos se
// cachean un rato corto. El cache se keyea por digest de las credenciales,
// así un cambio de password invalida la entrada sola.
type Authenticator struct {
	repo  repository.Repository
	cache cache.Cache
}

func NewAuthenticator(repo repository.Repository, c cache.Cache) *Authenticator {
	return &Authenticator{repo: repo, cache: c}
}

// WithBasicAuth autentica el request e inyecta el usuario en el contexto.
func (a *Authenticator) WithBasicAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, plain, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="qdb"`)
				apierrors.WriteError(w, apierrors.ErrUnauthorized)
				return
			}

			u, err := a.authenticate(id, plain)
			if err != nil {
				apierrors.WriteError(w, apierrors.ErrInvalidCredentials)
				return
			}
			next.ServeHTTP(w, r.WithContext(setUser(r.Context(), u)))
		})
	}
}

func (a *Authenticator) authenticate(id, plain string) (*model.User, error) {
	key := credentialsKey(id, plain)
	if a.cache != nil {
		if raw, ok := a.cache.Get(key); ok {
			var u model.User
			if err := json.Unmarshal(raw, &u); err == nil {
				return &u, nil
			}
		}
	}

	u, err := a.repo.FindUser(id)
	if err != nil {
		return nil, err
	}
	if !password.Verify(plain, u.PasswordHash) {
		return nil, errors.New("password mismatch")
	}
	if a.cache != nil {
		if raw, err := json.Marshal(u); err == nil {
			a.cache.Set(key, raw, authCacheTTL)
		}
	}
	return u, nil
}

func credentialsKey(id, plain string) string {
	sum := sha256.Sum256([]byte(id + "\x00" + plain))
	return "auth:" + hex.EncodeToString(sum[:])
}

// RequireAdmin corta con 403 si el usuario autenticado no es admin.
func RequireAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := GetUser(r.Context())
			if u == nil || !u.Admin {
				apierrors.WriteError(w, apierrors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
