package middlewares

import (
	"net/http"
	"strings"

	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/observability/logger"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
)

// WithClusterAuth protege los endpoints intra-cluster: solo acepta Bearer
// tokens acuñados por nodos del mismo cluster (mismo secreto compartido).
func WithClusterAuth(v *clustertoken.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			const prefix = "Bearer "
			if !strings.HasPrefix(raw, prefix) {
				apierrors.WriteError(w, apierrors.ErrUnauthorized.WithDetail("cluster token requerido"))
				return
			}
			peer, err := v.Verify(strings.TrimSpace(raw[len(prefix):]))
			if err != nil {
				logger.From(r.Context()).Warn("cluster token rejected", logger.Err(err))
				apierrors.WriteError(w, apierrors.ErrInvalidCredentials.WithDetail("cluster token inválido"))
				return
			}
			logger.From(r.Context()).Debug("cluster peer authenticated", logger.NodeID(peer))
			next.ServeHTTP(w, r)
		})
	}
}
