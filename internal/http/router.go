// Package http arma el router de qdbd: API pública autenticada, endpoints
// intra-cluster y superficies operativas (/status, /metrics).
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/http/handlers"
	"github.com/qdb-io/qdbd/internal/http/middlewares"
	"github.com/qdb-io/qdbd/internal/rate"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
)

// RouterDeps agrupa lo que el router necesita ya construido.
type RouterDeps struct {
	Repo     repository.Repository
	Cluster  handlers.ClusterInfo
	Receiver handlers.TxReceiver
	Auth     *middlewares.Authenticator
	Verifier *clustertoken.Verifier
	Registry *prometheus.Registry
	Limiter  rate.Limiter // opcional; limita solo /api
}

// NewRouter construye el árbol de rutas completo.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithRecover())
	r.Use(middlewares.WithLogging())

	// Superficies operativas, sin auth.
	r.Method(http.MethodGet, "/status", &handlers.StatusHandler{Cluster: d.Cluster})
	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	// Canal intra-cluster: tokens de cluster, nunca credenciales de usuario.
	clusterTx := &handlers.ClusterTxHandler{Repo: d.Receiver}
	r.Route("/cluster", func(r chi.Router) {
		r.Use(middlewares.WithClusterAuth(d.Verifier))
		r.Post("/transactions", clusterTx.Append)
		r.Get("/transactions", clusterTx.Tail)
	})

	// API pública.
	r.Route("/api", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(middlewares.WithRateLimit(d.Limiter))
		}
		r.Use(d.Auth.WithBasicAuth())

		r.Route("/servers", func(r chi.Router) {
			r.Use(middlewares.RequireAdmin())
			(&handlers.ServersHandler{Repo: d.Repo}).Register(r)
		})
		r.Route("/users", func(r chi.Router) {
			r.Use(middlewares.RequireAdmin())
			(&handlers.UsersHandler{Repo: d.Repo}).Register(r)
		})
		r.Route("/databases", func(r chi.Router) {
			(&handlers.DatabasesHandler{Repo: d.Repo}).Register(r)
		})
		r.Route("/queues", func(r chi.Router) {
			(&handlers.QueuesHandler{Repo: d.Repo}).Register(r)
		})
	})

	return r
}
