package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/http/helpers"
)

// ServersHandler administra el registro de nodos del cluster. Solo admins:
// el router lo monta detrás de RequireAdmin.
type ServersHandler struct {
	Repo repository.Repository
}

func (h *ServersHandler) Register(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.find)
	r.Put("/{id}", h.update)
}

func (h *ServersHandler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.URL.Query()["count"]; ok {
		n, err := h.Repo.CountServers()
		if err != nil {
			apierrors.WriteError(w, err)
			return
		}
		helpers.WriteJSON(w, r, http.StatusOK, map[string]int{"count": n})
		return
	}
	offset, limit, ok := helpers.OffsetLimit(r)
	if !ok {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("paginación inválida"))
		return
	}
	servers, err := h.Repo.FindServers(offset, limit)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, servers)
}

func (h *ServersHandler) find(w http.ResponseWriter, r *http.Request) {
	s, err := h.Repo.FindServer(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, s)
}

func (h *ServersHandler) create(w http.ResponseWriter, r *http.Request) {
	var in model.Server
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if in.ID == "" || in.URL == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("id y url son requeridos"))
		return
	}
	in.Version = 0
	out, err := h.Repo.CreateServer(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusCreated, out)
}

func (h *ServersHandler) update(w http.ResponseWriter, r *http.Request) {
	var in model.Server
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	in.ID = chi.URLParam(r, "id")
	out, err := h.Repo.UpdateServer(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, out)
}
