package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/http/helpers"
	"github.com/qdb-io/qdbd/internal/http/middlewares"
)

// QueuesHandler administra colas. El acceso se deriva de la base a la que
// pertenece cada cola.
type QueuesHandler struct {
	Repo repository.Repository
}

func (h *QueuesHandler) Register(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.find)
	r.Put("/{id}", h.update)
}

func (h *QueuesHandler) list(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	offset, limit, ok := helpers.OffsetLimit(r)
	if !ok {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("paginación inválida"))
		return
	}
	all, err := h.Repo.FindQueues(0, -1)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	visible := make([]*model.Queue, 0, len(all))
	for _, q := range all {
		if caller.Admin || caller.CanAccess(q.Database) {
			visible = append(visible, q)
		}
	}
	visible = paginate(visible, offset, limit)
	helpers.WriteJSON(w, r, http.StatusOK, visible)
}

func (h *QueuesHandler) find(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	q, err := h.Repo.FindQueue(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if !caller.Admin && !caller.CanAccess(q.Database) {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, q)
}

func (h *QueuesHandler) create(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	var in model.Queue
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if in.ID == "" || in.Database == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("id y database son requeridos"))
		return
	}
	if !caller.Admin && !caller.CanAccess(in.Database) {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}
	// La base tiene que existir antes que sus colas.
	if _, err := h.Repo.FindDatabase(in.Database); err != nil {
		apierrors.WriteError(w, err)
		return
	}
	in.Version = 0
	out, err := h.Repo.CreateQueue(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusCreated, out)
}

func (h *QueuesHandler) update(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	cur, err := h.Repo.FindQueue(id)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if !caller.Admin && !caller.CanAccess(cur.Database) {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}

	var in model.Queue
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	in.ID = id
	in.Database = cur.Database // una cola no se muda de base
	out, err := h.Repo.UpdateQueue(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, out)
}
