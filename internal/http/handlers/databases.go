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

// DatabasesHandler administra bases de datos lógicas. Un usuario común solo
// ve y maneja las bases a las que tiene acceso; un admin ve todas.
type DatabasesHandler struct {
	Repo repository.Repository
}

func (h *DatabasesHandler) Register(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.find)
	r.Put("/{id}", h.update)
}

func (h *DatabasesHandler) list(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	offset, limit, ok := helpers.OffsetLimit(r)
	if !ok {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("paginación inválida"))
		return
	}

	// El filtrado por acceso se hace post-query, así que la paginación se
	// aplica acá y no en el repositorio.
	all, err := h.Repo.FindDatabases(0, -1)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	visible := make([]*model.Database, 0, len(all))
	for _, db := range all {
		if caller.Admin || caller.CanAccess(db.ID) {
			visible = append(visible, db)
		}
	}
	visible = paginate(visible, offset, limit)
	helpers.WriteJSON(w, r, http.StatusOK, visible)
}

func (h *DatabasesHandler) find(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	id := chi.URLParam(r, "id")
	if !caller.Admin && !caller.CanAccess(id) {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}
	db, err := h.Repo.FindDatabase(id)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, db)
}

func (h *DatabasesHandler) create(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	var in model.Database
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if in.ID == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("id es requerido"))
		return
	}
	if !caller.Admin {
		// Un usuario común solo crea bases propias.
		in.Owner = caller.ID
	}
	if in.Owner == "" {
		in.Owner = caller.ID
	}
	in.Version = 0
	out, err := h.Repo.CreateDatabase(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusCreated, out)
}

func (h *DatabasesHandler) update(w http.ResponseWriter, r *http.Request) {
	caller := middlewares.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	cur, err := h.Repo.FindDatabase(id)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if !caller.Admin && cur.Owner != caller.ID {
		apierrors.WriteError(w, apierrors.ErrForbidden)
		return
	}

	var in model.Database
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	in.ID = id
	if !caller.Admin {
		in.Owner = cur.Owner // el ownership solo lo cambia un admin
	}
	out, err := h.Repo.UpdateDatabase(&in)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, out)
}

// paginate recorta un slice ya filtrado. limit < 0 significa "todo".
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
