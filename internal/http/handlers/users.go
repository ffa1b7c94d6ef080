package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/http/helpers"
	"github.com/qdb-io/qdbd/internal/security/password"
)

// userIn es el body de create/update: trae el password plano, que acá se
// convierte a hash antes de tocar el repositorio.
type userIn struct {
	ID        string   `json:"id"`
	Password  string   `json:"password,omitempty"`
	Admin     bool     `json:"admin"`
	Databases []string `json:"databases"`
	Version   int      `json:"version"`
}

// userOut nunca expone el hash.
type userOut struct {
	ID        string   `json:"id"`
	Admin     bool     `json:"admin"`
	Databases []string `json:"databases"`
	Version   int      `json:"version"`
}

func toUserOut(u *model.User) userOut {
	return userOut{ID: u.ID, Admin: u.Admin, Databases: u.Databases, Version: u.Version}
}

// UsersHandler administra usuarios. Solo admins.
type UsersHandler struct {
	Repo repository.Repository
}

func (h *UsersHandler) Register(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.find)
	r.Put("/{id}", h.update)
}

func (h *UsersHandler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.URL.Query()["count"]; ok {
		n, err := h.Repo.CountUsers()
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
	users, err := h.Repo.FindUsers(offset, limit)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	out := make([]userOut, 0, len(users))
	for _, u := range users {
		out = append(out, toUserOut(u))
	}
	helpers.WriteJSON(w, r, http.StatusOK, out)
}

func (h *UsersHandler) find(w http.ResponseWriter, r *http.Request) {
	u, err := h.Repo.FindUser(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, toUserOut(u))
}

func (h *UsersHandler) create(w http.ResponseWriter, r *http.Request) {
	var in userIn
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	if in.ID == "" || in.Password == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("id y password son requeridos"))
		return
	}
	hash, err := password.Hash(password.Default, in.Password)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithCause(err))
		return
	}
	u := &model.User{ID: in.ID, PasswordHash: hash, Admin: in.Admin, Databases: in.Databases}
	out, err := h.Repo.CreateUser(u)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusCreated, toUserOut(out))
}

func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request) {
	var in userIn
	if !helpers.ReadJSON(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "id")

	// El hash vigente se preserva salvo que venga password nuevo. La
	// lectura previa no compromete el optimistic locking: la versión que
	// decide es la del body.
	cur, err := h.Repo.FindUser(id)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	hash := cur.PasswordHash
	if in.Password != "" {
		hash, err = password.Hash(password.Default, in.Password)
		if err != nil {
			apierrors.WriteError(w, apierrors.ErrBadRequest.WithCause(err))
			return
		}
	}
	u := &model.User{
		ID:           id,
		PasswordHash: hash,
		Admin:        in.Admin,
		Databases:    in.Databases,
		Version:      in.Version,
	}
	out, err := h.Repo.UpdateUser(u)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, r, http.StatusOK, toUserOut(out))
}
