// Package errors mapea errores del dominio a respuestas HTTP uniformes.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/qdb-io/qdbd/internal/domain/repository"
)

// errorResponse estructura interna para la serialización JSON.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe una respuesta HTTP basada en el error proporcionado.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

// FromError convierte cualquier error en un AppError. Los errores del
// repositorio tienen mapeo fijo; el resto cae en 500 conservando la causa.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	var lockErr *repository.OptimisticLockError
	switch {
	case stderrors.As(err, &lockErr):
		return ErrVersionMismatch.WithDetail(lockErr.Error())
	case repository.IsModel(err):
		return ErrConflict.WithDetail(err.Error())
	case stderrors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case stderrors.Is(err, repository.ErrNotMaster):
		return ErrStaleMaster.WithCause(err)
	case stderrors.Is(err, repository.ErrMasterTimeout):
		return ErrMasterTimeout.WithCause(err)
	case stderrors.Is(err, repository.ErrUnavailable):
		return ErrServiceUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}
