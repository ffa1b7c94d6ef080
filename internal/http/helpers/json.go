// Package helpers agrupa utilidades compartidas por los handlers HTTP.
package helpers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
)

// WriteJSON: respuesta JSON estándar. Por defecto sale indentada (la API se
// usa mucho desde curl); el query param ?borg la compacta para máquinas.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if _, borg := r.URL.Query()["borg"]; !borg {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// ReadJSON: decodifica JSON de forma tolerante (NO falla por campos
// desconocidos). Valida Content-Type y limita el body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		apierrors.WriteError(w, apierrors.ErrInvalidJSON.WithDetail("Content-Type debe ser application/json"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		apierrors.WriteError(w, apierrors.ErrInvalidJSON.WithCause(err))
		return false
	}
	return true
}
