package helpers

import (
	"net/http"
	"strconv"
)

// OffsetLimit parsea los query params de paginación. Sin limit explícito se
// devuelve -1, que el repositorio interpreta como "todo".
func OffsetLimit(r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	offset, limit = 0, -1
	if s := q.Get("offset"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		offset = v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		limit = v
	}
	return offset, limit, true
}
