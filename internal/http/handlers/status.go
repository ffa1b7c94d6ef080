package handlers

import (
	"net/http"
	"time"

	"github.com/qdb-io/qdbd/internal/http/helpers"
)

type statusResponse struct {
	Up       bool       `json:"up"`
	UpSince  *time.Time `json:"upSince,omitempty"`
	IsMaster bool       `json:"isMaster"`
	Master   *masterRef `json:"master,omitempty"`
	LastTxID uint64     `json:"lastTxId"`
}

type masterRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StatusHandler responde GET /status con el estado de cluster del nodo.
// No requiere auth: lo consultan health checks y los operadores a mano.
type StatusHandler struct {
	Cluster ClusterInfo
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.Cluster.Status()
	resp := statusResponse{
		Up:       st.IsUp(),
		UpSince:  st.UpSince,
		IsMaster: h.Cluster.IsMaster(),
		LastTxID: h.Cluster.LastTxID(),
	}
	if m := h.Cluster.Master(); m != nil {
		resp.Master = &masterRef{ID: m.ID, URL: m.URL}
	}
	status := http.StatusOK
	if !resp.Up {
		// Un nodo sin master confirmado no debe recibir tráfico.
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, r, status, resp)
}
