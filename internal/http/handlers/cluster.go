package handlers

import (
	"net/http"
	"strconv"

	"github.com/qdb-io/qdbd/internal/domain/repository"
	apierrors "github.com/qdb-io/qdbd/internal/http/errors"
	"github.com/qdb-io/qdbd/internal/http/helpers"
	"github.com/qdb-io/qdbd/internal/observability/logger"
)

const (
	defaultTxBatch = 512
	maxTxBatch     = 4096
)

// ClusterTxHandler sirve el endpoint intra-cluster de transacciones:
//
//	POST /cluster/transactions          forward de un follower al master
//	GET  /cluster/transactions?since=N  tail del log para replicación
//
// Ambas van detrás de WithClusterAuth.
type ClusterTxHandler struct {
	Repo TxReceiver
}

func (h *ClusterTxHandler) Append(w http.ResponseWriter, r *http.Request) {
	var tx repository.Tx
	if !helpers.ReadJSON(w, r, &tx) {
		return
	}
	if !tx.Kind.Valid() || !tx.Op.Valid() || tx.EntityID == "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("transacción incompleta"))
		return
	}

	id, err := h.Repo.AppendTxFromFollower(tx)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Debug("forwarded tx applied",
		logger.TxID(id),
		logger.Kind(string(tx.Kind)),
		logger.EntityID(tx.EntityID),
	)
	helpers.WriteJSON(w, r, http.StatusCreated, repository.TxID{ID: id})
}

func (h *ClusterTxHandler) Tail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := strconv.ParseUint(q.Get("since"), 10, 64)
	if err != nil && q.Get("since") != "" {
		apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("since inválido"))
		return
	}
	limit := defaultTxBatch
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			apierrors.WriteError(w, apierrors.ErrBadRequest.WithDetail("limit inválido"))
			return
		}
	}
	if limit > maxTxBatch {
		limit = maxTxBatch
	}

	txs, err := h.Repo.TxsSince(since, limit)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if txs == nil {
		txs = []repository.Tx{}
	}
	helpers.WriteJSON(w, r, http.StatusOK, txs)
}
