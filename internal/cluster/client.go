package cluster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/metrics"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
)

// ErrStaleMaster es el rechazo "ya no soy master" (410 en el wire). El
// orquestador lo mapea a repository.ErrNotMaster y dispara re-elección.
var ErrStaleMaster = errors.New("target node is no longer master")

// ResponseCodeError es cualquier otra respuesta no-2xx del master. Se
// propaga sin envolver: un error de transporte nunca se disfraza de
// not-master.
type ResponseCodeError struct {
	Code int
	Text string
}

func (e *ResponseCodeError) Error() string {
	return fmt.Sprintf("master returned %d: %s", e.Code, e.Text)
}

// MasterLink es el cliente RPC atado al master actual. El handle se comparte
// entre todos los callers concurrentes y se reemplaza (nunca se muta) en
// cada cambio de rol, así los forwards en vuelo terminan contra un snapshot
// consistente. Un solo forward en vuelo por llamada; sin retry interno.
type MasterLink struct {
	server *model.Server
	hc     *http.Client
	tokens *clustertoken.Minter
}

// NewMasterLink crea el link al server dado con el timeout de operación de
// master configurado.
func NewMasterLink(server *model.Server, tokens *clustertoken.Minter, timeout time.Duration) *MasterLink {
	return &MasterLink{
		server: server,
		tokens: tokens,
		hc:     &http.Client{Timeout: timeout},
	}
}

// Server retorna el nodo al que está atado este link.
func (l *MasterLink) Server() *model.Server { return l.server }

// Forward envía tx al master para que la aplique y retorna el id asignado.
// Mapeo de respuestas: 409 → ModelError (rechazo legítimo de aplicación),
// 410 → ErrStaleMaster, otro no-2xx → ResponseCodeError.
func (l *MasterLink) Forward(tx repository.Tx) (uint64, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return 0, err
	}
	req, err := l.newRequest(http.MethodPost, "/cluster/transactions", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := l.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	metrics.ForwardLatency.Observe(float64(time.Since(start).Milliseconds()))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out repository.TxID
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, fmt.Errorf("decode tx id: %w", err)
		}
		return out.ID, nil
	case http.StatusConflict:
		return 0, repository.NewModelError("%s", readErrorMessage(resp.Body))
	case http.StatusGone:
		return 0, fmt.Errorf("%s: %w", l.server.ID, ErrStaleMaster)
	default:
		return 0, &ResponseCodeError{Code: resp.StatusCode, Text: readText(resp.Body)}
	}
}

// Fetch trae hasta limit transacciones con id > since del log del master.
// Lo usa el loop de replicación del follower.
func (l *MasterLink) Fetch(since uint64, limit int) ([]repository.Tx, error) {
	path := "/cluster/transactions?since=" + strconv.FormatUint(since, 10) +
		"&limit=" + strconv.Itoa(limit)
	req, err := l.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ResponseCodeError{Code: resp.StatusCode, Text: readText(resp.Body)}
	}
	var txs []repository.Tx
	if err := json.NewDecoder(resp.Body).Decode(&txs); err != nil {
		return nil, fmt.Errorf("decode txs: %w", err)
	}
	return txs, nil
}

// Close descarta el link y drena las conexiones idle hacia el master
// anterior. Los requests en vuelo contra este handle terminan solos.
func (l *MasterLink) Close() error {
	l.hc.CloseIdleConnections()
	return nil
}

func (l *MasterLink) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, strings.TrimRight(l.server.URL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	token, err := l.tokens.Mint()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func readText(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}

// readErrorMessage extrae el mensaje del envelope de error JSON de la API;
// si el body no es ese envelope, devuelve el texto crudo.
func readErrorMessage(r io.Reader) string {
	raw := readText(r)
	var e struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(raw), &e); err == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return raw
}
