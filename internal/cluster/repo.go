package cluster

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/metrics"
	"github.com/qdb-io/qdbd/internal/observability/logger"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
)

const defaultPullInterval = 250 * time.Millisecond

// Options arma un ClusteredRepository.
type Options struct {
	Local    repository.LocalStore
	Strategy MasterStrategy
	Bus      *eventbus.Bus
	Self     *model.Server

	ClusterName   string
	ClusterSecret string
	MasterTimeout time.Duration

	// PullInterval es el período del loop de replicación del follower.
	// Default 250ms.
	PullInterval time.Duration
}

// ClusteredRepository presenta el contrato de repositorio de un solo nodo
// mientras rutea las escrituras por el master actual y maneja los cambios de
// rol de forma transparente. Los reads van siempre al local store: un
// follower puede devolver datos levemente viejos y el optimistic locking
// absorbe la diferencia.
type ClusteredRepository struct {
	local    repository.LocalStore
	strategy MasterStrategy
	bus      *eventbus.Bus
	self     *model.Server
	tokens   *clustertoken.Minter

	masterTimeout time.Duration
	pullInterval  time.Duration

	// Estado de rol. Secciones críticas cortas: comparaciones y swaps de
	// punteros, nunca se sostiene el lock a través de un call de red.
	mu       sync.Mutex
	master   *model.Server
	upSince  time.Time
	link     *MasterLink
	pullStop chan struct{}
	closed   bool

	electing    singleflight.Group
	unsubscribe func()
}

// New construye el repositorio, se suscribe a los anuncios de elección y
// dispara la primera elección de master.
func New(opts Options) (*ClusteredRepository, error) {
	if opts.Local == nil || opts.Strategy == nil || opts.Bus == nil || opts.Self == nil {
		return nil, errors.New("cluster: invalid Options")
	}
	if opts.MasterTimeout <= 0 {
		return nil, errors.New("cluster: MasterTimeout must be positive")
	}
	tokens, err := clustertoken.NewMinter(opts.ClusterName, opts.ClusterSecret, opts.Self.ID, 0)
	if err != nil {
		return nil, err
	}
	pull := opts.PullInterval
	if pull <= 0 {
		pull = defaultPullInterval
	}

	r := &ClusteredRepository{
		local:         opts.Local,
		strategy:      opts.Strategy,
		bus:           opts.Bus,
		self:          opts.Self,
		tokens:        tokens,
		masterTimeout: opts.MasterTimeout,
		pullInterval:  pull,
	}
	r.unsubscribe = opts.Bus.Subscribe(r.onEvent)
	r.strategy.ChooseMaster()
	return r, nil
}

func (r *ClusteredRepository) onEvent(ev any) {
	if mf, ok := ev.(MasterFound); ok && mf.Master != nil {
		r.handleMasterFound(mf)
	}
}

// handleMasterFound adopta el master anunciado. El link anterior se cierra
// después del swap: los forwards en vuelo terminan contra su snapshot.
func (r *ClusteredRepository) handleMasterFound(ev MasterFound) {
	r.mu.Lock()
	if r.closed || r.master.Equal(ev.Master) {
		r.mu.Unlock()
		return
	}
	oldLink, oldStop := r.link, r.pullStop
	r.link, r.pullStop = nil, nil
	r.master = ev.Master
	wasDown := r.upSince.IsZero()
	if !ev.Master.Equal(r.self) {
		r.link = NewMasterLink(ev.Master, r.tokens, r.masterTimeout)
		r.pullStop = make(chan struct{})
		go r.pull(r.link, r.pullStop)
	}
	if wasDown {
		// upSince marca desde cuándo hay cluster disponible, no desde el
		// último cambio de master.
		r.upSince = time.Now()
	}
	r.mu.Unlock()

	metrics.MasterChanges.Inc()
	logger.L().Info("master adopted",
		logger.Component("cluster"),
		logger.Master(ev.Master.String()),
		logger.Any("is_self", ev.Master.Equal(r.self)),
	)

	if oldStop != nil {
		close(oldStop)
	}
	if oldLink != nil {
		_ = oldLink.Close()
	}
	if wasDown {
		r.bus.Publish(r.Status())
	}
}

// reelect limpia el estado de rol y pide a la estrategia que elija de nuevo.
// Las llamadas concurrentes (tormenta de timeouts) colapsan en una sola
// evaluación vía singleflight.
func (r *ClusteredRepository) reelect() {
	r.mu.Lock()
	oldLink, oldStop := r.link, r.pullStop
	r.master, r.link, r.pullStop = nil, nil, nil
	wasUp := !r.upSince.IsZero()
	r.upSince = time.Time{}
	r.mu.Unlock()

	if oldStop != nil {
		close(oldStop)
	}
	if oldLink != nil {
		_ = oldLink.Close()
	}
	metrics.Reelections.Inc()
	if wasUp {
		r.bus.Publish(repository.Status{})
	}
	r.electing.Do("choose-master", func() (any, error) {
		r.strategy.ChooseMaster()
		return nil, nil
	})
}

// exec es la máquina de estados central: decide ejecución local vs forward.
func (r *ClusteredRepository) exec(tx repository.Tx) (uint64, error) {
	r.mu.Lock()
	if r.closed || r.upSince.IsZero() {
		r.mu.Unlock()
		return 0, repository.ErrUnavailable
	}
	if r.master.Equal(r.self) {
		r.mu.Unlock()
		// Somos master: apply directo, sin hop de red ni espera.
		return r.local.Exec(tx)
	}
	link := r.link
	r.mu.Unlock()
	if link == nil {
		return 0, repository.ErrUnavailable
	}

	// El waiter se registra ANTES del forward: la copia replicada puede
	// llegar por el pull loop antes de que el master responda.
	w := r.local.CreateTxWaiter()
	defer w.Close() // liberación garantizada en todos los paths de salida

	id, err := link.Forward(tx)
	if err != nil {
		if errors.Is(err, ErrStaleMaster) {
			logger.L().Error("forward rejected: target lost mastership",
				logger.Component("cluster"), logger.Master(link.Server().String()))
			r.reelect()
			return 0, fmt.Errorf("master %s: %w", link.Server().ID, repository.ErrNotMaster)
		}
		// ModelError (409) y errores de transporte se propagan intactos:
		// ninguno toca el estado de rol.
		return 0, err
	}

	if w.WaitFor(id, r.masterTimeout) {
		return id, nil
	}
	metrics.MasterTimeouts.Inc()
	logger.L().Error("timeout waiting for replicated tx",
		logger.Component("cluster"),
		logger.TxID(id),
		logger.Master(link.Server().String()),
		logger.Timeout(r.masterTimeout),
	)
	r.reelect()
	return 0, fmt.Errorf("timeout waiting for tx %d from master %s: %w",
		id, link.Server(), repository.ErrMasterTimeout)
}

// AppendTxFromFollower aplica una transacción forwardeada por un follower.
// Solo es legal mientras este nodo se crea master; si no, ErrNotMaster.
func (r *ClusteredRepository) AppendTxFromFollower(tx repository.Tx) (uint64, error) {
	if !r.IsMaster() {
		return 0, repository.ErrNotMaster
	}
	return r.local.Exec(tx)
}

// IsMaster indica si este nodo se considera master ahora mismo. El rol es
// derivado, nunca almacenado: master == self.
func (r *ClusteredRepository) IsMaster() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.upSince.IsZero() && r.master.Equal(r.self)
}

// Master retorna un snapshot del master actual (nil si no hay).
func (r *ClusteredRepository) Master() *model.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master
}

// Status refleja disponibilidad: UpSince nil hasta confirmar un master.
func (r *ClusteredRepository) Status() repository.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upSince.IsZero() {
		return repository.Status{}
	}
	up := r.upSince
	return repository.Status{UpSince: &up}
}

// Close desarma el estado de rol, se desuscribe del bus y cierra la
// estrategia y el local store.
func (r *ClusteredRepository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	oldLink, oldStop := r.link, r.pullStop
	r.master, r.link, r.pullStop = nil, nil, nil
	r.upSince = time.Time{}
	r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if oldStop != nil {
		close(oldStop)
	}
	if oldLink != nil {
		_ = oldLink.Close()
	}
	closeQuietly(r.strategy)
	closeQuietly(r.local)
	return nil
}

func closeQuietly(c interface{ Close() error }) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.L().Warn("error closing component", logger.Component("cluster"), logger.Err(err))
	}
}
