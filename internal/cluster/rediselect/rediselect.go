// Package rediselect elige master con un lease en Redis: SET NX PX sobre una
// key compartida. El holder renueva el lease periódicamente; si muere, el
// lease expira y cualquier nodo puede tomarlo. Es la estrategia default por
// lo barata de operar (un Redis ya presente en la mayoría de los deploys).
package rediselect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/qdb-io/qdbd/internal/cluster"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/observability/logger"
)

const defaultLeaseTTL = 3 * time.Second

// Config parametriza la estrategia.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Key del lease, compartida por todos los nodos del cluster.
	Key string

	// LeaseTTL es la duración del lease; se renueva cada TTL/3.
	// Default 3s.
	LeaseTTL time.Duration
}

// Strategy implementa cluster.MasterStrategy sobre un lease Redis.
type Strategy struct {
	client *rdb.Client
	bus    *eventbus.Bus
	self   *model.Server
	key    string
	ttl    time.Duration

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	holding  bool
	lastSeen string // id del último master observado, para no re-anunciar
	closed   bool
}

var _ cluster.MasterStrategy = (*Strategy)(nil)

// New arma la estrategia y arranca su loop de observación/renovación.
func New(cfg Config, self *model.Server, bus *eventbus.Bus) (*Strategy, error) {
	if cfg.Addr == "" || cfg.Key == "" {
		return nil, errors.New("rediselect: Addr and Key are required")
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	s := &Strategy{
		client: rdb.NewClient(&rdb.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		bus:    bus,
		self:   self,
		key:    cfg.Key,
		ttl:    ttl,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// ChooseMaster fuerza una iteración inmediata del loop. No bloquea; el
// resultado llega como cluster.MasterFound por el bus. Resetea el dedup de
// anuncios: una re-elección tiene que re-anunciar incluso al mismo holder,
// porque el repositorio ya descartó su rol y espera el MasterFound.
func (s *Strategy) ChooseMaster() {
	s.mu.Lock()
	s.lastSeen = ""
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default: // ya hay una iteración pendiente
	}
}

// run es el único lugar donde se toca Redis: adquiere, renueva u observa el
// lease cada TTL/3.
func (s *Strategy) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.iterate()
	}
}

func (s *Strategy) iterate() {
	ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
	defer cancel()

	s.mu.Lock()
	holding := s.holding
	s.mu.Unlock()

	if holding {
		// SET XX: renueva solo si el lease sigue existiendo. Si otro nodo
		// lo tomó (expiró entre renovaciones) dejamos de ser master.
		ok, err := s.client.SetXX(ctx, s.key, s.leaseValue(), s.ttl).Result()
		if err != nil {
			logger.L().Warn("lease renewal failed", logger.Component("rediselect"), logger.Err(err))
			return
		}
		if ok {
			return
		}
		logger.L().Info("lease lost", logger.Component("rediselect"))
		s.mu.Lock()
		s.holding = false
		s.lastSeen = ""
		s.mu.Unlock()
	}

	ok, err := s.client.SetNX(ctx, s.key, s.leaseValue(), s.ttl).Result()
	if err != nil {
		logger.L().Warn("lease acquire failed", logger.Component("rediselect"), logger.Err(err))
		return
	}
	if ok {
		s.mu.Lock()
		s.holding = true
		s.mu.Unlock()
		s.announce(s.self)
		return
	}

	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		// rdb.Nil: el lease expiró entre el SetNX y el Get; el próximo
		// tick vuelve a competir.
		if !errors.Is(err, rdb.Nil) {
			logger.L().Warn("lease read failed", logger.Component("rediselect"), logger.Err(err))
		}
		return
	}
	var master model.Server
	if err := json.Unmarshal(raw, &master); err != nil {
		logger.L().Error("corrupt lease value", logger.Component("rediselect"), logger.Err(err))
		return
	}
	s.announce(&master)
}

func (s *Strategy) leaseValue() string {
	b, _ := json.Marshal(s.self)
	return string(b)
}

// announce publica MasterFound una sola vez por master observado.
func (s *Strategy) announce(master *model.Server) {
	s.mu.Lock()
	if s.closed || s.lastSeen == master.ID {
		s.mu.Unlock()
		return
	}
	s.lastSeen = master.ID
	s.mu.Unlock()

	logger.L().Info("master elected",
		logger.Component("rediselect"),
		logger.Master(master.String()),
	)
	s.bus.Publish(cluster.MasterFound{Master: master})
}

// Close frena el loop y, si este nodo sostiene el lease, lo libera para que
// el failover sea inmediato en lugar de esperar la expiración.
func (s *Strategy) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	holding := s.holding
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	if holding {
		ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
		defer cancel()
		// Libera solo si el valor sigue siendo nuestro.
		const release = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`
		if err := s.client.Eval(ctx, release, []string{s.key}, s.leaseValue()).Err(); err != nil {
			logger.L().Warn("lease release failed", logger.Component("rediselect"), logger.Err(err))
		}
	}
	return s.client.Close()
}
