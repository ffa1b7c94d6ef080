// Package raftelect elige master vía elección de líder Raft. El log Raft no
// transporta datos: la FSM es un no-op y el único output del consenso es
// "quién es líder". La replicación de transacciones sigue yendo por el canal
// HTTP master/follower de siempre; acá solo se decide el rol.
package raftelect

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/qdb-io/qdbd/internal/cluster"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/observability/logger"
)

const leaderPollInterval = 500 * time.Millisecond

// Peer describe un nodo del cluster: su identidad Raft y la URL HTTP por la
// que el resto le va a forwardear transacciones si resulta electo.
type Peer struct {
	ID       string `yaml:"id"`
	RaftAddr string `yaml:"raftAddr"`
	URL      string `yaml:"url"`
}

// Config parametriza la estrategia.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
	Peers    []Peer // conjunto estático, debe incluir a este nodo

	// mTLS opcional para el transporte Raft.
	TLSEnable     bool
	TLSCertFile   string
	TLSKeyFile    string
	TLSCAFile     string
	TLSServerName string
}

// Strategy implementa cluster.MasterStrategy sobre una elección Raft.
type Strategy struct {
	r     *raft.Raft
	trans *raft.NetworkTransport
	bus   *eventbus.Bus
	peers map[string]*model.Server // nodeID -> server anunciable

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	lastSeen string
	closed   bool
}

var _ cluster.MasterStrategy = (*Strategy)(nil)

// New levanta el nodo Raft (stores Bolt, snapshots en disco, transporte TCP
// o mTLS) y arranca el loop que observa los cambios de liderazgo.
func New(cfg Config, bus *eventbus.Bus) (*Strategy, error) {
	if cfg.NodeID == "" || cfg.BindAddr == "" || cfg.DataDir == "" {
		return nil, errors.New("raftelect: NodeID, BindAddr and DataDir are required")
	}
	peers := make(map[string]*model.Server, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p.ID == "" || p.RaftAddr == "" || p.URL == "" {
			return nil, fmt.Errorf("raftelect: incomplete peer %+v", p)
		}
		peers[p.ID] = &model.Server{ID: p.ID, URL: p.URL}
	}
	if _, ok := peers[cfg.NodeID]; !ok {
		return nil, fmt.Errorf("raftelect: peer list does not include this node %q", cfg.NodeID)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}
	store, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	snaps, err := raft.NewFileSnapshotStore(cfg.DataDir, 1, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	trans, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	rcfg := raft.DefaultConfig()
	rcfg.LocalID = raft.ServerID(cfg.NodeID)
	r, err := raft.NewRaft(rcfg, noopFSM{}, store, store, snaps, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	if err := bootstrap(r, cfg, store, snaps); err != nil {
		return nil, err
	}

	s := &Strategy{
		r:     r,
		trans: trans,
		bus:   bus,
		peers: peers,
		kick:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

func newTransport(cfg Config) (*raft.NetworkTransport, error) {
	if !cfg.TLSEnable {
		return raft.NewTCPTransport(cfg.BindAddr, nil, 3, 10*time.Second, io.Discard)
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("raft tls keypair: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("raft tls ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("raft tls: invalid CA file")
	}
	ln, err := tls.Listen("tcp", cfg.BindAddr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("raft tls listen: %w", err)
	}
	stream := &tlsStream{ln: ln, cfg: &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   cfg.TLSServerName,
	}}
	return raft.NewNetworkTransport(stream, 3, 10*time.Second, io.Discard), nil
}

// bootstrap inicializa la configuración del cluster cuando no hay estado
// previo. Con más de un peer, bootstrapea un solo nodo determinístico (el de
// menor ID); el resto espera a que el líder los contacte por el transporte.
func bootstrap(r *raft.Raft, cfg Config, store *raftboltdb.BoltStore, snaps raft.SnapshotStore) error {
	hasState, err := raft.HasExistingState(store, store, snaps)
	if err != nil {
		return fmt.Errorf("check raft state: %w", err)
	}
	if hasState {
		return nil
	}

	if len(cfg.Peers) <= 1 {
		conf := raft.Configuration{Servers: []raft.Server{{
			ID:      raft.ServerID(cfg.NodeID),
			Address: raft.ServerAddress(cfg.BindAddr),
		}}}
		if err := r.BootstrapCluster(conf).Error(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		return nil
	}

	smallest := cfg.NodeID
	for _, p := range cfg.Peers {
		if p.ID < smallest {
			smallest = p.ID
		}
	}
	if cfg.NodeID != smallest {
		logger.L().Info("waiting for cluster bootstrap",
			logger.Component("raftelect"),
			logger.NodeID(cfg.NodeID),
			logger.String("bootstrapper", smallest),
		)
		return nil
	}
	servers := make([]raft.Server, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(p.ID),
			Address: raft.ServerAddress(p.RaftAddr),
		})
	}
	if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("bootstrap(static): %w", err)
	}
	return nil
}

// ChooseMaster fuerza una observación inmediata del estado de liderazgo.
// No inicia una elección (eso lo maneja Raft solo); re-anuncia el líder
// actual si ya hay uno.
func (s *Strategy) ChooseMaster() {
	s.mu.Lock()
	// Forzar re-anuncio aunque el líder no haya cambiado: el caller perdió
	// la noción de master y necesita el evento de nuevo.
	s.lastSeen = ""
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Strategy) watch() {
	defer s.wg.Done()
	ticker := time.NewTicker(leaderPollInterval)
	defer ticker.Stop()

	leaderCh := s.r.LeaderCh()
	for {
		select {
		case <-s.stop:
			return
		case <-leaderCh:
		case <-s.kick:
		case <-ticker.C:
		}
		s.observe()
	}
}

func (s *Strategy) observe() {
	_, id := s.r.LeaderWithID()
	if id == "" {
		return // elección en curso
	}
	master, ok := s.peers[string(id)]
	if !ok {
		logger.L().Error("raft leader is not in the peer list",
			logger.Component("raftelect"), logger.String("leader", string(id)))
		return
	}

	s.mu.Lock()
	if s.closed || s.lastSeen == master.ID {
		s.mu.Unlock()
		return
	}
	s.lastSeen = master.ID
	s.mu.Unlock()

	logger.L().Info("master elected",
		logger.Component("raftelect"),
		logger.Master(master.String()),
	)
	s.bus.Publish(cluster.MasterFound{Master: master})
}

// Close frena el watch loop y apaga el nodo Raft.
func (s *Strategy) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	err := s.r.Shutdown().Error()
	s.trans.Close()
	return err
}

// ─── TLS stream layer ───

type tlsStream struct {
	ln  net.Listener
	cfg *tls.Config
}

func (t *tlsStream) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(d, "tcp", string(address), t.cfg)
}
func (t *tlsStream) Accept() (net.Conn, error) { return t.ln.Accept() }
func (t *tlsStream) Close() error              { return t.ln.Close() }
func (t *tlsStream) Addr() net.Addr            { return t.ln.Addr() }

// ─── FSM ───

// noopFSM satisface raft.FSM sin materializar estado: la elección es el
// único producto del consenso.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) any                 { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }
func (noopFSM) Restore(rc io.ReadCloser) error      { return rc.Close() }

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}
