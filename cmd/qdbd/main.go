package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/qdb-io/qdbd/internal/alert"
	"github.com/qdb-io/qdbd/internal/cache"
	"github.com/qdb-io/qdbd/internal/cluster"
	"github.com/qdb-io/qdbd/internal/cluster/raftelect"
	"github.com/qdb-io/qdbd/internal/cluster/rediselect"
	"github.com/qdb-io/qdbd/internal/config"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	qdbhttp "github.com/qdb-io/qdbd/internal/http"
	"github.com/qdb-io/qdbd/internal/http/middlewares"
	"github.com/qdb-io/qdbd/internal/metrics"
	"github.com/qdb-io/qdbd/internal/observability/logger"
	"github.com/qdb-io/qdbd/internal/rate"
	"github.com/qdb-io/qdbd/internal/security/clustertoken"
	"github.com/qdb-io/qdbd/internal/security/password"
	"github.com/qdb-io/qdbd/internal/store/standalone"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

func main() {
	// .env primero: las QDB_* pisan el YAML en config.Load.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "qdbd",
		Short: "Servidor de colas de mensajes con replicación master/follower",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "ruta al config YAML")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Arranca el nodo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	var statusURL string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Consulta el estado de un nodo corriendo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(statusURL)
		},
	}
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:9090", "URL base del nodo")

	root.AddCommand(serveCmd, statusCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(logger.Config{
		Env:    cfg.App.Env,
		Level:  os.Getenv("QDB_LOG_LEVEL"),
		NodeID: cfg.Node.ID,
	})
	log := logger.L()
	defer log.Sync() //nolint:errcheck

	// El canal intra-cluster siempre va firmado. En modo standalone no hay
	// secreto configurado: se genera uno efímero y nadie más puede hablar.
	secret := cfg.Cluster.Secret
	if secret == "" {
		secret = uuid.NewString()
	}

	bus := eventbus.New()

	tlog, err := txlog.Open(cfg.TxLog)
	if err != nil {
		return fmt.Errorf("open txlog: %w", err)
	}
	local, err := standalone.Open(tlog, bus)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	self := &model.Server{ID: cfg.Node.ID, URL: cfg.Node.URL}

	var strategy cluster.MasterStrategy
	if !cfg.Cluster.Enabled {
		strategy = cluster.NewStatic(bus, self)
	} else {
		switch cfg.Cluster.Election {
		case "redis":
			strategy, err = rediselect.New(rediselect.Config{
				Addr:     cfg.Cluster.Redis.Addr,
				Password: cfg.Cluster.Redis.Password,
				DB:       cfg.Cluster.Redis.DB,
				Key:      cfg.Cluster.Redis.Key,
				LeaseTTL: cfg.Cluster.Redis.LeaseTTL,
			}, self, bus)
		case "raft":
			strategy, err = raftelect.New(raftelect.Config{
				NodeID:        cfg.Node.ID,
				BindAddr:      cfg.Cluster.Raft.BindAddr,
				DataDir:       cfg.Cluster.Raft.DataDir,
				Peers:         cfg.Cluster.Raft.Peers,
				TLSEnable:     cfg.Cluster.Raft.TLSEnable,
				TLSCertFile:   cfg.Cluster.Raft.TLSCertFile,
				TLSKeyFile:    cfg.Cluster.Raft.TLSKeyFile,
				TLSCAFile:     cfg.Cluster.Raft.TLSCAFile,
				TLSServerName: cfg.Cluster.Raft.TLSServerName,
			}, bus)
		}
		if err != nil {
			return fmt.Errorf("init election strategy: %w", err)
		}
	}

	// El notifier se suscribe antes que el repo dispare la primera elección.
	notifier := alert.New(cfg.Alert, cfg.Node.ID, bus)
	defer notifier.Close()

	repo, err := cluster.New(cluster.Options{
		Local:         local,
		Strategy:      strategy,
		Bus:           bus,
		Self:          self,
		ClusterName:   cfg.Cluster.Name,
		ClusterSecret: secret,
		MasterTimeout: cfg.Cluster.MasterTimeout,
		PullInterval:  cfg.Cluster.PullInterval,
	})
	if err != nil {
		return fmt.Errorf("init cluster repository: %w", err)
	}
	defer repo.Close()

	go bootstrapAdmin(repo, cfg.Bootstrap.AdminPassword)

	authCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer authCache.Close()

	verifier, err := clustertoken.NewVerifier(cfg.Cluster.Name, secret)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.RegisterCluster(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var limiter rate.Limiter
	if cfg.Server.RateLimit > 0 {
		if cfg.Cluster.Enabled && cfg.Cluster.Redis.Addr != "" {
			// Ventana compartida entre nodos.
			limiter = rate.NewRedisLimiter(rdb.NewClient(&rdb.Options{
				Addr:     cfg.Cluster.Redis.Addr,
				Password: cfg.Cluster.Redis.Password,
				DB:       cfg.Cluster.Redis.DB,
			}), "qdb:rl:", cfg.Server.RateLimit, cfg.Server.RateWindow)
		} else {
			limiter = rate.NewMemoryLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
		}
	}

	router := qdbhttp.NewRouter(qdbhttp.RouterDeps{
		Repo:     repo,
		Cluster:  repo,
		Receiver: repo,
		Auth:     middlewares.NewAuthenticator(repo, authCache),
		Verifier: verifier,
		Registry: registry,
		Limiter:  limiter,
	})
	srv := qdbhttp.NewServer(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Info("qdbd started",
		logger.String("addr", cfg.Server.Addr),
		logger.String("url", cfg.Node.URL),
		logger.Any("clustered", cfg.Cluster.Enabled),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown incomplete", logger.Err(err))
	}
	return nil
}

// bootstrapAdmin crea el usuario admin inicial cuando el repositorio queda
// disponible por primera vez y no hay usuarios. En un cluster puede correr
// en varios nodos a la vez: el create pasa por el master, los perdedores
// reciben "already exists" y lo ignoran.
func bootstrapAdmin(repo *cluster.ClusteredRepository, adminPassword string) {
	if adminPassword == "" {
		return
	}
	deadline := time.Now().Add(time.Minute)
	for !repo.Status().IsUp() {
		if time.Now().After(deadline) {
			logger.L().Warn("admin bootstrap skipped: no master within deadline")
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	n, err := repo.CountUsers()
	if err != nil || n > 0 {
		return
	}
	hash, err := password.Hash(password.Default, adminPassword)
	if err != nil {
		logger.L().Error("admin bootstrap failed", logger.Err(err))
		return
	}
	if _, err := repo.CreateUser(&model.User{ID: "admin", PasswordHash: hash, Admin: true}); err != nil {
		if repository.IsModel(err) {
			return // otro nodo llegó primero
		}
		logger.L().Error("admin bootstrap failed", logger.Err(err))
		return
	}
	logger.L().Info("admin user created")
}

func status(baseURL string) error {
	resp, err := http.Get(baseURL + "/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		return errors.New("node reports unavailable")
	}
	return nil
}
