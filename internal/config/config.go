// Package config carga la configuración de qdbd: YAML como base, variables
// de entorno QDB_* como override. Los secretos (cluster secret, passwords)
// conviene pasarlos siempre por entorno.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qdb-io/qdbd/internal/alert"
	"github.com/qdb-io/qdbd/internal/cache"
	"github.com/qdb-io/qdbd/internal/cluster/raftelect"
	"github.com/qdb-io/qdbd/internal/store/txlog"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Node struct {
		ID  string `yaml:"id"`
		URL string `yaml:"url"` // URL pública de ESTE nodo, para forwards
	} `yaml:"node"`

	Server struct {
		Addr string `yaml:"addr"`

		// Rate limit de /api por IP cliente (fixed window). 0 lo desactiva.
		RateLimit  int           `yaml:"rateLimit"`
		RateWindow time.Duration `yaml:"rateWindow"`
	} `yaml:"server"`

	Cluster struct {
		Enabled       bool          `yaml:"enabled"`
		Name          string        `yaml:"name"`
		Secret        string        `yaml:"secret"`
		MasterTimeout time.Duration `yaml:"masterTimeout"`
		PullInterval  time.Duration `yaml:"pullInterval"`

		// redis | raft
		Election string `yaml:"election"`

		Redis struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			Key      string        `yaml:"key"`
			LeaseTTL time.Duration `yaml:"leaseTTL"`
		} `yaml:"redis"`

		Raft struct {
			BindAddr      string           `yaml:"bindAddr"`
			DataDir       string           `yaml:"dataDir"`
			Peers         []raftelect.Peer `yaml:"peers"`
			TLSEnable     bool             `yaml:"tlsEnable"`
			TLSCertFile   string           `yaml:"tlsCertFile"`
			TLSKeyFile    string           `yaml:"tlsKeyFile"`
			TLSCAFile     string           `yaml:"tlsCAFile"`
			TLSServerName string           `yaml:"tlsServerName"`
		} `yaml:"raft"`
	} `yaml:"cluster"`

	TxLog txlog.Config `yaml:"txlog"`

	Cache cache.Config `yaml:"cache"`

	Alert alert.Config `yaml:"alert"`

	Bootstrap struct {
		// Password del usuario "admin" creado en el primer arranque.
		AdminPassword string `yaml:"adminPassword"`
	} `yaml:"bootstrap"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9090"
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		c.Server.RateWindow = time.Minute
	}
	if c.Node.ID == "" {
		host, _ := os.Hostname()
		c.Node.ID = host
	}
	if c.Node.URL == "" {
		c.Node.URL = "http://localhost" + c.Server.Addr
	}
	if c.Cluster.Name == "" {
		c.Cluster.Name = "qdb"
	}
	if c.Cluster.MasterTimeout <= 0 {
		c.Cluster.MasterTimeout = 15 * time.Second
	}
	if c.Cluster.PullInterval <= 0 {
		c.Cluster.PullInterval = 250 * time.Millisecond
	}
	if c.Cluster.Election == "" {
		c.Cluster.Election = "redis"
	}
	if c.Cluster.Redis.Key == "" {
		c.Cluster.Redis.Key = "qdb:" + c.Cluster.Name + ":master"
	}
	if c.TxLog.Backend == "" {
		c.TxLog.Backend = "bolt"
	}
	if c.TxLog.Backend == "bolt" && c.TxLog.Path == "" {
		c.TxLog.Path = "data/txlog.db"
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate chequea las combinaciones que no pueden fallar recién en runtime.
func (c *Config) Validate() error {
	if c.Cluster.Enabled {
		if c.Cluster.Secret == "" {
			return errors.New("config: cluster.secret is required when clustering is enabled")
		}
		switch c.Cluster.Election {
		case "redis":
			if c.Cluster.Redis.Addr == "" {
				return errors.New("config: cluster.redis.addr is required for redis election")
			}
		case "raft":
			if c.Cluster.Raft.BindAddr == "" || len(c.Cluster.Raft.Peers) == 0 {
				return errors.New("config: cluster.raft.bindAddr and peers are required for raft election")
			}
		default:
			return fmt.Errorf("config: unknown election strategy %q", c.Cluster.Election)
		}
	}
	switch c.TxLog.Backend {
	case "memory", "bolt":
	case "postgres":
		if c.TxLog.PostgresDSN == "" {
			return errors.New("config: txlog.postgresDSN is required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown txlog backend %q", c.TxLog.Backend)
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides pisa el YAML con variables de entorno QDB_*.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("QDB_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("QDB_NODE_ID"); ok {
		c.Node.ID = v
	}
	if v, ok := getEnvStr("QDB_NODE_URL"); ok {
		c.Node.URL = v
	}
	if v, ok := getEnvStr("QDB_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvInt("QDB_SERVER_RATE_LIMIT"); ok {
		c.Server.RateLimit = v
	}
	if v, ok := getEnvDur("QDB_SERVER_RATE_WINDOW"); ok {
		c.Server.RateWindow = v
	}

	if v, ok := getEnvBool("QDB_CLUSTER_ENABLED"); ok {
		c.Cluster.Enabled = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_NAME"); ok {
		c.Cluster.Name = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_SECRET"); ok {
		c.Cluster.Secret = v
	}
	if v, ok := getEnvDur("QDB_CLUSTER_MASTER_TIMEOUT"); ok {
		c.Cluster.MasterTimeout = v
	}
	if v, ok := getEnvDur("QDB_CLUSTER_PULL_INTERVAL"); ok {
		c.Cluster.PullInterval = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_ELECTION"); ok {
		c.Cluster.Election = strings.ToLower(v)
	}
	if v, ok := getEnvStr("QDB_CLUSTER_REDIS_ADDR"); ok {
		c.Cluster.Redis.Addr = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_REDIS_PASSWORD"); ok {
		c.Cluster.Redis.Password = v
	}
	if v, ok := getEnvInt("QDB_CLUSTER_REDIS_DB"); ok {
		c.Cluster.Redis.DB = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_RAFT_BIND_ADDR"); ok {
		c.Cluster.Raft.BindAddr = v
	}
	if v, ok := getEnvStr("QDB_CLUSTER_RAFT_DATA_DIR"); ok {
		c.Cluster.Raft.DataDir = v
	}

	if v, ok := getEnvStr("QDB_TXLOG_BACKEND"); ok {
		c.TxLog.Backend = strings.ToLower(v)
	}
	if v, ok := getEnvStr("QDB_TXLOG_PATH"); ok {
		c.TxLog.Path = v
	}
	if v, ok := getEnvStr("QDB_TXLOG_POSTGRES_DSN"); ok {
		c.TxLog.PostgresDSN = v
	}

	if v, ok := getEnvStr("QDB_CACHE_BACKEND"); ok {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v, ok := getEnvStr("QDB_CACHE_ADDR"); ok {
		c.Cache.Addr = v
	}
	if v, ok := getEnvStr("QDB_CACHE_PASSWORD"); ok {
		c.Cache.Password = v
	}

	if v, ok := getEnvStr("QDB_ALERT_HOST"); ok {
		c.Alert.Host = v
	}
	if v, ok := getEnvInt("QDB_ALERT_PORT"); ok {
		c.Alert.Port = v
	}
	if v, ok := getEnvStr("QDB_ALERT_USERNAME"); ok {
		c.Alert.Username = v
	}
	if v, ok := getEnvStr("QDB_ALERT_PASSWORD"); ok {
		c.Alert.Password = v
	}
	if v, ok := getEnvStr("QDB_ALERT_FROM"); ok {
		c.Alert.From = v
	}
	if v, ok := getEnvStr("QDB_ALERT_TO"); ok {
		c.Alert.To = v
	}

	if v, ok := getEnvStr("QDB_BOOTSTRAP_ADMIN_PASSWORD"); ok {
		c.Bootstrap.AdminPassword = v
	}
}
