// Package cache provee un cache chico de bytes con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, para desarrollo y single-node)
//   - Redis (compartido, para deploys clusterizados)
//
// Se usa para resultados de autenticación: verificar argon2id en cada
// request es caro a propósito, el cache corta ese costo.
package cache

import (
	"fmt"
	"time"
)

// Cache es el contrato mínimo que necesitan los consumidores.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Close() error
}

// Config selecciona e inicializa un backend.
type Config struct {
	Backend    string        `yaml:"backend"` // "memory" | "redis"
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"defaultTTL"`
}

// New crea el backend según la configuración.
func New(cfg Config) (Cache, error) {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	switch cfg.Backend {
	case "memory", "":
		return newMemory(ttl), nil
	case "redis":
		return newRedis(cfg)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
