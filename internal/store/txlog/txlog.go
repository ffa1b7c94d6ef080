// Package txlog provee el log append-only de transacciones detrás del
// standalone store, con backends intercambiables (memory, bolt, postgres).
// La asignación de ids estrictamente crecientes vive acá: Append asigna el
// próximo id bajo la serialización del backend.
package txlog

import (
	"errors"
	"fmt"
)

// Entry es una transacción serializada tal como quedó en el log.
type Entry struct {
	ID   uint64
	Data []byte
}

// ErrOutOfSequence indica un AppendAt con id que no es Last()+1. Un follower
// que recibe esto está fuera de sync con el master y debe resincronizar.
var ErrOutOfSequence = errors.New("txlog: id out of sequence")

// Log es el contrato del log de transacciones.
type Log interface {
	// Append agrega data con el próximo id y lo retorna. Durable antes de
	// retornar (según el backend).
	Append(data []byte) (uint64, error)

	// AppendAt agrega data con un id explícito (copia replicada). El id
	// debe ser exactamente Last()+1; si no, ErrOutOfSequence.
	AppendAt(id uint64, data []byte) error

	// ReadFrom retorna hasta limit entradas con id > since, en orden.
	// limit <= 0 significa sin límite.
	ReadFrom(since uint64, limit int) ([]Entry, error)

	// Last retorna el último id del log (0 si está vacío).
	Last() (uint64, error)

	Close() error
}

// Config selecciona e inicializa un backend.
type Config struct {
	Backend     string `yaml:"backend"` // "memory" | "bolt" | "postgres"
	Path        string `yaml:"path"`    // archivo bolt
	PostgresDSN string `yaml:"postgresDSN"`
}

// Open crea el Log según cfg.
func Open(cfg Config) (Log, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("txlog: bolt backend requires a path")
		}
		return OpenBolt(cfg.Path)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("txlog: postgres backend requires a DSN")
		}
		return OpenPostgres(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("txlog: unknown backend %q", cfg.Backend)
	}
}
