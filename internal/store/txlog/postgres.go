package txlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS qdb_txlog (
    id   BIGINT PRIMARY KEY,
    data BYTEA NOT NULL,
    ts   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Postgres es el backend compartible entre procesos (útil para operar varios
// nodos de dev contra una misma base, o para auditar el log con SQL).
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres conecta el pool y asegura el schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("txlog: pgx pool: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("txlog: ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (l *Postgres) Append(data []byte) (uint64, error) {
	ctx := context.Background()
	var id uint64
	// COALESCE(MAX(id),0)+1 no serializa nada por sí solo: bajo READ
	// COMMITTED dos procesos pueden leer el mismo MAX. Los appends del
	// proceso llegan ya serializados por el mutex del store; si otro
	// proceso escribe la misma base, el PRIMARY KEY corta el empate con
	// un unique violation en vez de duplicar ids.
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO qdb_txlog (id, data)
			 SELECT COALESCE(MAX(id), 0) + 1, $1 FROM qdb_txlog
			 RETURNING id`, data).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("txlog: append: %w", err)
	}
	return id, nil
}

func (l *Postgres) AppendAt(id uint64, data []byte) error {
	ctx := context.Background()
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		var last uint64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(id), 0) FROM qdb_txlog`).Scan(&last); err != nil {
			return err
		}
		if id != last+1 {
			return ErrOutOfSequence
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO qdb_txlog (id, data) VALUES ($1, $2)`, id, data)
		return err
	})
}

func (l *Postgres) ReadFrom(since uint64, limit int) ([]Entry, error) {
	ctx := context.Background()
	q := `SELECT id, data FROM qdb_txlog WHERE id > $1 ORDER BY id`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = l.pool.Query(ctx, q+` LIMIT $2`, since, limit)
	} else {
		rows, err = l.pool.Query(ctx, q, since)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Data); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Postgres) Last() (uint64, error) {
	var id uint64
	err := l.pool.QueryRow(context.Background(),
		`SELECT COALESCE(MAX(id), 0) FROM qdb_txlog`).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	return id, nil
}

func (l *Postgres) Close() error {
	l.pool.Close()
	return nil
}
