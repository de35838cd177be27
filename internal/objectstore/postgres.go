package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgPool abstracts the subset of pgxpool.Pool used by the store for easier testing.
type pgPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps containers and objects in two tables.
type Postgres struct {
	pool pgPool
}

// NewPostgres builds a Store backed by the provided connection pool.
func NewPostgres(pool pgPool) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("postgres object store requires pool")
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the backing tables when they are missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS object_containers (
    name TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS objects (
    container TEXT NOT NULL REFERENCES object_containers (name),
    key TEXT NOT NULL,
    data BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (container, key)
);`)
	if err != nil {
		return fmt.Errorf("migrate object tables: %w", err)
	}
	return nil
}

func (s *Postgres) EnsureContainer(ctx context.Context, container string) error {
	if err := ValidateName(container); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO object_containers (name) VALUES ($1)
ON CONFLICT (name) DO NOTHING;
`, container)
	if err != nil {
		return fmt.Errorf("ensure container %s: %w", container, err)
	}
	return nil
}

func (s *Postgres) Exists(ctx context.Context, container, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM objects WHERE container = $1 AND key = $2);
`, container, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s/%s: %w", container, key, err)
	}
	return exists, nil
}

func (s *Postgres) Get(ctx context.Context, container, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
SELECT data FROM objects WHERE container = $1 AND key = $2;
`, container, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("read %s/%s: %w", container, key, err)
	}
	return data, nil
}

func (s *Postgres) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO objects (container, key, data, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (container, key) DO UPDATE SET
    data = EXCLUDED.data,
    updated_at = EXCLUDED.updated_at;
`, container, key, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
		}
		return fmt.Errorf("write %s/%s: %w", container, key, err)
	}
	return nil
}
