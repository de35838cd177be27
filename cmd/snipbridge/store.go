package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"snipbridge/internal/config"
	"snipbridge/internal/objectstore"
	"snipbridge/internal/snippet"
)

// openObjectStore builds the configured backend. The returned close func is never nil.
func openObjectStore(ctx context.Context, cfg config.StoreConfig) (objectstore.Store, func(), error) {
	switch strings.TrimSpace(cfg.Backend) {
	case config.BackendMemory:
		return objectstore.NewMemory(), func() {}, nil
	case config.BackendFS:
		store, err := objectstore.NewFS(cfg.Dir)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := objectstore.NewPostgres(pool)
		if err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, func() {}, err
		}
		return store, pool.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

func openSnippetStore(ctx context.Context, cfg config.StoreConfig) (*snippet.Store, func(), error) {
	objects, closeFn, err := openObjectStore(ctx, cfg)
	if err != nil {
		return nil, closeFn, err
	}
	store, err := snippet.NewStore(objects, cfg.Container)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return store, closeFn, nil
}
