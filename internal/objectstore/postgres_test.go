package objectstore

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()

	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to build pgx mock: %v", err)
	}
	t.Cleanup(pool.Close)

	store, err := NewPostgres(pool)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	return store, pool
}

func TestPostgresPutUpsertsObject(t *testing.T) {
	t.Parallel()

	store, pool := newMockPostgres(t)
	ctx := context.Background()

	pool.ExpectExec("INSERT INTO object_containers").
		WithArgs("snippets").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO objects").
		WithArgs("snippets", "snippet1.json", []byte(`print("hi")`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.EnsureContainer(ctx, "snippets"); err != nil {
		t.Fatalf("EnsureContainer() error = %v", err)
	}
	if err := store.Put(ctx, "snippets", "snippet1.json", []byte(`print("hi")`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresPutAcceptsPathLikeKeys(t *testing.T) {
	t.Parallel()

	store, pool := newMockPostgres(t)

	pool.ExpectExec("INSERT INTO objects").
		WithArgs("snippets", "python/hello.json", []byte("x")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Put(context.Background(), "snippets", "python/hello.json", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetReturnsData(t *testing.T) {
	t.Parallel()

	store, pool := newMockPostgres(t)

	pool.ExpectQuery("SELECT data FROM objects").
		WithArgs("snippets", "snippet1.json").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("body")))

	got, err := store.Get(context.Background(), "snippets", "snippet1.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "body" {
		t.Fatalf("Get() = %q, want %q", got, "body")
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetMissingMapsToNotFound(t *testing.T) {
	t.Parallel()

	store, pool := newMockPostgres(t)

	pool.ExpectQuery("SELECT data FROM objects").
		WithArgs("snippets", "nope.json").
		WillReturnRows(pgxmock.NewRows([]string{"data"}))

	if _, err := store.Get(context.Background(), "snippets", "nope.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresExists(t *testing.T) {
	t.Parallel()

	store, pool := newMockPostgres(t)

	pool.ExpectQuery("SELECT EXISTS").
		WithArgs("snippets", "snippet1.json").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "snippets", "snippet1.json")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Fatalf("Exists() = false, want true")
	}
}

func TestNewPostgresRequiresPool(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgres(nil); err == nil {
		t.Fatalf("NewPostgres(nil) error = nil, want error")
	}
}
