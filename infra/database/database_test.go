package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
)

func openSqlite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSqlite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMigrate_RecordsMigrationsOnce(t *testing.T) {
	db := openSqlite(t)
	ctx := context.Background()

	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM schema_migrations`); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count < 1 {
		t.Fatalf("expected at least 1 migration, got %d", count)
	}

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}
	var count2 int
	if err := db.GetContext(ctx, &count2, `SELECT COUNT(*) FROM schema_migrations`); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count2 != count {
		t.Fatalf("expected migration count unchanged, got %d vs %d", count2, count)
	}
}

func TestWithTx(t *testing.T) {
	db := openSqlite(t)
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		err := WithTx(ctx, db, func(txCtx context.Context) error {
			_, err := Ext(txCtx, db).ExecContext(txCtx, `INSERT INTO products (id, stock, updated_at) VALUES ('p-commit', 3, 0)`)
			return err
		})
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		var stock int
		if err := db.GetContext(ctx, &stock, `SELECT stock FROM products WHERE id = 'p-commit'`); err != nil {
			t.Fatalf("expected committed row, got %v", err)
		}
		if stock != 3 {
			t.Fatalf("expected stock 3, got %d", stock)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithTx(ctx, db, func(txCtx context.Context) error {
			if _, err := Ext(txCtx, db).ExecContext(txCtx, `INSERT INTO products (id, stock, updated_at) VALUES ('p-rollback', 3, 0)`); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		var count int
		if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM products WHERE id = 'p-rollback'`); err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected rollback, found %d rows", count)
		}
	})

	t.Run("reuses transaction from context", func(t *testing.T) {
		err := WithTx(ctx, db, func(outer context.Context) error {
			return WithTx(outer, db, func(inner context.Context) error {
				if TxFromContext(inner) != TxFromContext(outer) {
					t.Fatalf("expected nested call to reuse the outer transaction")
				}
				return nil
			})
		})
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	})
}

func TestUnitOfWork_RollsBackFailedUnit(t *testing.T) {
	db := openSqlite(t)
	uow := NewUnitOfWork(db)
	ctx := context.Background()

	boom := errors.New("boom")
	err := uow.RunAtomically(ctx, "p1", func(txCtx context.Context) error {
		if TxFromContext(txCtx) == nil {
			t.Fatalf("expected a transaction in the unit context")
		}
		if _, err := Ext(txCtx, db).ExecContext(txCtx, `INSERT INTO products (id, stock, updated_at) VALUES ('p1', 1, 0)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM products`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows after rollback, got %d", count)
	}
}

func TestUnitOfWork_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	err = NewUnitOfWork(db).RunAtomically(ctx, "p1", func(txCtx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected advisory-locked unit to succeed, got %v", err)
	}
}
