package database

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationLockId int64 = 801234567

// Migrate applies embedded SQL migrations in filename order, recording each in schema_migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return WithTx(ctx, db, func(txCtx context.Context) error {
		tx := TxFromContext(txCtx)
		if db.DriverName() == DriverPostgres {
			if _, err := tx.ExecContext(txCtx, `SELECT pg_advisory_xact_lock($1)`, migrationLockId); err != nil {
				return fmt.Errorf("acquire migration lock: %w", err)
			}
		}
		if _, err := tx.ExecContext(txCtx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}

		for _, name := range names {
			var applied int
			if err := tx.GetContext(txCtx, &applied, tx.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`), name); err != nil {
				return fmt.Errorf("check migration %s: %w", name, err)
			}
			if applied > 0 {
				continue
			}
			raw, err := migrationFiles.ReadFile("migrations/" + name)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			for _, stmt := range splitStatements(string(raw)) {
				if _, err := tx.ExecContext(txCtx, stmt); err != nil {
					return fmt.Errorf("exec migration %s: %w", name, err)
				}
			}
			if _, err := tx.ExecContext(txCtx, tx.Rebind(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`), name, time.Now().UnixNano()); err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
		}
		return nil
	})
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
