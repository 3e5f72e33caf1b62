package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// migrationLockKey is the advisory lock replicas take while applying a file.
const migrationLockKey int64 = 0x64696e6572 // "diner"

// RunMigrations applies every *.up.sql file in migrations, in name order, once.
// Each file runs in its own transaction that first claims its version row
// under an advisory lock, so replicas starting together apply it once.
func RunMigrations(ctx context.Context, db TxBeginner, migrations fs.FS, logger *slog.Logger) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := upMigrations(migrations)
	if err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	var count int
	for _, name := range files {
		if applied[name] {
			continue
		}
		ran, err := applyMigration(ctx, db, migrations, name)
		if err != nil {
			return err
		}
		if ran {
			count++
			logger.Info("migration applied", slog.String("version", name))
		} else {
			logger.Info("migration applied by another instance", slog.String("version", name))
		}
	}

	logger.Info("database schema up to date",
		slog.Int("applied", count),
		slog.Int("total", len(files)),
	)
	return nil
}

func upMigrations(migrations fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedVersions(ctx context.Context, db DBTX) (map[string]bool, error) {
	rows, err := db.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return applied, nil
}

// applyMigration runs one file and reports false when another instance had
// already claimed it.
func applyMigration(ctx context.Context, db TxBeginner, migrations fs.FS, name string) (bool, error) {
	content, err := fs.ReadFile(migrations, name)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx for migration %s: %w", name, err)
	}
	fail := func(step string, err error) (bool, error) {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("%s migration %s: %w", step, name, err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fail("lock", err)
	}
	tag, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", name)
	if err != nil {
		return fail("record", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return false, nil
	}
	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fail("execute", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", name, err)
	}
	return true, nil
}
