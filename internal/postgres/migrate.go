package postgres

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/samber/lo"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       VARCHAR(255) PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migration is one embedded schema file
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded schema files in apply order
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Name: name, SQL: string(body)})
	}
	return migrations, nil
}

// Migrate applies every embedded migration that has not run yet, each in its
// own transaction. It returns the names that were applied.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	migrations, err := Migrations()
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to read embedded migrations").Mark(ierr.ErrSystem)
	}

	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to create schema_migrations").Mark(ierr.ErrDatabase)
	}

	var done []string
	if err := db.SelectContext(ctx, &done, `SELECT name FROM schema_migrations`); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to read applied migrations").Mark(ierr.ErrDatabase)
	}

	var applied []string
	for _, m := range migrations {
		m := m
		if lo.Contains(done, m.Name) {
			continue
		}

		err := db.WithTx(ctx, func(ctx context.Context) error {
			q := db.GetQuerier(ctx)
			if _, err := q.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := q.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return applied, ierr.WithError(err).
				WithHintf("Failed to apply migration %s", m.Name).
				Mark(ierr.ErrDatabase)
		}

		db.logger.Infow("applied migration", "name", m.Name)
		applied = append(applied, m.Name)
	}
	return applied, nil
}
