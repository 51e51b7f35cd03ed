// Package migration applies the embedded Postgres schema.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const migrationsDir = "migrations"

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

// File is one embedded migration.
type File struct {
	Version string
	SQL     string
}

// Files lists embedded migrations in version order.
func Files() ([]File, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		body, err := embeddedMigrations.ReadFile(path.Join(migrationsDir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, File{Version: strings.TrimSuffix(e.Name(), ".up.sql"), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Apply runs every migration not yet recorded in schema_migrations. Each
// file runs in its own transaction.
func Apply(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int, error) {
	if db == nil {
		return 0, errors.New("migration: nil db")
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL
)`); err != nil {
		return 0, err
	}
	files, err := Files()
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, f := range files {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, f.Version).Scan(&exists); err != nil {
			return applied, err
		}
		if exists {
			continue
		}
		if err := applyOne(ctx, db, f); err != nil {
			return applied, fmt.Errorf("migration %s: %w", f.Version, err)
		}
		logger.Info().Str("version", f.Version).Msg("migration applied")
		applied++
	}
	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, f File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, f.Version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
