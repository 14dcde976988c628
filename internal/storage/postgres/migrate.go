package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNilDB = errors.New("postgres: database handle is nil")
	ErrNilFS = errors.New("postgres: migrations filesystem is nil")
)

const upSuffix = ".up.sql"

type migration struct {
	version int
	name    string
	body    string
}

// Migrate applies every *.up.sql file under dir that is not yet recorded in
// schema_migrations, in ascending version order. The version is the numeric
// filename prefix (0001_init.up.sql is version 1). Each file runs in its own
// transaction, flagged dirty until it commits.
func Migrate(ctx context.Context, db *sql.DB, files fs.FS, dir string) error {
	if db == nil {
		return ErrNilDB
	}
	if files == nil {
		return ErrNilFS
	}
	if dir == "" {
		dir = "."
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}

	const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        dirty BOOLEAN NOT NULL DEFAULT FALSE,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, schemaTable); err != nil {
		return fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	pending, err := readMigrations(files, dir)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations WHERE dirty = FALSE")
	if err != nil {
		return nil, fmt.Errorf("postgres: list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres: scan applied migration: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func readMigrations(files fs.FS, dir string) ([]migration, error) {
	var out []migration
	err := fs.WalkDir(files, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), upSuffix) {
			return nil
		}
		version, err := migrationVersion(d.Name())
		if err != nil {
			return fmt.Errorf("postgres: migration %s: %w", p, err)
		}
		body, err := fs.ReadFile(files, p)
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", p, err)
		}
		out = append(out, migration{version: version, name: path.Base(p), body: string(body)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].version == out[j].version {
			return out[i].name < out[j].name
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

func migrationVersion(name string) (int, error) {
	base := strings.TrimSuffix(name, upSuffix)
	end := strings.IndexFunc(base, func(r rune) bool { return r < '0' || r > '9' })
	if end == -1 {
		end = len(base)
	}
	if end == 0 {
		return 0, errors.New("missing numeric prefix")
	}
	return strconv.Atoi(base[:end])
}

func apply(ctx context.Context, db *sql.DB, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin migration %s: %w", m.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty, applied_at)
VALUES ($1, TRUE, $2)
ON CONFLICT (version) DO UPDATE SET dirty = TRUE, applied_at = EXCLUDED.applied_at`, m.version, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: mark migration %s dirty: %w", m.name, err)
	}
	if _, err = tx.ExecContext(ctx, m.body); err != nil {
		return fmt.Errorf("postgres: run migration %s: %w", m.name, err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE schema_migrations SET dirty = FALSE, applied_at = $2 WHERE version = $1`, m.version, time.Now().UTC()); err != nil {
		return fmt.Errorf("postgres: record migration %s: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit migration %s: %w", m.name, err)
	}
	return nil
}
