// Package repository is the SQLite persistence store. It
// owns the connection, migrations, and every query against the tables
// listed in the data model. Callers above this package never see SQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jasoncavinder/helm/internal/pkg/metrics"
	"github.com/jasoncavinder/helm/migrations"
)

// Store implements persistence on SQLite. Pure-Go driver (modernc.org/sqlite)
// so the binary stays cgo-free.
type Store struct {
	db *sqlx.DB
}

// Open connects to dbPath with WAL journaling and a bounded pool, then runs
// any migration not yet recorded in schema_version.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) runMigrations() error {
	var hasTable int
	err := s.db.Get(&hasTable, `SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`)
	if err != nil {
		return err
	}
	applied := 0
	if hasTable > 0 {
		if err := s.db.Get(&applied, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
			return err
		}
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1
		if version <= applied {
			continue
		}
		sqlBytes, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// WithTx runs fn in a transaction, committing on nil return and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.DBQueryDurationSeconds.WithLabelValues("tx").Observe(time.Since(start).Seconds())
	}()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

// tables lists every table managed by the migrations, in FK-safe delete
// order, for ResetDatabase.
var tables = []string{
	"task_logs", "task_output", "tasks",
	"search_cache", "pin_records", "package_keg_policies",
	"outdated_packages", "installed_packages",
	"manager_status", "app_settings",
}

// ResetDatabase truncates every table back to empty — the reset_database
// operation. schema_version is untouched; no migration re-run
// is needed since the schema itself is not dropped.
func (s *Store) ResetDatabase(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("truncate %s: %w", t, err)
			}
		}
		return nil
	})
}
