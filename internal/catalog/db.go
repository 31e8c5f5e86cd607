// Package catalog persists finished recordings and their transcripts in a
// sqlite database.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNotFound is returned when a looked up row doesn't exist.
var ErrNotFound = errors.New("not found")

// Migration is one schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// MigrationStatus reports applied and pending schema versions.
type MigrationStatus struct {
	Applied []int
	Pending []int
	Total   int
}

// DB is the catalog database.
type DB struct {
	db         *sql.DB
	log        slog.Logger
	migrations []Migration
}

// Options configures Open.
type Options struct {
	// SkipMigrations opens the database without applying pending
	// migrations.
	SkipMigrations bool
	Log            slog.Logger
}

// Open opens (creating if needed) the database at dbPath and applies pending
// migrations unless opts says otherwise.
func Open(ctx context.Context, dbPath string, opts Options) (*DB, error) {
	log := opts.Log
	if log == nil {
		log = slog.Disabled
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrations, err := loadMigrations(migrationFiles)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{db: sqlDB, log: log, migrations: migrations}
	if err := db.createMigrationsTable(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	if !opts.SkipMigrations {
		if _, err := db.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

// loadMigrations reads NNN_name.sql files from fsys, ordered by version.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var res []Migration
	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(filename, ".sql") {
			continue
		}
		if len(filename) < 4 || filename[3] != '_' {
			continue
		}
		version, err := strconv.Atoi(filename[:3])
		if err != nil {
			continue
		}
		content, err := fs.ReadFile(fsys, "migrations/"+filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}
		res = append(res, Migration{
			Version: version,
			Name:    strings.TrimSuffix(filename[4:], ".sql"),
			Up:      string(content),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Version < res[j].Version })
	return res, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// Migrate applies pending migrations in order and returns the versions it
// applied.
func (db *DB) Migrate(ctx context.Context) ([]int, error) {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return nil, err
	}
	pending := make(map[int]struct{}, len(status.Pending))
	for _, v := range status.Pending {
		pending[v] = struct{}{}
	}

	var applied []int
	for _, m := range db.migrations {
		if _, ok := pending[m.Version]; !ok {
			continue
		}
		db.log.Debugf("Applying migration %d (%s)", m.Version, m.Name)
		if err := db.applyMigration(ctx, m); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}
	if len(applied) > 0 {
		db.log.Infof("Applied %d catalog migrations", len(applied))
	}
	return applied, nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQLStatements(m.Up) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration statement: %w (statement: %s)", err, stmt)
		}
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.Version, m.Name)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// splitSQLStatements splits a migration on semicolons outside of string
// literals, dropping -- comments.
func splitSQLStatements(src string) []string {
	var statements []string
	var current strings.Builder
	var quote byte
	inComment := false

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
				current.WriteByte(c)
			}
			continue
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			inComment = true
			continue
		case c == ';':
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return statements
}

// MigrationStatus returns the applied and pending migration versions.
func (db *DB) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedMap := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedMap[v] = true
	}
	status := MigrationStatus{Applied: applied, Total: len(db.migrations)}
	for _, m := range db.migrations {
		if !appliedMap[m.Version] {
			status.Pending = append(status.Pending, m.Version)
		}
	}
	return status, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func float64Ptr(nf sql.NullFloat64) *float64 {
	if nf.Valid {
		return &nf.Float64
	}
	return nil
}
