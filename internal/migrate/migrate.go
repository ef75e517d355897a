// Package migrate applies the embedded Postgres schema at most once per
// version and reports the schema version the store is running.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

const migrationTable = "schema_migrations"

// advisory lock key shared by every replica applying migrations.
const lockKey = 73120411

//go:embed sql/*.sql
var embedded embed.FS

type Migration struct {
	Version int
	Name    string
	Up      string
}

// Versioner exposes the schema version a store is running.
type Versioner interface {
	CurrentVersion(ctx context.Context) (int, error)
}

// MigrationError is fatal at process start: the store and the binary disagree
// on the schema version and cannot be reconciled.
type MigrationError struct {
	Current  int
	Expected int
	Err      error
}

func (e *MigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema version %d, expected %d: %v", e.Current, e.Expected, e.Err)
	}
	return fmt.Sprintf("schema version %d, expected %d", e.Current, e.Expected)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	return Load(embedded, "sql")
}

// LatestVersion is the highest embedded migration version.
func LatestVersion() int {
	migrations, err := Embedded()
	if err != nil || len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

// Load reads NNN_name.sql files under root, sorted by version.
func Load(fsys fs.FS, root string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := map[int]string{}
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseVersion(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{
			Version: version,
			Name:    entry.Name(),
			Up:      ExtractUp(string(content)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ExtractUp returns the SQL in the -- +migrate Up section.
func ExtractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: expected NNN_name.sql", name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("migration %s: invalid version prefix %q", name, prefix)
	}
	return version, nil
}

type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

func New(db *sql.DB) (*Migrator, error) {
	migrations, err := Embedded()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM `+migrationTable).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Apply runs every pending migration and returns the resulting version.
// Applying twice yields the same version.
func (m *Migrator) Apply(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	for _, mig := range m.migrations {
		if err := m.applyOne(ctx, mig); err != nil {
			return 0, err
		}
	}
	return m.CurrentVersion(ctx)
}

func (m *Migrator) applyOne(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mig.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("lock migration %s: %w", mig.Name, err)
	}

	var applied bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+migrationTable+` WHERE version = $1)`, mig.Version).Scan(&applied)
	if err != nil {
		return fmt.Errorf("check migration %s: %w", mig.Name, err)
	}
	if applied {
		return nil
	}

	if strings.TrimSpace(mig.Up) != "" {
		if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
			return fmt.Errorf("exec migration %s: %w", mig.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+migrationTable+` (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
		mig.Version, mig.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", mig.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.Name, err)
	}
	slog.Info("migration applied", "version", mig.Version, "name", mig.Name)
	return nil
}

// Ensure brings the store to the embedded version or returns a *MigrationError.
func (m *Migrator) Ensure(ctx context.Context) (int, error) {
	expected := 0
	if len(m.migrations) > 0 {
		expected = m.migrations[len(m.migrations)-1].Version
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return 0, &MigrationError{Expected: expected, Err: err}
	}
	if current > expected {
		return current, &MigrationError{Current: current, Expected: expected,
			Err: errors.New("store schema is newer than this binary")}
	}

	current, err = m.Apply(ctx)
	if err != nil {
		return current, &MigrationError{Current: current, Expected: expected, Err: err}
	}
	if current != expected {
		return current, &MigrationError{Current: current, Expected: expected}
	}
	return current, nil
}
