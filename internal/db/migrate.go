package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kimhsiao/tourly/backend/internal/errors"
	"github.com/kimhsiao/tourly/backend/internal/logging"
)

// Migration is one statically registered schema change.
type Migration struct {
	// Name orders migrations and keys the ledger.
	Name string
	// Version is the schema version this migration brings the store to.
	// Zero means the migration does not touch the version counter.
	Version    int
	Statements []string
	Backfill   *Backfill
}

// Backfill is a one-time data rewrite run after a migration's statements,
// inside the same transaction.
type Backfill struct {
	ID  string
	Run func(ctx context.Context, tx *sqlx.Tx) error
}

// Checksum returns the SHA-256 hex digest of the migration's forward logic.
func (m Migration) Checksum() string {
	h := sha256.New()
	h.Write([]byte(m.Name))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(m.Version)))
	for _, stmt := range m.Statements {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(stmt)))
	}
	if m.Backfill != nil {
		h.Write([]byte{0})
		h.Write([]byte(m.Backfill.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MigrationRecord is one ledger row.
type MigrationRecord struct {
	Name      string `db:"name" json:"name"`
	Checksum  string `db:"checksum" json:"checksum"`
	AppliedAt int64  `db:"applied_at" json:"applied_at"`
}

// MigrationReport summarizes one Up run.
type MigrationReport struct {
	Applied []string `json:"applied"`
	Skipped []string `json:"skipped"`
	Drifted []string `json:"drifted,omitempty"`
}

// Migrator handles database schema migrations.
type Migrator struct {
	db         *DB
	migrations []Migration
}

// NewMigrator creates a Migrator over the given migrations, ordered by name.
func NewMigrator(db *DB, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return &Migrator{db: db, migrations: sorted}
}

// Initialize creates the ledger and version tables if they don't exist.
func (m *Migrator) Initialize(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY CHECK(length(name) > 0),
			checksum TEXT NOT NULL CHECK(length(checksum) = 64),
			applied_at INTEGER NOT NULL CHECK(applied_at > 0)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY CHECK(id = 1),
			version INTEGER NOT NULL DEFAULT 0 CHECK(version >= 0)
		)`,
		`INSERT OR IGNORE INTO schema_version (id, version) VALUES (1, 0)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize migration tables: %w", err)
		}
	}
	return nil
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, m.db)
}

func currentVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var version int
	err := sqlx.GetContext(ctx, q, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return version, err
}

// Applied returns all ledger rows ordered by name.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationRecord, error) {
	var records []MigrationRecord
	err := m.db.SelectContext(ctx, &records,
		"SELECT name, checksum, applied_at FROM schema_migrations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	return records, nil
}

// Pending returns the names Up would execute.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	ledger, err := m.ledger(ctx)
	if err != nil {
		return nil, err
	}
	version, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	var pending []string
	for _, mig := range m.migrations {
		if _, ok := ledger[mig.Name]; ok {
			continue
		}
		if mig.Version > 0 && version >= mig.Version {
			continue
		}
		pending = append(pending, mig.Name)
		if mig.Version > version {
			version = mig.Version
		}
	}
	return pending, nil
}

func (m *Migrator) ledger(ctx context.Context) (map[string]string, error) {
	records, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	ledger := make(map[string]string, len(records))
	for _, r := range records {
		ledger[r.Name] = r.Checksum
	}
	return ledger, nil
}

// Up applies all pending migrations. Any failure rolls back the failing
// migration and is returned as MIGRATION_FAILED; the caller must not use
// the store afterwards.
func (m *Migrator) Up(ctx context.Context) (*MigrationReport, error) {
	if err := validateMigrations(m.migrations); err != nil {
		return nil, err
	}
	if err := m.Initialize(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migration setup failed", err)
	}

	ledger, err := m.ledger(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migration setup failed", err)
	}

	report := &MigrationReport{}
	for _, mig := range m.migrations {
		sum := mig.Checksum()

		if stored, ok := ledger[mig.Name]; ok {
			if stored != sum {
				logging.Warn("Migration checksum drift", map[string]interface{}{
					"error_code": string(apperrors.ErrMigrationDrift),
					"migration":  mig.Name,
					"stored":     stored,
					"computed":   sum,
				})
				report.Drifted = append(report.Drifted, mig.Name)
			}
			report.Skipped = append(report.Skipped, mig.Name)
			continue
		}

		if mig.Version > 0 {
			version, err := m.CurrentVersion(ctx)
			if err != nil {
				return report, apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
			}
			// The version counter guards the one-time backfills.
			if version >= mig.Version {
				logging.Info("Migration skipped by schema version", map[string]interface{}{
					"migration": mig.Name,
					"version":   version,
				})
				report.Skipped = append(report.Skipped, mig.Name)
				continue
			}
		}

		if err := m.apply(ctx, mig, sum); err != nil {
			return report, apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("failed to apply migration %s", mig.Name), err)
		}
		logging.Info("Migration applied", map[string]interface{}{
			"migration": mig.Name,
			"version":   mig.Version,
		})
		report.Applied = append(report.Applied, mig.Name)
	}

	return report, nil
}

// apply applies a single migration.
func (m *Migrator) apply(ctx context.Context, mig Migration, checksum string) error {
	return m.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Execute migration SQL
		for i, stmt := range mig.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}

		if mig.Backfill != nil {
			if err := mig.Backfill.Run(ctx, tx); err != nil {
				return fmt.Errorf("backfill %s: %w", mig.Backfill.ID, err)
			}
		}

		// Record migration
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (name, checksum, applied_at) VALUES (?, ?, ?)",
			mig.Name, checksum, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		if mig.Version > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE schema_version SET version = MAX(version, ?) WHERE id = 1",
				mig.Version); err != nil {
				return fmt.Errorf("failed to bump schema version: %w", err)
			}
		}
		return nil
	})
}

func validateMigrations(migrations []Migration) error {
	seen := make(map[string]bool, len(migrations))
	for _, mig := range migrations {
		if mig.Name == "" {
			return apperrors.New(apperrors.ErrMigration, "migration with empty name")
		}
		if seen[mig.Name] {
			return apperrors.Newf(apperrors.ErrMigration, "duplicate migration %s", mig.Name)
		}
		if mig.Backfill != nil && mig.Backfill.Run == nil {
			return apperrors.Newf(apperrors.ErrMigration, "migration %s has an empty backfill", mig.Name)
		}
		seen[mig.Name] = true
	}
	return nil
}
