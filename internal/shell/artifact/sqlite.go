package artifact

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/deployseq/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite. A record is one row written in
// the same transaction as its history entry.
type SQLiteStore struct {
	db     *sqlx.DB
	cn     domain.CaseNormalization
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string, cn domain.CaseNormalization, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Open database connection
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3", dsn+sep+"_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db, cn: cn, logger: logger, now: time.Now}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Transaction Support
// =============================================================================

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(executor) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Artifact Operations
// =============================================================================

// artifactRow represents an artifact row in the database.
type artifactRow struct {
	Unit                string `db:"unit"`
	InterfaceDescriptor string `db:"interface_descriptor"`
	Address             string `db:"address"`
	UpdatedAt           string `db:"updated_at"`
}

func (s *SQLiteStore) Persist(ctx context.Context, unit string, iface json.RawMessage, address string) error {
	addr, err := validate("Persist", unit, iface, address, s.cn)
	if err != nil {
		return err
	}

	row := map[string]any{
		"unit":                 unit,
		"interface_descriptor": string(iface),
		"address":              addr,
		"updated_at":           s.now().UTC().Format(time.RFC3339Nano),
	}

	err = s.withTx(ctx, func(exec executor) error {
		if err := upsertArtifact(ctx, exec, row); err != nil {
			return err
		}
		return appendHistory(ctx, exec, row)
	})
	if err != nil {
		return err
	}

	confirm(s.logger, "sqlite", unit, domain.FieldInterface)
	confirm(s.logger, "sqlite", unit, domain.FieldAddress)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, unit string) (*domain.ArtifactRecord, error) {
	if err := validateUnit("Get", unit); err != nil {
		return nil, err
	}
	return getArtifact(ctx, s.db, unit)
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.ArtifactRecord, error) {
	var rows []artifactRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM artifacts ORDER BY unit`); err != nil {
		return nil, NewStoreError("List", "", "", err.Error(), err)
	}
	records := make([]domain.ArtifactRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rowToRecord(&rows[i]))
	}
	return records, nil
}

// History returns every persisted version of unit, oldest first.
func (s *SQLiteStore) History(ctx context.Context, unit string) ([]domain.ArtifactRecord, error) {
	query := `
		SELECT unit, interface_descriptor, address, recorded_at AS updated_at
		FROM artifact_history
		WHERE unit = ?
		ORDER BY id`

	var rows []artifactRow
	if err := s.db.SelectContext(ctx, &rows, query, unit); err != nil {
		return nil, NewStoreError("History", unit, "", err.Error(), err)
	}
	records := make([]domain.ArtifactRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rowToRecord(&rows[i]))
	}
	return records, nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func upsertArtifact(ctx context.Context, exec executor, row map[string]any) error {
	query := `
		INSERT INTO artifacts (unit, interface_descriptor, address, updated_at)
		VALUES (:unit, :interface_descriptor, :address, :updated_at)
		ON CONFLICT(unit) DO UPDATE SET
			interface_descriptor = excluded.interface_descriptor,
			address = excluded.address,
			updated_at = excluded.updated_at`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("Persist", row["unit"].(string), "", err.Error(), err)
	}
	return nil
}

func appendHistory(ctx context.Context, exec executor, row map[string]any) error {
	query := `
		INSERT INTO artifact_history (unit, interface_descriptor, address, recorded_at)
		VALUES (:unit, :interface_descriptor, :address, :updated_at)`

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		return NewStoreError("Persist", row["unit"].(string), "", "failed to record history: "+err.Error(), err)
	}
	return nil
}

func getArtifact(ctx context.Context, exec executor, unit string) (*domain.ArtifactRecord, error) {
	var row artifactRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM artifacts WHERE unit = ?`, unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("Get", unit, "", "artifact not found", ErrNotFound)
		}
		return nil, NewStoreError("Get", unit, "", err.Error(), err)
	}
	rec := rowToRecord(&row)
	return &rec, nil
}

func rowToRecord(row *artifactRow) domain.ArtifactRecord {
	rec := domain.ArtifactRecord{
		Unit:      row.Unit,
		Interface: json.RawMessage(row.InterfaceDescriptor),
		Address:   row.Address,
	}
	if t, err := time.Parse(time.RFC3339Nano, row.UpdatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec
}
