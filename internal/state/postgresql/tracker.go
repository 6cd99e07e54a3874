package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/schemaflow/schemaflow/internal/registry"
	"github.com/schemaflow/schemaflow/internal/state"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Tracker implements state.StateTracker on PostgreSQL using two tables:
// migrations_list (one row per known migration, with its last status) and
// migrations_history (one row per execution attempt).
type Tracker struct {
	db     *sql.DB
	schema string
}

// NewTracker creates a new PostgreSQL state tracker and initializes its tables.
func NewTracker(connStr string, schema string) (*Tracker, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tracker := &Tracker{
		db:     db,
		schema: schema,
	}

	if err := tracker.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tracker: %w", err)
	}
	return tracker, nil
}

func (t *Tracker) listTable() string {
	if t.schema != "" && t.schema != "public" {
		return fmt.Sprintf("%s.%s", quoteIdentifier(t.schema), "migrations_list")
	}
	return "migrations_list"
}

func (t *Tracker) historyTable() string {
	if t.schema != "" && t.schema != "public" {
		return fmt.Sprintf("%s.%s", quoteIdentifier(t.schema), "migrations_history")
	}
	return "migrations_history"
}

// Initialize creates the migration state tables
func (t *Tracker) Initialize(ctx context.Context) error {
	if t.schema != "" && t.schema != "public" {
		schemaSQL := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(t.schema))
		if _, err := t.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	createListSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			migration_id VARCHAR(255) NOT NULL UNIQUE,
			schema VARCHAR(255) NOT NULL DEFAULT '',
			version VARCHAR(50) NOT NULL,
			name VARCHAR(255) NOT NULL,
			connection VARCHAR(255) NOT NULL,
			backend VARCHAR(50) NOT NULL,
			last_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			last_applied_at TIMESTAMPTZ,
			last_error_message TEXT,
			first_seen_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			last_updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`, t.listTable())
	if _, err := t.db.ExecContext(ctx, createListSQL); err != nil {
		return fmt.Errorf("failed to create migrations_list table: %w", err)
	}

	createHistorySQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			migration_id VARCHAR(255) NOT NULL,
			schema VARCHAR(255) NOT NULL DEFAULT '',
			version VARCHAR(50) NOT NULL,
			connection VARCHAR(255) NOT NULL,
			backend VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL,
			error_message TEXT,
			executed_by VARCHAR(255),
			execution_method VARCHAR(20) NOT NULL DEFAULT 'api',
			execution_context TEXT,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (migration_id) REFERENCES %s(migration_id) ON DELETE CASCADE
		)
	`, t.historyTable(), t.listTable())
	if _, err := t.db.ExecContext(ctx, createHistorySQL); err != nil {
		return fmt.Errorf("failed to create migrations_history table: %w", err)
	}

	for _, indexSQL := range []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_migrations_list_connection_backend ON %s (connection, backend)", t.listTable()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_migrations_history_migration_id ON %s (migration_id)", t.historyTable()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_migrations_history_applied_at ON %s (applied_at DESC)", t.historyTable()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_migrations_history_status ON %s (status)", t.historyTable()),
	} {
		_, _ = t.db.ExecContext(ctx, indexSQL)
	}

	return nil
}

// RecordMigration records a migration execution
func (t *Tracker) RecordMigration(ctx context.Context, record *state.MigrationRecord) error {
	appliedAt := time.Now()
	if record.AppliedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, record.AppliedAt); err == nil {
			appliedAt = parsed
		}
	}

	executedBy := record.ExecutedBy
	if executedBy == "" {
		executedBy = "system"
	}
	executionMethod := record.ExecutionMethod
	if executionMethod == "" {
		executionMethod = "api"
	}

	// The list row must exist first: history has a foreign key on it
	name := nameFromMigrationID(record.MigrationID)
	upsertListSQL := fmt.Sprintf(`
		INSERT INTO %s (migration_id, schema, version, name, connection, backend,
		                last_status, last_applied_at, last_error_message, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		ON CONFLICT (migration_id) DO UPDATE SET
			last_status = EXCLUDED.last_status,
			last_applied_at = EXCLUDED.last_applied_at,
			last_error_message = EXCLUDED.last_error_message,
			last_updated_at = CURRENT_TIMESTAMP
	`, t.listTable())
	if _, err := t.db.ExecContext(ctx, upsertListSQL,
		record.MigrationID, record.Schema, record.Version, name,
		record.Connection, record.Backend, record.Status, appliedAt, record.ErrorMessage); err != nil {
		return fmt.Errorf("failed to upsert into migrations_list: %w", err)
	}

	insertHistorySQL := fmt.Sprintf(`
		INSERT INTO %s (migration_id, schema, version, connection, backend,
		                status, error_message, executed_by, execution_method, execution_context, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.historyTable())
	if _, err := t.db.ExecContext(ctx, insertHistorySQL,
		record.MigrationID, record.Schema, record.Version, record.Connection, record.Backend,
		record.Status, record.ErrorMessage, executedBy, executionMethod, record.ExecutionContext, appliedAt); err != nil {
		return fmt.Errorf("failed to insert into migrations_history: %w", err)
	}

	return nil
}

// GetMigrationHistory retrieves migration history with optional filters
func (t *Tracker) GetMigrationHistory(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, migration_id, schema, version, connection, backend,
		       applied_at, status, error_message, executed_by, execution_method, execution_context
		FROM %s WHERE 1=1
	`, t.historyTable())

	args := []interface{}{}
	argIndex := 1
	addFilter := func(column, value string) {
		if value == "" {
			return
		}
		query += fmt.Sprintf(" AND %s = $%d", column, argIndex)
		args = append(args, value)
		argIndex++
	}
	if filters != nil {
		addFilter("schema", filters.Schema)
		addFilter("connection", filters.Connection)
		addFilter("backend", filters.Backend)
		addFilter("status", filters.Status)
		addFilter("version", filters.Version)
	}
	query += " ORDER BY applied_at DESC"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*state.MigrationRecord
	for rows.Next() {
		record := &state.MigrationRecord{}
		var appliedAt time.Time
		var errorMessage, executedBy, executionContext sql.NullString
		if err := rows.Scan(&record.ID, &record.MigrationID, &record.Schema, &record.Version,
			&record.Connection, &record.Backend, &appliedAt, &record.Status,
			&errorMessage, &executedBy, &record.ExecutionMethod, &executionContext); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		record.AppliedAt = appliedAt.Format(time.RFC3339)
		record.ErrorMessage = errorMessage.String
		record.ExecutedBy = executedBy.String
		record.ExecutionContext = executionContext.String
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetMigrationList retrieves the list of known migrations with their last status
func (t *Tracker) GetMigrationList(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationListItem, error) {
	query := fmt.Sprintf(`
		SELECT migration_id, schema, version, name, connection, backend,
		       last_status, last_applied_at, last_error_message
		FROM %s WHERE 1=1
	`, t.listTable())

	args := []interface{}{}
	argIndex := 1
	addFilter := func(column, value string) {
		if value == "" {
			return
		}
		query += fmt.Sprintf(" AND %s = $%d", column, argIndex)
		args = append(args, value)
		argIndex++
	}
	if filters != nil {
		addFilter("schema", filters.Schema)
		addFilter("connection", filters.Connection)
		addFilter("backend", filters.Backend)
		addFilter("last_status", filters.Status)
		addFilter("version", filters.Version)
	}
	query += " ORDER BY version ASC"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*state.MigrationListItem
	for rows.Next() {
		item := &state.MigrationListItem{}
		var appliedAt sql.NullTime
		var errorMessage sql.NullString
		if err := rows.Scan(&item.MigrationID, &item.Schema, &item.Version, &item.Name,
			&item.Connection, &item.Backend, &item.LastStatus, &appliedAt, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan migration list item: %w", err)
		}
		if appliedAt.Valid {
			item.LastAppliedAt = appliedAt.Time.Format(time.RFC3339)
		}
		item.LastErrorMessage = errorMessage.String
		item.Applied = item.LastStatus == state.StatusSuccess
		items = append(items, item)
	}
	return items, rows.Err()
}

// IsMigrationApplied checks if a migration has been applied successfully
func (t *Tracker) IsMigrationApplied(ctx context.Context, migrationID string) (bool, error) {
	query := fmt.Sprintf("SELECT last_status FROM %s WHERE migration_id = $1", t.listTable())

	var status string
	err := t.db.QueryRowContext(ctx, query, migrationID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return status == state.StatusSuccess, nil
}

// GetLastAppliedVersion returns the highest successfully applied version for a connection
func (t *Tracker) GetLastAppliedVersion(ctx context.Context, connection string) (string, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(version), '')
		FROM %s
		WHERE last_status = $1 AND ($2 = '' OR connection = $2)
	`, t.listTable())

	var version string
	if err := t.db.QueryRowContext(ctx, query, state.StatusSuccess, connection).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query last applied version: %w", err)
	}
	return version, nil
}

// RegisterPendingMigration registers a known-but-unapplied migration in the list
func (t *Tracker) RegisterPendingMigration(ctx context.Context, migration *registry.Migration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (migration_id, schema, version, name, connection, backend, last_status)
		VALUES ($1, '', $2, $3, $4, $5, $6)
		ON CONFLICT (migration_id) DO NOTHING
	`, t.listTable())

	if _, err := t.db.ExecContext(ctx, query,
		migration.ID(), migration.Version, migration.Name,
		migration.Connection, migration.Backend, state.StatusPending); err != nil {
		return fmt.Errorf("failed to register pending migration: %w", err)
	}
	return nil
}

// DeleteMigration deletes a migration from the list (cascades to history)
func (t *Tracker) DeleteMigration(ctx context.Context, migrationID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE migration_id = $1", t.listTable())
	if _, err := t.db.ExecContext(ctx, query, migrationID); err != nil {
		return fmt.Errorf("failed to delete migration: %w", err)
	}
	return nil
}

// ReindexMigrations syncs the registry contents into the migration list
func (t *Tracker) ReindexMigrations(ctx context.Context, reg registry.Registry) error {
	for _, migration := range reg.GetAll() {
		if err := t.RegisterPendingMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (t *Tracker) Close() error {
	return t.db.Close()
}

// quoteIdentifier quotes a PostgreSQL identifier, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// nameFromMigrationID extracts the name portion of
// {version}_{name}_{backend}_{connection}. Backend and connection names never
// contain underscores.
func nameFromMigrationID(migrationID string) string {
	parts := strings.Split(migrationID, "_")
	if len(parts) < 4 {
		return migrationID
	}
	return strings.Join(parts[1:len(parts)-2], "_")
}
