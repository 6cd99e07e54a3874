package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/schemaflow/schemaflow/internal/backends"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Backend implements the Backend interface for PostgreSQL
type Backend struct {
	db     *sql.DB
	config *backends.ConnectionConfig
}

// NewBackend creates a new PostgreSQL backend
func NewBackend() *Backend {
	return &Backend{}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "postgresql"
}

// Connect establishes a connection to PostgreSQL
func (b *Backend) Connect(config *backends.ConnectionConfig) error {
	b.config = config

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Username,
		config.Password,
		config.Database,
	)

	var err error
	b.db, err = sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	configureConnectionPool(b.db)

	if err := b.db.Ping(); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return nil
}

// Close closes the PostgreSQL connection
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// CreateSchema creates a schema if it doesn't exist
func (b *Backend) CreateSchema(ctx context.Context, schemaName string) error {
	query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schemaName))
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	return nil
}

// SchemaExists checks if a schema exists
func (b *Backend) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1
			FROM information_schema.schemata
			WHERE schema_name = $1
		)
	`
	var exists bool
	if err := b.db.QueryRowContext(ctx, query, schemaName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check schema existence: %w", err)
	}
	return exists, nil
}

// ApplyDDL executes the statements in order inside one transaction
func (b *Backend) ApplyDDL(ctx context.Context, schemaName string, statements []string) error {
	if len(statements) == 0 {
		return nil
	}

	if schemaName != "" {
		exists, err := b.SchemaExists(ctx, schemaName)
		if err != nil {
			return fmt.Errorf("failed to check schema existence: %w", err)
		}
		if !exists {
			if err := b.CreateSchema(ctx, schemaName); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if schemaName != "" {
		setPathSQL := fmt.Sprintf("SET search_path TO %s, public", quoteIdentifier(schemaName))
		if _, err := tx.ExecContext(ctx, setPathSQL); err != nil {
			return fmt.Errorf("failed to set search_path: %w", err)
		}
	}

	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute %q: %w", statement, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck verifies the backend is accessible
func (b *Backend) HealthCheck(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	return b.db.PingContext(ctx)
}

// quoteIdentifier quotes a PostgreSQL identifier
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// configureConnectionPool configures the database connection pool with
// defaults that can be overridden via environment variables
func configureConnectionPool(db *sql.DB) {
	db.SetMaxOpenConns(getEnvInt("SCHEMAFLOW_DB_MAX_OPEN_CONNS", 5))
	db.SetMaxIdleConns(getEnvInt("SCHEMAFLOW_DB_MAX_IDLE_CONNS", 2))
	db.SetConnMaxLifetime(time.Duration(getEnvInt("SCHEMAFLOW_DB_CONN_MAX_LIFETIME_MINUTES", 5)) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(getEnvInt("SCHEMAFLOW_DB_CONN_MAX_IDLE_TIME_MINUTES", 1)) * time.Minute)
}

// getEnvInt gets an integer environment variable or returns the default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
