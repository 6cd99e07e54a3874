package backends

import (
	"context"

	"github.com/schemaflow/schemaflow/schema"
)

// Backend represents a database that migrations execute against.
type Backend interface {
	// Name returns the name of the backend (e.g., "postgresql", "sqlite")
	Name() string

	// Connect establishes a connection to the backend
	Connect(config *ConnectionConfig) error

	// Close closes the connection to the backend
	Close() error

	// ApplyDDL executes the statements in order inside one transaction.
	// If any statement fails the transaction rolls back.
	ApplyDDL(ctx context.Context, schemaName string, statements []string) error

	// Catalog introspects the backend and returns the current table
	// metadata for the given schema, used to validate updates before
	// they execute
	Catalog(ctx context.Context, schemaName string) (schema.Catalog, error)

	// CreateSchema creates a schema/database if it doesn't exist
	CreateSchema(ctx context.Context, schemaName string) error

	// SchemaExists checks if a schema/database exists
	SchemaExists(ctx context.Context, schemaName string) (bool, error)

	// HealthCheck verifies the backend is accessible
	HealthCheck(ctx context.Context) error
}

// ConnectionConfig holds configuration for a backend connection
type ConnectionConfig struct {
	Backend  string // "postgresql" or "sqlite"
	Host     string
	Port     string
	Username string
	Password string
	Database string // Database name, or file path for sqlite
	Schema   string // Can be fixed or dynamic
	Extra    map[string]string // Additional backend-specific config
}
