package state

import (
	"context"

	"github.com/schemaflow/schemaflow/internal/registry"
)

// Migration execution statuses recorded by the state tracker.
const (
	StatusPending    = "pending"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// MigrationRecord represents one migration execution in the history log.
type MigrationRecord struct {
	ID               string
	MigrationID      string // Unique ID: {version}_{name}_{backend}_{connection}
	Schema           string
	Version          string
	Connection       string
	Backend          string
	AppliedAt        string
	Status           string // "success", "failed", "pending", "rolled_back"
	ErrorMessage     string
	ExecutedBy       string // User identifier (from auth context)
	ExecutionMethod  string // "manual", "api", "cli", "worker"
	ExecutionContext string // JSON with additional context (job_id, request_id, etc.)
}

// MigrationListItem represents a known migration with its last execution status.
type MigrationListItem struct {
	MigrationID      string
	Schema           string
	Version          string
	Name             string
	Connection       string
	Backend          string
	LastStatus       string
	LastAppliedAt    string
	LastErrorMessage string
	Applied          bool
}

// MigrationFilters specifies filters for querying migrations
type MigrationFilters struct {
	Schema     string
	Connection string
	Backend    string
	Status     string
	Version    string
}

// StateTracker manages migration state tracking
type StateTracker interface {
	// Initialize sets up the state tracking tables
	Initialize(ctx context.Context) error

	// RecordMigration records a migration execution
	RecordMigration(ctx context.Context, record *MigrationRecord) error

	// GetMigrationHistory retrieves migration history with optional filters
	GetMigrationHistory(ctx context.Context, filters *MigrationFilters) ([]*MigrationRecord, error)

	// GetMigrationList retrieves the list of known migrations with their last status
	GetMigrationList(ctx context.Context, filters *MigrationFilters) ([]*MigrationListItem, error)

	// IsMigrationApplied checks if a migration has been applied successfully
	IsMigrationApplied(ctx context.Context, migrationID string) (bool, error)

	// GetLastAppliedVersion returns the highest successfully applied version
	// for a connection, or "" when nothing has been applied
	GetLastAppliedVersion(ctx context.Context, connection string) (string, error)

	// RegisterPendingMigration registers a known-but-unapplied migration in the list
	RegisterPendingMigration(ctx context.Context, migration *registry.Migration) error

	// DeleteMigration deletes a migration from the list (cascades to history)
	DeleteMigration(ctx context.Context, migrationID string) error

	// ReindexMigrations syncs the registry contents into the migration list,
	// adding entries for migrations the tracker has not seen yet
	ReindexMigrations(ctx context.Context, reg registry.Registry) error

	// Close releases the tracker's resources
	Close() error
}
