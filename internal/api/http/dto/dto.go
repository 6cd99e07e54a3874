// Package dto defines the request and response shapes of the HTTP API.
package dto

import "github.com/schemaflow/schemaflow/internal/registry"

// MigrateUpRequest represents a request to execute up migrations
type MigrateUpRequest struct {
	Target     *registry.MigrationTarget `json:"target"`
	Connection string                    `json:"connection" binding:"required"`
	Schemas    []string                  `json:"schemas"` // Array for dynamic schemas
	DryRun     bool                      `json:"dry_run"`
}

// MigrateDownRequest represents a request to roll back one migration
type MigrateDownRequest struct {
	MigrationID string `json:"migration_id" binding:"required"`
	Schema      string `json:"schema"`
	DryRun      bool   `json:"dry_run"`
}

// MigrateResponse represents a migration execution result
type MigrateResponse struct {
	Success    bool     `json:"success"`
	Applied    []string `json:"applied"`
	Skipped    []string `json:"skipped"`
	Errors     []string `json:"errors"`
	Statements []string `json:"statements,omitempty"`
	Queued     bool     `json:"queued,omitempty"`
	JobID      string   `json:"job_id,omitempty"`
}

// MigrationListFilters specifies filters for listing migrations
type MigrationListFilters struct {
	Schema     string `form:"schema"`
	Connection string `form:"connection"`
	Backend    string `form:"backend"`
	Status     string `form:"status"`
	Version    string `form:"version"`
}

// MigrationListResponse represents a list of migrations
type MigrationListResponse struct {
	Items []MigrationListItem `json:"items"`
	Total int                 `json:"total"`
}

// MigrationListItem represents a single migration in the list
type MigrationListItem struct {
	MigrationID  string `json:"migration_id"`
	Schema       string `json:"schema,omitempty"`
	Version      string `json:"version"`
	Name         string `json:"name"`
	Connection   string `json:"connection"`
	Backend      string `json:"backend"`
	Applied      bool   `json:"applied"`
	Status       string `json:"status"`
	AppliedAt    string `json:"applied_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// DependencyResponse represents a structured dependency
type DependencyResponse struct {
	Connection string `json:"connection,omitempty"`
	Target     string `json:"target"`
	TargetType string `json:"target_type,omitempty"`
}

// MigrationDetailResponse represents detailed migration information
type MigrationDetailResponse struct {
	MigrationID            string               `json:"migration_id"`
	Version                string               `json:"version"`
	Name                   string               `json:"name"`
	PrevVersion            string               `json:"prev_version,omitempty"`
	Connection             string               `json:"connection"`
	Backend                string               `json:"backend"`
	CreatedAt              string               `json:"created_at,omitempty"`
	Applied                bool                 `json:"applied"`
	UpgradeDDL             []string             `json:"upgrade_ddl,omitempty"`
	DowngradeDDL           []string             `json:"downgrade_ddl,omitempty"`
	Dependencies           []string             `json:"dependencies,omitempty"`
	StructuredDependencies []DependencyResponse `json:"structured_dependencies,omitempty"`
}

// MigrationStatusResponse represents the current status of one migration
type MigrationStatusResponse struct {
	MigrationID  string `json:"migration_id"`
	Status       string `json:"status"`
	Applied      bool   `json:"applied"`
	AppliedAt    string `json:"applied_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// HistoryRecord represents one execution record in a migration's history
type HistoryRecord struct {
	MigrationID      string `json:"migration_id"`
	Schema           string `json:"schema,omitempty"`
	Version          string `json:"version"`
	Connection       string `json:"connection"`
	Backend          string `json:"backend"`
	AppliedAt        string `json:"applied_at"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ExecutedBy       string `json:"executed_by,omitempty"`
	ExecutionMethod  string `json:"execution_method,omitempty"`
	ExecutionContext string `json:"execution_context,omitempty"`
}

// MigrationHistoryResponse represents a migration's execution history
type MigrationHistoryResponse struct {
	MigrationID string          `json:"migration_id"`
	History     []HistoryRecord `json:"history"`
}

// RollbackResponse represents a rollback operation result
type RollbackResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// ReindexResponse represents the result of a reindex operation
type ReindexResponse struct {
	Total int `json:"total"`
}
