package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schemaflow/schemaflow/internal/backends"
	"github.com/schemaflow/schemaflow/internal/queue"
	"github.com/schemaflow/schemaflow/internal/registry"
	"github.com/schemaflow/schemaflow/internal/state"
	"github.com/schemaflow/schemaflow/schema"
)

// Context keys for execution metadata
type contextKey string

const (
	executedByKey       contextKey = "executed_by"
	executionMethodKey  contextKey = "execution_method"
	executionContextKey contextKey = "execution_context"
)

// SetExecutionContext sets execution context in the context
func SetExecutionContext(ctx context.Context, executedBy, executionMethod string, executionContext map[string]interface{}) context.Context {
	ctx = context.WithValue(ctx, executedByKey, executedBy)
	ctx = context.WithValue(ctx, executionMethodKey, executionMethod)
	if executionContext != nil {
		ctxBytes, _ := json.Marshal(executionContext)
		ctx = context.WithValue(ctx, executionContextKey, string(ctxBytes))
	}
	return ctx
}

// GetExecutionContext extracts execution context from context
func GetExecutionContext(ctx context.Context) (executedBy, executionMethod, executionContext string) {
	executedBy = "system"
	executionMethod = "api"
	executionContext = ""

	if val := ctx.Value(executedByKey); val != nil {
		if s, ok := val.(string); ok {
			executedBy = s
		}
	}
	if val := ctx.Value(executionMethodKey); val != nil {
		if s, ok := val.(string); ok {
			executionMethod = s
		}
	}
	if val := ctx.Value(executionContextKey); val != nil {
		if s, ok := val.(string); ok {
			executionContext = s
		}
	}
	return executedBy, executionMethod, executionContext
}

// ExecuteResult represents the result of migration execution
type ExecuteResult struct {
	Success    bool
	Applied    []string
	Skipped    []string
	Errors     []string
	Statements []string // DDL that was (or would be) executed, in order
	Queued     bool     // Whether the job was queued instead of executed
	JobID      string   // Job ID if queued
}

// RollbackResult represents the result of a rollback operation
type RollbackResult struct {
	Success bool
	Message string
	Errors  []string
}

// BackendFactory constructs a backend instance. The executor calls it once
// per connection in a run, so two connections of the same backend type never
// share driver state.
type BackendFactory func() backends.Backend

// Executor runs migrations against their backends and records the outcome
// in the state tracker.
type Executor struct {
	registry     registry.Registry
	resolver     *registry.DependencyResolver
	stateTracker state.StateTracker
	backends     map[string]BackendFactory
	connections  map[string]*backends.ConnectionConfig
	queue        queue.Queue // Optional queue for async execution
	mu           sync.Mutex
}

// NewExecutor creates a new migration executor
func NewExecutor(reg registry.Registry, tracker state.StateTracker) *Executor {
	return &Executor{
		registry:     reg,
		resolver:     registry.NewDependencyResolver(reg),
		stateTracker: tracker,
		backends:     make(map[string]BackendFactory),
		connections:  make(map[string]*backends.ConnectionConfig),
	}
}

// SetConnections sets the connection configurations
func (e *Executor) SetConnections(connections map[string]*backends.ConnectionConfig) error {
	if connections == nil {
		return fmt.Errorf("connections map cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connections = connections
	return nil
}

// SetQueue sets the queue for async execution
func (e *Executor) SetQueue(q queue.Queue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = q
}

// RegisterBackend registers a backend factory for a backend type
func (e *Executor) RegisterBackend(name string, factory BackendFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backends[name] = factory
}

// GetRegistry returns the migration registry
func (e *Executor) GetRegistry() registry.Registry {
	return e.registry
}

// GetConnectionConfig returns a connection config by name
func (e *Executor) GetConnectionConfig(name string) (*backends.ConnectionConfig, error) {
	return e.getConnectionConfig(name)
}

func (e *Executor) getConnectionConfig(connectionName string) (*backends.ConnectionConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	config, ok := e.connections[connectionName]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", connectionName)
	}

	return config, nil
}

// Execute executes migrations based on a target specification.
// If a queue is configured the job is published instead of executed directly.
func (e *Executor) Execute(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemaName string, dryRun bool) (*ExecuteResult, error) {
	e.mu.Lock()
	hasQueue := e.queue != nil
	e.mu.Unlock()

	if hasQueue {
		return e.queueJob(ctx, target, connectionName, schemaName, dryRun)
	}

	return e.executeSync(ctx, target, connectionName, schemaName, dryRun)
}

// ExecuteSync executes migrations synchronously (bypasses queue, used by worker)
func (e *Executor) ExecuteSync(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemaName string, dryRun bool) (*ExecuteResult, error) {
	return e.executeSync(ctx, target, connectionName, schemaName, dryRun)
}

// queueJob publishes a migration job for async execution
func (e *Executor) queueJob(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemaName string, dryRun bool) (*ExecuteResult, error) {
	job := &queue.Job{
		ID:         uuid.NewString(),
		Direction:  queue.DirectionUp,
		Target:     convertTarget(target),
		Connection: connectionName,
		SchemaName: schemaName,
		DryRun:     dryRun,
		Metadata:   make(map[string]interface{}),
	}

	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()

	if err := q.PublishJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue migration job: %w", err)
	}

	return &ExecuteResult{
		Success: true,
		Applied: []string{},
		Skipped: []string{},
		Errors:  []string{},
		Queued:  true,
		JobID:   job.ID,
	}, nil
}

// convertTarget converts registry.MigrationTarget to queue.MigrationTarget
func convertTarget(target *registry.MigrationTarget) *queue.MigrationTarget {
	if target == nil {
		return nil
	}
	return &queue.MigrationTarget{
		Backend:    target.Backend,
		Version:    target.Version,
		Connection: target.Connection,
	}
}

// expandWithPendingDependencies grows the migration set with every registered
// migration the set depends on, directly or transitively, that has not been
// applied yet. Dependencies that are already applied stay out of the set.
func (e *Executor) expandWithPendingDependencies(ctx context.Context, migrations []*registry.Migration) ([]*registry.Migration, error) {
	included := make(map[string]*registry.Migration)
	pending := make([]*registry.Migration, 0, len(migrations))
	for _, m := range migrations {
		if _, ok := included[m.ID()]; !ok {
			included[m.ID()] = m
			pending = append(pending, m)
		}
	}

	addTargets := func(targets []*registry.Migration) error {
		for _, target := range targets {
			if _, ok := included[target.ID()]; ok {
				continue
			}
			applied, err := e.stateTracker.IsMigrationApplied(ctx, target.ID())
			if err != nil {
				return fmt.Errorf("failed to check dependency %s: %w", target.ID(), err)
			}
			if applied {
				continue
			}
			included[target.ID()] = target
			pending = append(pending, target)
		}
		return nil
	}

	for len(pending) > 0 {
		m := pending[0]
		pending = pending[1:]

		if m.PrevVersion != "" {
			if err := addTargets(e.registry.GetByVersion(m.PrevVersion)); err != nil {
				return nil, err
			}
		}
		for _, depName := range m.Dependencies {
			if err := addTargets(e.registry.GetByName(depName)); err != nil {
				return nil, err
			}
		}
		for _, dep := range m.StructuredDependencies {
			targets, err := e.resolver.FindDependencyTargets(dep)
			if err != nil {
				return nil, fmt.Errorf("migration %s: %w", m.ID(), err)
			}
			if err := addTargets(targets); err != nil {
				return nil, err
			}
		}
	}

	expanded := make([]*registry.Migration, 0, len(included))
	for _, m := range included {
		expanded = append(expanded, m)
	}
	return expanded, nil
}

// connectionSet tracks backends connected during one execution run so each
// connection is opened at most once and everything is closed afterwards.
type connectionSet struct {
	executor *Executor
	open     map[string]backends.Backend
}

func (e *Executor) newConnectionSet() *connectionSet {
	return &connectionSet{executor: e, open: make(map[string]backends.Backend)}
}

func (s *connectionSet) get(connectionName string) (backends.Backend, *backends.ConnectionConfig, error) {
	config, err := s.executor.getConnectionConfig(connectionName)
	if err != nil {
		return nil, nil, err
	}
	if backend, ok := s.open[connectionName]; ok {
		return backend, config, nil
	}

	s.executor.mu.Lock()
	factory, ok := s.executor.backends[config.Backend]
	s.executor.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("backend %s not registered", config.Backend)
	}

	// Each connection gets its own backend instance so two connections of
	// the same type never share driver state within a run
	backend := factory()
	if err := backend.Connect(config); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to backend %s: %w", config.Backend, err)
	}
	s.open[connectionName] = backend
	return backend, config, nil
}

func (s *connectionSet) closeAll() {
	for _, backend := range s.open {
		_ = backend.Close()
	}
}

// executeSync executes migrations synchronously
func (e *Executor) executeSync(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemaName string, dryRun bool) (*ExecuteResult, error) {
	if target == nil {
		target = &registry.MigrationTarget{}
	}
	if target.Connection == "" {
		target.Connection = connectionName
	}

	migrations, err := e.registry.FindByTarget(target)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}

	result := &ExecuteResult{
		Applied: []string{},
		Skipped: []string{},
		Errors:  []string{},
	}
	if len(migrations) == 0 {
		result.Success = true
		return result, nil
	}

	migrations, err = e.expandWithPendingDependencies(ctx, migrations)
	if err != nil {
		return nil, err
	}

	ordered, err := e.resolver.ResolveDependencies(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migration order: %w", err)
	}

	connections := e.newConnectionSet()
	defer connections.closeAll()

	for _, migration := range ordered {
		migrationID := migration.ID()

		applied, err := e.stateTracker.IsMigrationApplied(ctx, migrationID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to check migration status for %s: %v", migrationID, err))
			continue
		}
		if applied {
			result.Skipped = append(result.Skipped, migrationID)
			continue
		}

		backend, config, err := connections.get(migration.Connection)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", migrationID, err))
			continue
		}

		sch := schemaName
		if sch == "" {
			sch = config.Schema
		}

		if migration.Upgrade == nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: migration has no upgrade function", migrationID))
			continue
		}

		statements, err := e.prepareStatements(ctx, backend, sch, migration.Upgrade)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", migrationID, err))
			continue
		}
		result.Statements = append(result.Statements, statements...)

		if dryRun {
			result.Applied = append(result.Applied, fmt.Sprintf("%s (dry-run)", migrationID))
			continue
		}

		record := e.newRecord(ctx, migration, sch)
		if err := backend.ApplyDDL(ctx, sch, statements); err != nil {
			record.Status = state.StatusFailed
			record.ErrorMessage = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", migrationID, err))
		} else {
			record.Status = state.StatusSuccess
			result.Applied = append(result.Applied, migrationID)
		}

		if err := e.stateTracker.RecordMigration(ctx, record); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to record migration %s: %v", migrationID, err))
		}

		// A failed migration breaks the chain for everything after it
		if record.Status == state.StatusFailed {
			break
		}
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

// prepareStatements runs an update function, validates its updates against
// the backend's current catalog, and renders them to DDL.
func (e *Executor) prepareStatements(ctx context.Context, backend backends.Backend, schemaName string, fn registry.UpdateFunc) ([]string, error) {
	updates := fn()

	catalog, err := backend.Catalog(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	for _, update := range updates {
		if err := update.Validate(catalog); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	return schema.Statements(updates), nil
}

// newRecord builds a pending history record for a migration execution.
func (e *Executor) newRecord(ctx context.Context, migration *registry.Migration, schemaName string) *state.MigrationRecord {
	executedBy, executionMethod, executionContext := GetExecutionContext(ctx)
	return &state.MigrationRecord{
		MigrationID:      migration.ID(),
		Schema:           schemaName,
		Version:          migration.Version,
		Connection:       migration.Connection,
		Backend:          migration.Backend,
		Status:           state.StatusPending,
		AppliedAt:        time.Now().Format(time.RFC3339),
		ExecutedBy:       executedBy,
		ExecutionMethod:  executionMethod,
		ExecutionContext: executionContext,
	}
}

// ExecuteUp executes up migrations for the given schemas
func (e *Executor) ExecuteUp(ctx context.Context, target *registry.MigrationTarget, connectionName string, schemas []string, dryRun bool) (*ExecuteResult, error) {
	result := &ExecuteResult{
		Applied: []string{},
		Skipped: []string{},
		Errors:  []string{},
	}

	if len(schemas) == 0 {
		schemas = []string{""}
	}

	for _, sch := range schemas {
		schemaResult, err := e.executeSync(ctx, cloneTarget(target), connectionName, sch, dryRun)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("schema %s: %v", sch, err))
			continue
		}

		result.Applied = append(result.Applied, schemaResult.Applied...)
		result.Skipped = append(result.Skipped, schemaResult.Skipped...)
		result.Errors = append(result.Errors, schemaResult.Errors...)
		result.Statements = append(result.Statements, schemaResult.Statements...)
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

func cloneTarget(target *registry.MigrationTarget) *registry.MigrationTarget {
	if target == nil {
		return nil
	}
	copied := *target
	return &copied
}

// ExecuteDown runs a migration's downgrade and records the rollback.
func (e *Executor) ExecuteDown(ctx context.Context, migrationID string, schemaName string, dryRun bool) (*ExecuteResult, error) {
	result := &ExecuteResult{
		Applied: []string{},
		Skipped: []string{},
		Errors:  []string{},
	}

	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return nil, fmt.Errorf("migration not found: %s", migrationID)
	}

	applied, err := e.stateTracker.IsMigrationApplied(ctx, migrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}
	if !applied {
		result.Skipped = append(result.Skipped, fmt.Sprintf("%s (not applied)", migrationID))
		result.Success = true
		return result, nil
	}

	if migration.Downgrade == nil {
		return nil, fmt.Errorf("migration %s has no downgrade function", migrationID)
	}

	connections := e.newConnectionSet()
	defer connections.closeAll()

	backend, config, err := connections.get(migration.Connection)
	if err != nil {
		return nil, err
	}

	sch := schemaName
	if sch == "" {
		sch = config.Schema
	}

	statements, err := e.prepareStatements(ctx, backend, sch, migration.Downgrade)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", migrationID, err)
	}
	result.Statements = statements

	if dryRun {
		result.Applied = append(result.Applied, fmt.Sprintf("%s (dry-run)", migrationID))
		result.Success = true
		return result, nil
	}

	record := e.newRecord(ctx, migration, sch)
	if err := backend.ApplyDDL(ctx, sch, statements); err != nil {
		record.Status = state.StatusFailed
		record.ErrorMessage = err.Error()
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", migrationID, err))
	} else {
		record.Status = state.StatusRolledBack
		result.Applied = append(result.Applied, migrationID)
	}

	if err := e.stateTracker.RecordMigration(ctx, record); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to record rollback %s: %v", migrationID, err))
	}

	result.Success = len(result.Errors) == 0
	return result, nil
}

// Rollback rolls back a single applied migration
func (e *Executor) Rollback(ctx context.Context, migrationID string) (*RollbackResult, error) {
	migration := e.GetMigrationByID(migrationID)
	if migration == nil {
		return nil, fmt.Errorf("migration not found: %s", migrationID)
	}

	applied, err := e.IsMigrationApplied(ctx, migrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}
	if !applied {
		return &RollbackResult{
			Success: false,
			Message: "migration is not applied",
			Errors:  []string{"migration is not applied"},
		}, nil
	}

	downResult, err := e.ExecuteDown(ctx, migrationID, "", false)
	if err != nil {
		return &RollbackResult{
			Success: false,
			Message: "rollback failed",
			Errors:  []string{err.Error()},
		}, nil
	}
	if !downResult.Success {
		return &RollbackResult{
			Success: false,
			Message: "rollback failed",
			Errors:  downResult.Errors,
		}, nil
	}

	return &RollbackResult{
		Success: true,
		Message: "rollback completed successfully",
		Errors:  []string{},
	}, nil
}

// GetAllMigrations returns all registered migrations
func (e *Executor) GetAllMigrations() []*registry.Migration {
	return e.registry.GetAll()
}

// GetMigrationByID finds a migration by its ID
func (e *Executor) GetMigrationByID(migrationID string) *registry.Migration {
	for _, migration := range e.registry.GetAll() {
		if migration.ID() == migrationID {
			return migration
		}
	}
	return nil
}

// GetMigrationHistory retrieves migration history
func (e *Executor) GetMigrationHistory(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationRecord, error) {
	return e.stateTracker.GetMigrationHistory(ctx, filters)
}

// GetMigrationList retrieves the list of migrations with their last status
func (e *Executor) GetMigrationList(ctx context.Context, filters *state.MigrationFilters) ([]*state.MigrationListItem, error) {
	return e.stateTracker.GetMigrationList(ctx, filters)
}

// RegisterPendingMigration registers a known-but-unapplied migration
func (e *Executor) RegisterPendingMigration(ctx context.Context, migration *registry.Migration) error {
	return e.stateTracker.RegisterPendingMigration(ctx, migration)
}

// IsMigrationApplied checks if a migration has been applied
func (e *Executor) IsMigrationApplied(ctx context.Context, migrationID string) (bool, error) {
	return e.stateTracker.IsMigrationApplied(ctx, migrationID)
}

// HealthCheck performs health checks on the executor
func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.stateTracker.Initialize(ctx); err != nil {
		return fmt.Errorf("state tracker health check failed: %w", err)
	}
	return nil
}

// GetStateTracker returns the state tracker
func (e *Executor) GetStateTracker() state.StateTracker {
	return e.stateTracker
}
