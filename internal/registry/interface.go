package registry

import (
	"fmt"
	"sync"

	"github.com/schemaflow/schemaflow/schema"
)

// UpdateFunc produces the ordered schema updates for one direction of a
// migration. The default stub in a freshly generated migration returns a
// single no-op update.
type UpdateFunc func() []schema.Update

// Dependency represents a structured dependency on another migration
type Dependency struct {
	Connection string // Connection name (optional, for cross-connection dependencies)
	Target     string // Migration version or name to depend on
	TargetType string // "version" or "name" (default: "name")
}

// Migration is a versioned unit of schema change. Migration files construct
// one of these in their init function and register it with the global
// registry.
type Migration struct {
	Version     string // Required: timestamp identifier, orders the migration
	Name        string
	PrevVersion string // Version of the migration this one follows ("" for the first)
	Connection  string
	Backend     string
	CreatedAt   string // Informational: when the file was generated

	Upgrade   UpdateFunc
	Downgrade UpdateFunc

	Dependencies           []string     // Optional: migration names this migration depends on
	StructuredDependencies []Dependency // Optional: structured cross-connection dependencies
}

// ID returns the unique migration ID: {version}_{name}_{backend}_{connection}
func (m *Migration) ID() string {
	return fmt.Sprintf("%s_%s_%s_%s", m.Version, m.Name, m.Backend, m.Connection)
}

// MigrationTarget specifies which migrations to execute
type MigrationTarget struct {
	Backend    string // Backend type filter
	Version    string // Version filter (optional, empty = all pending)
	Connection string // Connection name filter
}

// Registry manages migration registration and lookup
type Registry interface {
	// Register registers a migration. Registering two migrations with the
	// same ID is an error.
	Register(migration *Migration) error

	// FindByTarget finds migrations matching a target specification
	FindByTarget(target *MigrationTarget) ([]*Migration, error)

	// GetAll returns all registered migrations
	GetAll() []*Migration

	// GetByConnection returns migrations for a specific connection
	GetByConnection(connectionName string) []*Migration

	// GetByBackend returns migrations for a specific backend
	GetByBackend(backendName string) []*Migration

	// GetByName finds migrations by name across all connections
	GetByName(name string) []*Migration

	// GetByVersion finds migrations by version across all connections
	GetByVersion(version string) []*Migration
}

// GlobalRegistry is the global migration registry instance. Migration files
// register themselves here from their init functions.
var GlobalRegistry Registry = NewInMemoryRegistry()

// NewInMemoryRegistry creates a new in-memory registry
func NewInMemoryRegistry() Registry {
	return &inMemoryRegistry{
		migrations: make(map[string]*Migration),
	}
}

type inMemoryRegistry struct {
	mu         sync.RWMutex
	migrations map[string]*Migration
}

func (r *inMemoryRegistry) Register(migration *Migration) error {
	if migration.Version == "" {
		return fmt.Errorf("migration %q has no version", migration.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := migration.ID()
	if _, exists := r.migrations[id]; exists {
		return fmt.Errorf("migration %s already registered", id)
	}
	r.migrations[id] = migration
	return nil
}

func (r *inMemoryRegistry) FindByTarget(target *MigrationTarget) ([]*Migration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Migration
	for _, migration := range r.migrations {
		if target.Backend != "" && migration.Backend != target.Backend {
			continue
		}
		if target.Connection != "" && migration.Connection != target.Connection {
			continue
		}
		if target.Version != "" && migration.Version != target.Version {
			continue
		}
		results = append(results, migration)
	}
	return results, nil
}

func (r *inMemoryRegistry) GetAll() []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*Migration, 0, len(r.migrations))
	for _, migration := range r.migrations {
		results = append(results, migration)
	}
	return results
}

func (r *inMemoryRegistry) GetByConnection(connectionName string) []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Migration
	for _, migration := range r.migrations {
		if migration.Connection == connectionName {
			results = append(results, migration)
		}
	}
	return results
}

func (r *inMemoryRegistry) GetByBackend(backendName string) []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Migration
	for _, migration := range r.migrations {
		if migration.Backend == backendName {
			results = append(results, migration)
		}
	}
	return results
}

func (r *inMemoryRegistry) GetByName(name string) []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Migration
	for _, migration := range r.migrations {
		if migration.Name == name {
			results = append(results, migration)
		}
	}
	return results
}

func (r *inMemoryRegistry) GetByVersion(version string) []*Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Migration
	for _, migration := range r.migrations {
		if migration.Version == version {
			results = append(results, migration)
		}
	}
	return results
}
