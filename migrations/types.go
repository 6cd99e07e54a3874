package migrations

import "github.com/schemaflow/schemaflow/internal/registry"

// Migration is a public alias for registry.Migration so migration files
// outside this module can construct and register migrations.
type Migration = registry.Migration

// Dependency is a public alias for registry.Dependency.
type Dependency = registry.Dependency

// UpdateFunc is a public alias for registry.UpdateFunc.
type UpdateFunc = registry.UpdateFunc
