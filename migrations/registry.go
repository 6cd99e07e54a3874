package migrations

import "github.com/schemaflow/schemaflow/internal/registry"

// GlobalRegistry provides public access to the global migration registry so
// migration files outside this module can register themselves.
var GlobalRegistry = registry.GlobalRegistry

// MustRegister registers a migration with the global registry and panics on
// failure. Migration files call this from init, where a registration error
// (a duplicate version, a missing field) is a programming mistake that should
// stop the process immediately.
func MustRegister(migration *Migration) {
	if err := GlobalRegistry.Register(migration); err != nil {
		panic(err)
	}
}
