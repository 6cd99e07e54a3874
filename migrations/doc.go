// Package migrations provides the public API for registering and managing
// schema migrations. It exports the migration type, the file template used by
// the generator, and the global registry that migration files register
// themselves with.
//
// A migration file is generated from MigrationFileTemplate and looks like:
//
//	package versions
//
//	import (
//		"github.com/schemaflow/schemaflow/migrations"
//		"github.com/schemaflow/schemaflow/schema"
//	)
//
//	func init() {
//		migrations.MustRegister(&migrations.Migration{
//			Version:     "20250101120000",
//			Name:        "create_users",
//			PrevVersion: "20241231090000",
//			Connection:  "core",
//			Backend:     "postgresql",
//			Upgrade:     upgrade20250101120000,
//			Downgrade:   downgrade20250101120000,
//		})
//	}
//
//	func upgrade20250101120000() []schema.Update {
//		return []schema.Update{schema.NoUpdate{}}
//	}
//
//	func downgrade20250101120000() []schema.Update {
//		return []schema.Update{schema.NoUpdate{}}
//	}
//
// The Version orders the migration; PrevVersion links it to the migration it
// follows, and the executor will never apply a migration before its
// predecessor. The upgrade and downgrade stubs return a no-op update until
// the author fills them in; downgrade should undo what upgrade did.
package migrations
