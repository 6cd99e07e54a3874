package migrations

// TemplateData holds the values substituted into MigrationFileTemplate when a
// new migration file is generated. The values are bound once, at generation
// time; the rendered file is ordinary source code afterwards.
type TemplateData struct {
	PackageName string
	Name        string // Human-readable migration name
	Version     string // Unique identifier, orders the migration
	PrevVersion string // Version of the migration this one follows ("" for the first)
	Connection  string
	Backend     string
	CreatedAt   string // Generation timestamp, informational
}

// MigrationFileTemplate is the skeleton for a new migration file. The
// generated stubs return a single no-op update; authors replace the return
// values with the schema updates the migration performs. Downgrade is
// expected to reverse Upgrade's effects.
const MigrationFileTemplate = `package {{.PackageName}}

// {{.Name}}
//
// Created: {{.CreatedAt}}

import (
	"github.com/schemaflow/schemaflow/migrations"
	"github.com/schemaflow/schemaflow/schema"
)

func init() {
	migrations.MustRegister(&migrations.Migration{
		Version:     "{{.Version}}",
		Name:        "{{.Name}}",
		PrevVersion: "{{.PrevVersion}}",
		Connection:  "{{.Connection}}",
		Backend:     "{{.Backend}}",
		CreatedAt:   "{{.CreatedAt}}",
		Upgrade:     upgrade{{.Version}},
		Downgrade:   downgrade{{.Version}},
	})
}

func upgrade{{.Version}}() []schema.Update {
	return []schema.Update{schema.NoUpdate{}}
}

func downgrade{{.Version}}() []schema.Update {
	return []schema.Update{schema.NoUpdate{}}
}
`
