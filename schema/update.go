package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Update represents one schema-altering operation. Implementations render a
// single DDL statement and validate themselves against the current database
// catalog before execution.
type Update interface {
	// DDL returns the SQL statement for this update. An empty string means
	// there is nothing to execute.
	DDL() string

	// Validate checks the update against the current catalog
	Validate(cat Catalog) error
}

// ForeignKey describes a foreign key constraint on a table.
type ForeignKey struct {
	Name       string
	Columns    []string // local columns, ordered
	RefTable   string
	RefColumns []string // referenced columns, same order as Columns
}

func (fk ForeignKey) ddl() string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		fk.Name,
		strings.Join(fk.Columns, ", "),
		fk.RefTable,
		strings.Join(fk.RefColumns, ", "))
}

// CreateTable creates a new table with the given fields and primary key.
type CreateTable struct {
	Table       string
	Fields      []Field
	PrimaryKeys []string
	ForeignKeys []ForeignKey
}

func (u CreateTable) DDL() string {
	parts := make([]string, 0, len(u.Fields)+len(u.ForeignKeys)+1)
	for _, field := range u.Fields {
		parts = append(parts, field.ColumnDDL())
	}
	for _, fk := range u.ForeignKeys {
		parts = append(parts, fk.ddl())
	}
	parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(u.PrimaryKeys, ", ")))
	return fmt.Sprintf("CREATE TABLE %s (%s)", u.Table, strings.Join(parts, ", "))
}

func (u CreateTable) Validate(cat Catalog) error {
	if u.Table == "" {
		return fmt.Errorf("new table has no name")
	}
	if _, exists := cat.Table(u.Table); exists {
		return fmt.Errorf("table %s already exists", u.Table)
	}
	if len(u.Fields) == 0 {
		return fmt.Errorf("table %s has no fields", u.Table)
	}
	fieldNames := make(map[string]bool, len(u.Fields))
	for _, field := range u.Fields {
		if err := field.Validate(); err != nil {
			return fmt.Errorf("table %s: %w", u.Table, err)
		}
		if fieldNames[field.Name] {
			return fmt.Errorf("table %s has duplicate field %s", u.Table, field.Name)
		}
		fieldNames[field.Name] = true
	}
	if len(u.PrimaryKeys) == 0 {
		return fmt.Errorf("table %s has no primary key", u.Table)
	}
	for _, key := range u.PrimaryKeys {
		if !fieldNames[key] {
			return fmt.Errorf("table %s column %s in primary key but not in schema", u.Table, key)
		}
	}
	for _, fk := range u.ForeignKeys {
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			return fmt.Errorf("table %s constraint %s has mismatched column lists", u.Table, fk.Name)
		}
		for _, col := range fk.Columns {
			if !fieldNames[col] {
				return fmt.Errorf("table %s constraint %s references unknown column %s", u.Table, fk.Name, col)
			}
		}
	}
	return nil
}

// DropTable drops an existing table.
type DropTable struct {
	Table string
}

func (u DropTable) DDL() string {
	return fmt.Sprintf("DROP TABLE %s", u.Table)
}

func (u DropTable) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	// Secondary indexes must be dropped before the table
	if table.SecondaryIndexes() > 0 {
		return fmt.Errorf("table %s has a secondary index", u.Table)
	}
	return nil
}

// AddColumn adds a column to an existing table.
//
// Only nullable columns can be added to a table that may already contain rows.
type AddColumn struct {
	Table string
	Field Field
}

func (u AddColumn) DDL() string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", u.Table, u.Field.ColumnDDL())
}

func (u AddColumn) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	if err := u.Field.Validate(); err != nil {
		return fmt.Errorf("table %s: %w", u.Table, err)
	}
	if _, exists := table.Column(u.Field.Name); exists {
		return fmt.Errorf("column %s already exists on %s", u.Field.Name, u.Table)
	}
	if !u.Field.Nullable && u.Field.Default == "" {
		return fmt.Errorf("column %s is not nullable", u.Field.Name)
	}
	if u.Field.PrimaryKey {
		return fmt.Errorf("column %s is a primary key", u.Field.Name)
	}
	return nil
}

// DropColumn drops a column from an existing table.
type DropColumn struct {
	Table  string
	Column string
}

func (u DropColumn) DDL() string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", u.Table, u.Column)
}

func (u DropColumn) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	if _, exists := table.Column(u.Column); !exists {
		return fmt.Errorf("column %s does not exist on %s", u.Column, u.Table)
	}
	// Indexes on the column must be dropped first
	if table.ColumnIndexed(u.Column) {
		return fmt.Errorf("column %s is indexed", u.Column)
	}
	return nil
}

// AlterColumn changes the nullability of an existing column. Changing a
// column's type is not supported; create a new column and backfill instead.
type AlterColumn struct {
	Table string
	Field Field
}

func (u AlterColumn) DDL() string {
	if u.Field.Nullable {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", u.Table, u.Field.Name)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", u.Table, u.Field.Name)
}

func (u AlterColumn) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	current, exists := table.Column(u.Field.Name)
	if !exists {
		return fmt.Errorf("column %s does not exist on %s", u.Field.Name, u.Table)
	}
	if table.IsPrimaryKey(u.Field.Name) {
		return fmt.Errorf("column %s is a primary key on %s", u.Field.Name, u.Table)
	}
	if current.Type != u.Field.TypeDDL() {
		return fmt.Errorf("column %s is changing type", u.Field.Name)
	}
	if current.Nullable == u.Field.Nullable {
		return fmt.Errorf("column %s has no changes", u.Field.Name)
	}
	return nil
}

// CreateIndex creates a secondary index on an existing table.
type CreateIndex struct {
	Table   string
	Name    string
	Columns []string
	Unique  bool
	// ColumnOrdering maps column name to ascending (true) or descending
	// (false) order. Columns not present default to ascending.
	ColumnOrdering map[string]bool
}

func (u CreateIndex) DDL() string {
	cols := make([]string, 0, len(u.Columns))
	for _, col := range u.Columns {
		if asc, ok := u.ColumnOrdering[col]; ok && !asc {
			cols = append(cols, col+" DESC")
		} else {
			cols = append(cols, col)
		}
	}
	unique := ""
	if u.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, u.Name, u.Table, strings.Join(cols, ", "))
}

func (u CreateIndex) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	if u.Name == "" {
		return fmt.Errorf("index on %s has no name", u.Table)
	}
	if len(u.Columns) == 0 {
		return fmt.Errorf("index %s has no columns", u.Name)
	}
	if _, exists := table.Indexes[u.Name]; exists {
		return fmt.Errorf("index %s already exists", u.Name)
	}
	for _, col := range u.Columns {
		if _, exists := table.Column(col); !exists {
			return fmt.Errorf("table %s has no column %s", u.Table, col)
		}
	}
	for col := range u.ColumnOrdering {
		found := false
		for _, indexed := range u.Columns {
			if indexed == col {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("index %s orders column %s which is not indexed", u.Name, col)
		}
	}
	return nil
}

// DropIndex drops a secondary index from an existing table.
type DropIndex struct {
	Table string
	Name  string
}

func (u DropIndex) DDL() string {
	return fmt.Sprintf("DROP INDEX %s", u.Name)
}

func (u DropIndex) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	idx, exists := table.Indexes[u.Name]
	if !exists {
		return fmt.Errorf("index %s does not exist", u.Name)
	}
	if idx.Primary || u.Name == PrimaryIndex {
		return fmt.Errorf("index %s is the primary index", u.Name)
	}
	return nil
}

// AddForeignKey adds a foreign key constraint to an existing table.
// Constraints maps local column names to referenced column names.
type AddForeignKey struct {
	Table       string
	Name        string
	RefTable    string
	Constraints map[string]string
}

func (u AddForeignKey) DDL() string {
	local := make([]string, 0, len(u.Constraints))
	for col := range u.Constraints {
		local = append(local, col)
	}
	sort.Strings(local)
	remote := make([]string, 0, len(local))
	for _, col := range local {
		remote = append(remote, u.Constraints[col])
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		u.Table, u.Name, strings.Join(local, ", "), u.RefTable, strings.Join(remote, ", "))
}

func (u AddForeignKey) Validate(cat Catalog) error {
	table, exists := cat.Table(u.Table)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	refTable, exists := cat.Table(u.RefTable)
	if !exists {
		return fmt.Errorf("table %s does not exist", u.RefTable)
	}
	if len(u.Constraints) == 0 {
		return fmt.Errorf("constraint %s has no columns", u.Name)
	}
	for local, remote := range u.Constraints {
		if _, exists := table.Column(local); !exists {
			return fmt.Errorf("column %s does not exist on %s", local, u.Table)
		}
		if _, exists := refTable.Column(remote); !exists {
			return fmt.Errorf("column %s does not exist on %s", remote, u.RefTable)
		}
	}
	return nil
}

// DropForeignKey drops a foreign key constraint from an existing table.
type DropForeignKey struct {
	Table string
	Name  string
}

func (u DropForeignKey) DDL() string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", u.Table, u.Name)
}

func (u DropForeignKey) Validate(cat Catalog) error {
	if _, exists := cat.Table(u.Table); !exists {
		return fmt.Errorf("table %s does not exist", u.Table)
	}
	return nil
}

// NoUpdate is the no-op schema update. It is the default return value of
// freshly generated migration stubs and produces no DDL.
type NoUpdate struct{}

func (u NoUpdate) DDL() string {
	return ""
}

func (u NoUpdate) Validate(cat Catalog) error {
	return nil
}

// Statements renders the non-empty DDL statements for a sequence of updates,
// preserving order.
func Statements(updates []Update) []string {
	statements := make([]string, 0, len(updates))
	for _, update := range updates {
		if ddl := update.DDL(); ddl != "" {
			statements = append(statements, ddl)
		}
	}
	return statements
}
