package schema

// PrimaryIndex is the reserved name of a table's primary key index.
const PrimaryIndex = "PRIMARY_KEY"

// ColumnInfo describes a column as reported by a database catalog.
type ColumnInfo struct {
	Name     string
	Type     string // SQL type as rendered by Field.TypeDDL
	Nullable bool
}

// IndexInfo describes an index as reported by a database catalog.
type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// TableInfo describes a table as reported by a database catalog.
type TableInfo struct {
	Name        string
	Columns     map[string]ColumnInfo
	PrimaryKeys []string
	Indexes     map[string]IndexInfo
	ForeignKeys map[string][]string // constraint name -> local columns
}

// Column returns the named column, if present.
func (t *TableInfo) Column(name string) (ColumnInfo, bool) {
	col, ok := t.Columns[name]
	return col, ok
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (t *TableInfo) IsPrimaryKey(name string) bool {
	for _, key := range t.PrimaryKeys {
		if key == name {
			return true
		}
	}
	return false
}

// ColumnIndexed reports whether any index (including the primary key)
// covers the named column.
func (t *TableInfo) ColumnIndexed(name string) bool {
	if t.IsPrimaryKey(name) {
		return true
	}
	for _, idx := range t.Indexes {
		for _, col := range idx.Columns {
			if col == name {
				return true
			}
		}
	}
	return false
}

// SecondaryIndexes returns the number of non-primary indexes on the table.
func (t *TableInfo) SecondaryIndexes() int {
	count := 0
	for _, idx := range t.Indexes {
		if !idx.Primary {
			count++
		}
	}
	return count
}

// Catalog provides table metadata used to validate schema updates
// before they execute.
type Catalog interface {
	// Table returns metadata for the named table, or false if it does not exist
	Table(name string) (*TableInfo, bool)
}

// MemoryCatalog is an in-memory Catalog implementation. It is used by tests
// and by callers that track schema state without a live database.
type MemoryCatalog struct {
	tables map[string]*TableInfo
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tables: make(map[string]*TableInfo),
	}
}

// AddTable registers a table in the catalog, replacing any previous entry.
func (c *MemoryCatalog) AddTable(table *TableInfo) {
	if table.Columns == nil {
		table.Columns = make(map[string]ColumnInfo)
	}
	if table.Indexes == nil {
		table.Indexes = make(map[string]IndexInfo)
	}
	c.tables[table.Name] = table
}

// RemoveTable deletes a table from the catalog.
func (c *MemoryCatalog) RemoveTable(name string) {
	delete(c.tables, name)
}

// Table returns metadata for the named table.
func (c *MemoryCatalog) Table(name string) (*TableInfo, bool) {
	table, ok := c.tables[name]
	return table, ok
}
