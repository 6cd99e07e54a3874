package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/schemaflow/schemaflow/internal/backends"
	"github.com/schemaflow/schemaflow/schema"

	_ "modernc.org/sqlite"
)

// Backend implements the Backend interface for SQLite. It is intended for
// local development and embedded deployments where running a PostgreSQL
// server is overkill.
type Backend struct {
	db     *sql.DB
	config *backends.ConnectionConfig
}

// NewBackend creates a new SQLite backend
func NewBackend() *Backend {
	return &Backend{}
}

// Name returns the backend name
func (b *Backend) Name() string {
	return "sqlite"
}

// Connect opens the database file named by config.Database. The special
// value ":memory:" opens an in-memory database.
func (b *Backend) Connect(config *backends.ConnectionConfig) error {
	b.config = config

	path := config.Database
	if path == "" {
		return fmt.Errorf("sqlite backend requires a database path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Migrations run serially; a single connection also keeps an
	// in-memory database alive across statements.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	b.db = db
	return nil
}

// Close closes the database
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// CreateSchema is a no-op. SQLite has a single unnamed schema per file.
func (b *Backend) CreateSchema(ctx context.Context, schemaName string) error {
	return nil
}

// SchemaExists always reports true for the same reason CreateSchema is a no-op.
func (b *Backend) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	return true, nil
}

// ApplyDDL executes the statements in order inside a single transaction.
func (b *Backend) ApplyDDL(ctx context.Context, schemaName string, statements []string) error {
	if len(statements) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HealthCheck verifies the database connection
func (b *Backend) HealthCheck(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("sqlite backend not connected")
	}
	return b.db.PingContext(ctx)
}

// Catalog builds table metadata from sqlite_master and the table_info,
// index_list, index_info and foreign_key_list pragmas. The schemaName
// argument is ignored.
func (b *Backend) Catalog(ctx context.Context, schemaName string) (schema.Catalog, error) {
	cat := schema.NewMemoryCatalog()

	names, err := b.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		table, err := b.tableInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		cat.AddTable(table)
	}
	return cat, nil
}

func (b *Backend) tableNames(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *Backend) tableInfo(ctx context.Context, name string) (*schema.TableInfo, error) {
	table := &schema.TableInfo{
		Name:        name,
		Columns:     make(map[string]schema.ColumnInfo),
		Indexes:     make(map[string]schema.IndexInfo),
		ForeignKeys: make(map[string][]string),
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read table_info for %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	// pk carries the 1-based position within the primary key, 0 otherwise
	type pkColumn struct {
		name string
		pos  int
	}
	var pkColumns []pkColumn

	for rows.Next() {
		var cid, notNull, pk int
		var colName, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table_info row: %w", err)
		}
		table.Columns[colName] = schema.ColumnInfo{
			Name:     colName,
			Type:     strings.ToUpper(colType),
			Nullable: notNull == 0,
		}
		if pk > 0 {
			pkColumns = append(pkColumns, pkColumn{name: colName, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for want := 1; want <= len(pkColumns); want++ {
		for _, col := range pkColumns {
			if col.pos == want {
				table.PrimaryKeys = append(table.PrimaryKeys, col.name)
			}
		}
	}
	if len(table.PrimaryKeys) > 0 {
		table.Indexes[schema.PrimaryIndex] = schema.IndexInfo{
			Name:    schema.PrimaryIndex,
			Columns: table.PrimaryKeys,
			Unique:  true,
			Primary: true,
		}
	}

	if err := b.loadIndexes(ctx, table); err != nil {
		return nil, err
	}
	if err := b.loadForeignKeys(ctx, table); err != nil {
		return nil, err
	}
	return table, nil
}

func (b *Backend) loadIndexes(ctx context.Context, table *schema.TableInfo) error {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdentifier(table.Name)))
	if err != nil {
		return fmt.Errorf("failed to read index_list for %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	type indexEntry struct {
		name   string
		unique bool
	}
	var entries []indexEntry
	for rows.Next() {
		var seq, unique, partial int
		var idxName, origin string
		if err := rows.Scan(&seq, &idxName, &unique, &origin, &partial); err != nil {
			return fmt.Errorf("failed to scan index_list row: %w", err)
		}
		// "pk" indexes are already represented by PrimaryIndex
		if origin == "pk" {
			continue
		}
		entries = append(entries, indexEntry{name: idxName, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, entry := range entries {
		columns, err := b.indexColumns(ctx, entry.name)
		if err != nil {
			return err
		}
		table.Indexes[entry.name] = schema.IndexInfo{
			Name:    entry.name,
			Columns: columns,
			Unique:  entry.unique,
		}
	}
	return nil
}

func (b *Backend) indexColumns(ctx context.Context, indexName string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdentifier(indexName)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index_info for %s: %w", indexName, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var colName sql.NullString
		if err := rows.Scan(&seqno, &cid, &colName); err != nil {
			return nil, fmt.Errorf("failed to scan index_info row: %w", err)
		}
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}
	return columns, rows.Err()
}

func (b *Backend) loadForeignKeys(ctx context.Context, table *schema.TableInfo) error {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdentifier(table.Name)))
	if err != nil {
		return fmt.Errorf("failed to read foreign_key_list for %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, seq int
		var refTable, from, onUpdate, onDelete, match string
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return fmt.Errorf("failed to scan foreign_key_list row: %w", err)
		}
		// SQLite does not name implicit constraints, so synthesize one
		constraint := fmt.Sprintf("fk_%s_%s_%d", table.Name, refTable, id)
		table.ForeignKeys[constraint] = append(table.ForeignKeys[constraint], from)
	}
	return rows.Err()
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
