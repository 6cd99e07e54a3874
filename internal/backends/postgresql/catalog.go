package postgresql

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/schema"
)

// Catalog introspects information_schema and the pg_catalog and returns the
// current table metadata for a schema.
func (b *Backend) Catalog(ctx context.Context, schemaName string) (schema.Catalog, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	cat := schema.NewMemoryCatalog()
	tables := make(map[string]*schema.TableInfo)

	columnQuery := `
		SELECT table_name, column_name, data_type, udt_name,
		       COALESCE(character_maximum_length, 0), is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`
	rows, err := b.db.QueryContext(ctx, columnQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, dataType, udtName, isNullable string
		var charMax int
		if err := rows.Scan(&tableName, &columnName, &dataType, &udtName, &charMax, &isNullable); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			table = &schema.TableInfo{
				Name:        tableName,
				Columns:     make(map[string]schema.ColumnInfo),
				Indexes:     make(map[string]schema.IndexInfo),
				ForeignKeys: make(map[string][]string),
			}
			tables[tableName] = table
		}
		table.Columns[columnName] = schema.ColumnInfo{
			Name:     columnName,
			Type:     normalizeType(dataType, udtName, charMax),
			Nullable: isNullable == "YES",
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column rows: %w", err)
	}

	if err := b.loadPrimaryKeys(ctx, schemaName, tables); err != nil {
		return nil, err
	}
	if err := b.loadIndexes(ctx, schemaName, tables); err != nil {
		return nil, err
	}
	if err := b.loadForeignKeys(ctx, schemaName, tables); err != nil {
		return nil, err
	}

	for _, table := range tables {
		cat.AddTable(table)
	}
	return cat, nil
}

func (b *Backend) loadPrimaryKeys(ctx context.Context, schemaName string, tables map[string]*schema.TableInfo) error {
	query := `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1
		ORDER BY tc.table_name, kcu.ordinal_position
	`
	rows, err := b.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return fmt.Errorf("failed to query primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("failed to scan primary key row: %w", err)
		}
		if table, ok := tables[tableName]; ok {
			table.PrimaryKeys = append(table.PrimaryKeys, columnName)
		}
	}
	return rows.Err()
}

func (b *Backend) loadIndexes(ctx context.Context, schemaName string, tables map[string]*schema.TableInfo) error {
	query := `
		SELECT t.relname, i.relname, a.attname, ix.indisunique, ix.indisprimary
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1
		ORDER BY t.relname, i.relname, a.attnum
	`
	rows, err := b.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return fmt.Errorf("failed to query indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, indexName, columnName string
		var unique, primary bool
		if err := rows.Scan(&tableName, &indexName, &columnName, &unique, &primary); err != nil {
			return fmt.Errorf("failed to scan index row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		idx := table.Indexes[indexName]
		idx.Name = indexName
		idx.Unique = unique
		idx.Primary = primary
		idx.Columns = append(idx.Columns, columnName)
		table.Indexes[indexName] = idx
	}
	return rows.Err()
}

func (b *Backend) loadForeignKeys(ctx context.Context, schemaName string, tables map[string]*schema.TableInfo) error {
	query := `
		SELECT tc.table_name, tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		ORDER BY tc.table_name, tc.constraint_name, kcu.ordinal_position
	`
	rows, err := b.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, constraintName, columnName string
		if err := rows.Scan(&tableName, &constraintName, &columnName); err != nil {
			return fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		if table, ok := tables[tableName]; ok {
			table.ForeignKeys[constraintName] = append(table.ForeignKeys[constraintName], columnName)
		}
	}
	return rows.Err()
}

// normalizeType maps information_schema type descriptions onto the type
// names Field.TypeDDL renders, so AlterColumn's same-type check compares
// like with like.
func normalizeType(dataType, udtName string, charMax int) string {
	switch dataType {
	case "bigint":
		return string(schema.Int64)
	case "boolean":
		return string(schema.Bool)
	case "double precision":
		return string(schema.Float64)
	case "text":
		return string(schema.String)
	case "character varying":
		if charMax > 0 {
			return fmt.Sprintf("VARCHAR(%d)", charMax)
		}
		return string(schema.String)
	case "bytea":
		return string(schema.Bytes)
	case "date":
		return string(schema.Date)
	case "timestamp with time zone":
		return string(schema.Timestamp)
	case "jsonb":
		return string(schema.JSON)
	case "ARRAY":
		return normalizeArrayType(udtName)
	default:
		// Pass through anything the DSL does not model
		return dataType
	}
}

func normalizeArrayType(udtName string) string {
	// Array udt names carry a leading underscore
	switch udtName {
	case "_int8":
		return string(schema.Int64) + "[]"
	case "_bool":
		return string(schema.Bool) + "[]"
	case "_float8":
		return string(schema.Float64) + "[]"
	case "_text", "_varchar":
		return string(schema.String) + "[]"
	case "_date":
		return string(schema.Date) + "[]"
	case "_timestamptz":
		return string(schema.Timestamp) + "[]"
	default:
		return udtName
	}
}
