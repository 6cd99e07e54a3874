package schema

import (
	"fmt"
	"strings"
)

// FieldType identifies the SQL column type a field renders to.
type FieldType string

const (
	Bool      FieldType = "BOOLEAN"
	Int64     FieldType = "BIGINT"
	Float64   FieldType = "DOUBLE PRECISION"
	String    FieldType = "TEXT"
	Bytes     FieldType = "BYTEA"
	Date      FieldType = "DATE"
	Timestamp FieldType = "TIMESTAMPTZ"
	JSON      FieldType = "JSONB"
)

// Field represents a column definition used by schema updates.
type Field struct {
	Name       string
	Type       FieldType
	Size       int  // Optional: maximum length for String fields (0 = unbounded)
	Array      bool // Render as an array of the base type
	Nullable   bool
	PrimaryKey bool
	Default    string // Optional: raw SQL default expression
}

// TypeDDL returns the SQL type portion of the column definition.
func (f Field) TypeDDL() string {
	base := string(f.Type)
	if f.Type == String && f.Size > 0 {
		base = fmt.Sprintf("VARCHAR(%d)", f.Size)
	}
	if f.Array {
		base += "[]"
	}
	return base
}

// DDL returns the full column definition without the column name.
func (f Field) DDL() string {
	var b strings.Builder
	b.WriteString(f.TypeDDL())
	if !f.Nullable {
		b.WriteString(" NOT NULL")
	}
	if f.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(f.Default)
	}
	return b.String()
}

// ColumnDDL returns the column definition including the column name.
func (f Field) ColumnDDL() string {
	return fmt.Sprintf("%s %s", f.Name, f.DDL())
}

// Validate checks that the field definition is internally consistent.
func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("field has no name")
	}
	if f.Type == "" {
		return fmt.Errorf("field %s has no type", f.Name)
	}
	if f.Size > 0 && f.Type != String {
		return fmt.Errorf("field %s: size is only valid for string fields", f.Name)
	}
	if f.PrimaryKey && f.Array {
		return fmt.Errorf("field %s: array fields can not be part of the primary key", f.Name)
	}
	return nil
}
