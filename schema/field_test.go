package schema

import (
	"strings"
	"testing"
)

func TestFieldDDL(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{
			name:  "not null bigint",
			field: Field{Name: "id", Type: Int64},
			want:  "BIGINT NOT NULL",
		},
		{
			name:  "nullable text",
			field: Field{Name: "note", Type: String, Nullable: true},
			want:  "TEXT",
		},
		{
			name:  "sized string",
			field: Field{Name: "email", Type: String, Size: 255},
			want:  "VARCHAR(255) NOT NULL",
		},
		{
			name:  "array",
			field: Field{Name: "scores", Type: Float64, Array: true, Nullable: true},
			want:  "DOUBLE PRECISION[]",
		},
		{
			name:  "default expression",
			field: Field{Name: "created_at", Type: Timestamp, Default: "now()"},
			want:  "TIMESTAMPTZ NOT NULL DEFAULT now()",
		},
		{
			name:  "bool",
			field: Field{Name: "active", Type: Bool, Nullable: true},
			want:  "BOOLEAN",
		},
		{
			name:  "json",
			field: Field{Name: "payload", Type: JSON, Nullable: true},
			want:  "JSONB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.field.DDL(); got != tt.want {
				t.Errorf("DDL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFieldValidate(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantErr string
	}{
		{
			name:  "valid",
			field: Field{Name: "id", Type: Int64},
		},
		{
			name:    "no name",
			field:   Field{Type: Int64},
			wantErr: "field has no name",
		},
		{
			name:    "no type",
			field:   Field{Name: "id"},
			wantErr: "has no type",
		},
		{
			name:    "size on non-string",
			field:   Field{Name: "id", Type: Int64, Size: 10},
			wantErr: "size is only valid for string fields",
		},
		{
			name:    "array primary key",
			field:   Field{Name: "ids", Type: Int64, Array: true, PrimaryKey: true},
			wantErr: "can not be part of the primary key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
