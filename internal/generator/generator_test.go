package generator

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow(value string) func() time.Time {
	return func() time.Time {
		t, _ := time.Parse("20060102150405", value)
		return t
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"create users table", "create_users_table"},
		{"Create-Users!", "create_users"},
		{"  add_index  ", "add_index"},
		{"__trimmed__", "trimmed"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.input); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGenerateWritesParsableFile(t *testing.T) {
	dir := t.TempDir()

	result, err := Generate(Options{
		Dir:        dir,
		Name:       "Create Orders Table",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240115103000"),
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	wantPath := filepath.Join(dir, "20240115103000_create_orders_table.go")
	if result.Path != wantPath {
		t.Errorf("Path = %s, want %s", result.Path, wantPath)
	}
	if result.PrevVersion != "" {
		t.Errorf("PrevVersion = %q, want empty for first migration", result.PrevVersion)
	}

	content, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("reading generated file: %v", err)
	}
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, result.Path, content, parser.AllErrors); err != nil {
		t.Fatalf("generated file does not parse: %v", err)
	}

	text := string(content)
	for _, want := range []string{
		`Version:     "20240115103000"`,
		`Name:        "create_orders_table"`,
		`PrevVersion: ""`,
		`Connection:  "orders"`,
		`Backend:     "postgresql"`,
		"func upgrade20240115103000() []schema.Update",
		"func downgrade20240115103000() []schema.Update",
		"schema.NoUpdate{}",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("generated file missing %q", want)
		}
	}
}

func TestGenerateChainsPrevVersion(t *testing.T) {
	dir := t.TempDir()

	first, err := Generate(Options{
		Dir:        dir,
		Name:       "create_orders",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240115103000"),
	})
	if err != nil {
		t.Fatalf("Generate(first) error: %v", err)
	}

	second, err := Generate(Options{
		Dir:        dir,
		Name:       "add_totals",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240116103000"),
	})
	if err != nil {
		t.Fatalf("Generate(second) error: %v", err)
	}

	if second.PrevVersion != first.Version {
		t.Errorf("PrevVersion = %q, want %q", second.PrevVersion, first.Version)
	}
	if !strings.Contains(second.Content, `PrevVersion: "20240115103000"`) {
		t.Error("second migration does not reference the first")
	}
}

func TestGenerateRejectsNonAdvancingVersion(t *testing.T) {
	dir := t.TempDir()

	if _, err := Generate(Options{
		Dir:        dir,
		Name:       "create_orders",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240115103000"),
	}); err != nil {
		t.Fatalf("Generate(first) error: %v", err)
	}

	_, err := Generate(Options{
		Dir:        dir,
		Name:       "too_fast",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240115103000"),
	})
	if err == nil {
		t.Fatal("expected error for non-advancing version")
	}
	if !strings.Contains(err.Error(), "not after") {
		t.Errorf("error = %v, want version ordering message", err)
	}
}

func TestGenerateDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()

	result, err := Generate(Options{
		Dir:        dir,
		Name:       "create_orders",
		Connection: "orders",
		Backend:    "postgresql",
		DryRun:     true,
		now:        fixedNow("20240115103000"),
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if result.Content == "" {
		t.Error("dry run produced no content")
	}
	if _, err := os.Stat(result.Path); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a file at %s", result.Path)
	}
}

func TestDiscoverPrevVersionIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"20240101120000_create_orders.go": "package m\n",
		"20240102120000_add_totals.go":    "package m\n",
		"helpers.go":                      "package m\n",
		"20240103120000_x_test.go":        "package m\n",
		"notes.txt":                       "",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing fixture %s: %v", name, err)
		}
	}

	prev, err := DiscoverPrevVersion(dir)
	if err != nil {
		t.Fatalf("DiscoverPrevVersion() error: %v", err)
	}
	if prev != "20240102120000" {
		t.Errorf("DiscoverPrevVersion() = %q, want 20240102120000", prev)
	}
}

func TestDiscoverPrevVersionMissingDir(t *testing.T) {
	prev, err := DiscoverPrevVersion(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("DiscoverPrevVersion() error: %v", err)
	}
	if prev != "" {
		t.Errorf("DiscoverPrevVersion() = %q, want empty", prev)
	}
}

func TestSanitizePackageName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"orders", "orders"},
		{"001", "_001"},
		{"2024-q1", "_2024_q1"},
		{"My Migrations", "my_migrations"},
		{"---", "migrations"},
		{"", "migrations"},
	}
	for _, tt := range tests {
		if got := sanitizePackageName(tt.input); got != tt.want {
			t.Errorf("sanitizePackageName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGenerateDigitLeadingDirParses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "001")

	result, err := Generate(Options{
		Dir:        dir,
		Name:       "create_orders",
		Connection: "orders",
		Backend:    "postgresql",
		now:        fixedNow("20240115103000"),
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	content, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatalf("reading generated file: %v", err)
	}
	if !strings.Contains(string(content), "package _001") {
		t.Errorf("expected package _001, got header %q", strings.SplitN(string(content), "\n", 2)[0])
	}
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, result.Path, content, parser.AllErrors); err != nil {
		t.Fatalf("generated file does not parse: %v", err)
	}
}
