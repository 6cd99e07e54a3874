// Package generator scaffolds new migration files. A generated file is a
// compilable Go source file whose stubs perform no schema change until the
// author fills them in.
package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/schemaflow/schemaflow/internal/logger"
	"github.com/schemaflow/schemaflow/migrations"
)

// Migration filenames follow {version}_{name}.go where version is a 14-digit
// timestamp. The same pattern orders files when discovering the previous
// version.
var migrationFileRegex = regexp.MustCompile(`^(\d{14})_(.+)\.go$`)

var nameSanitizeRegex = regexp.MustCompile(`[^a-z0-9_]+`)

// Options configures a single generation run.
type Options struct {
	Dir         string // Directory the migration file is written to
	Name        string // Human-readable migration name, sanitized before use
	Connection  string
	Backend     string
	PackageName string // Defaults to the base name of Dir
	DryRun      bool   // Render without writing

	// now is overridable for tests
	now func() time.Time
}

// Result describes a generated migration file.
type Result struct {
	Path        string
	Version     string
	PrevVersion string
	Name        string
	Content     string
}

// SanitizeName converts a free-form migration name into a lower_snake_case
// identifier fragment.
func SanitizeName(name string) string {
	sanitized := strings.ToLower(strings.TrimSpace(name))
	sanitized = nameSanitizeRegex.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_")
	return sanitized
}

// sanitizePackageName produces a valid Go package identifier. A digit-leading
// name gets an underscore prefix; an empty result falls back to "migrations".
func sanitizePackageName(name string) string {
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "migrations"
	}
	if sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "_" + sanitized
	}
	return sanitized
}

// DiscoverPrevVersion scans dir for existing migration files and returns the
// highest version found, or "" when the directory is empty or absent.
func DiscoverPrevVersion(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read migration directory %s: %w", dir, err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		matches := migrationFileRegex.FindStringSubmatch(entry.Name())
		if len(matches) != 3 {
			continue
		}
		versions = append(versions, matches[1])
	}
	if len(versions) == 0 {
		return "", nil
	}
	sort.Strings(versions)
	return versions[len(versions)-1], nil
}

// Generate renders a new migration file and writes it to Options.Dir.
// The file links to the previous migration in the directory through its
// PrevVersion field, so generated migrations form a chain.
func Generate(opts Options) (*Result, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("migration name is required")
	}
	if opts.Connection == "" {
		return nil, fmt.Errorf("connection is required")
	}
	if opts.Backend == "" {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("migration directory is required")
	}

	name := SanitizeName(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("migration name %q sanitizes to nothing", opts.Name)
	}

	packageName := opts.PackageName
	if packageName == "" {
		packageName = filepath.Base(opts.Dir)
	}
	packageName = sanitizePackageName(packageName)

	now := time.Now
	if opts.now != nil {
		now = opts.now
	}
	created := now().UTC()
	version := created.Format("20060102150405")

	prevVersion, err := DiscoverPrevVersion(opts.Dir)
	if err != nil {
		return nil, err
	}
	if prevVersion >= version {
		return nil, fmt.Errorf("version %s is not after existing version %s", version, prevVersion)
	}

	content, err := render(migrations.TemplateData{
		PackageName: packageName,
		Name:        name,
		Version:     version,
		PrevVersion: prevVersion,
		Connection:  opts.Connection,
		Backend:     opts.Backend,
		CreatedAt:   created.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Path:        filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.go", version, name)),
		Version:     version,
		PrevVersion: prevVersion,
		Name:        name,
		Content:     content,
	}

	if opts.DryRun {
		return result, nil
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migration directory %s: %w", opts.Dir, err)
	}
	if _, err := os.Stat(result.Path); err == nil {
		return nil, fmt.Errorf("migration file already exists: %s", result.Path)
	}
	if err := os.WriteFile(result.Path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write migration file: %w", err)
	}

	logger.Infof("Generated migration %s_%s (previous: %s)", version, name, orNone(prevVersion))
	return result, nil
}

func render(data migrations.TemplateData) (string, error) {
	tmpl, err := template.New("migration").Parse(migrations.MigrationFileTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse migration template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render migration template: %w", err)
	}
	return buf.String(), nil
}

func orNone(version string) string {
	if version == "" {
		return "none"
	}
	return version
}
