package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemaflow/schemaflow/internal/api/http/dto"
	"github.com/schemaflow/schemaflow/internal/generator"
	"github.com/schemaflow/schemaflow/internal/registry"
)

var (
	serverURL string
	apiToken  string

	newDir        string
	newConnection string
	newBackend    string
	newPackage    string
	newDryRun     bool

	upConnection string
	upBackend    string
	upVersion    string
	upSchemas    []string
	upDryRun     bool

	downSchema string
	downDryRun bool

	statusConnection string
	statusBackend    string
	statusFilter     string
)

var rootCmd = &cobra.Command{
	Use:   "schemaflow",
	Short: "schemaflow - declarative schema migration CLI",
	Long: `schemaflow manages database schema migrations written as Go files.

Generate new migration files locally with "new", then drive a running
schemaflow server with "up", "down" and "status".`,
	Version: "1.0.0",
}

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Generate a new migration file",
	Long: `New renders a migration file skeleton into the migrations directory.

The file is named {version}_{name}.go with a timestamp version, and chains
to the newest migration already in the directory through its PrevVersion.

Example:
  schemaflow new "add orders table" --connection orders --backend postgresql
  schemaflow new add_index --connection orders --backend postgresql --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations through the server",
	Long: `Up asks the schemaflow server to apply pending migrations for a
connection, optionally narrowed to a backend or a single version.

Example:
  schemaflow up --connection orders
  schemaflow up --connection orders --version 20240101120000 --dry-run`,
	RunE: runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [migration-id]",
	Short: "Roll back one migration through the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runDown,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and their current status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("schemaflow CLI version %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("SCHEMAFLOW_SERVER_URL", "http://localhost:7070"), "Base URL of the schemaflow server")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SCHEMAFLOW_API_TOKEN"), "API token (default: SCHEMAFLOW_API_TOKEN)")

	newCmd.Flags().StringVarP(&newDir, "dir", "d", getEnvOrDefault("SCHEMAFLOW_MIGRATIONS_DIR", "migrations"), "Directory the migration file is written to")
	newCmd.Flags().StringVarP(&newConnection, "connection", "c", "", "Connection the migration targets (required)")
	newCmd.Flags().StringVarP(&newBackend, "backend", "b", "postgresql", "Backend the migration targets")
	newCmd.Flags().StringVar(&newPackage, "package", "", "Package name for the generated file (default: directory name)")
	newCmd.Flags().BoolVar(&newDryRun, "dry-run", false, "Print the file instead of writing it")
	_ = newCmd.MarkFlagRequired("connection")

	upCmd.Flags().StringVarP(&upConnection, "connection", "c", "", "Connection to migrate (required)")
	upCmd.Flags().StringVarP(&upBackend, "backend", "b", "", "Restrict to one backend")
	upCmd.Flags().StringVar(&upVersion, "version", "", "Restrict to one migration version")
	upCmd.Flags().StringSliceVar(&upSchemas, "schema", nil, "Schemas to run against (repeatable)")
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "Show the DDL without applying it")
	_ = upCmd.MarkFlagRequired("connection")

	downCmd.Flags().StringVar(&downSchema, "schema", "", "Schema to run against")
	downCmd.Flags().BoolVar(&downDryRun, "dry-run", false, "Show the DDL without applying it")

	statusCmd.Flags().StringVarP(&statusConnection, "connection", "c", "", "Filter by connection")
	statusCmd.Flags().StringVarP(&statusBackend, "backend", "b", "", "Filter by backend")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, success, failed, rolled_back)")

	rootCmd.AddCommand(newCmd, upCmd, downCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runNew(cmd *cobra.Command, args []string) error {
	result, err := generator.Generate(generator.Options{
		Dir:         newDir,
		Name:        args[0],
		Connection:  newConnection,
		Backend:     newBackend,
		PackageName: newPackage,
		DryRun:      newDryRun,
	})
	if err != nil {
		return err
	}

	if newDryRun {
		fmt.Printf("[DRY RUN] Would generate: %s\n\n", result.Path)
		fmt.Print(result.Content)
		return nil
	}

	fmt.Printf("Generated: %s\n", result.Path)
	if result.PrevVersion != "" {
		fmt.Printf("Chains to previous version %s\n", result.PrevVersion)
	}
	fmt.Println("Edit the upgrade and downgrade functions, then register the file's package with the server build.")
	return nil
}

func runUp(cmd *cobra.Command, args []string) error {
	req := dto.MigrateUpRequest{
		Connection: upConnection,
		Schemas:    upSchemas,
		DryRun:     upDryRun,
	}
	if upBackend != "" || upVersion != "" {
		req.Target = &registry.MigrationTarget{
			Backend:    upBackend,
			Version:    upVersion,
			Connection: upConnection,
		}
	}

	var resp dto.MigrateResponse
	if err := callServer("POST", "/api/v1/migrations/up", req, &resp); err != nil {
		return err
	}

	printMigrateResult(&resp)
	if !resp.Success {
		os.Exit(1)
	}
	return nil
}

func runDown(cmd *cobra.Command, args []string) error {
	req := dto.MigrateDownRequest{
		MigrationID: args[0],
		Schema:      downSchema,
		DryRun:      downDryRun,
	}

	var resp dto.MigrateResponse
	if err := callServer("POST", "/api/v1/migrations/down", req, &resp); err != nil {
		return err
	}

	printMigrateResult(&resp)
	if !resp.Success {
		os.Exit(1)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := "/api/v1/migrations"
	query := buildQuery(map[string]string{
		"connection": statusConnection,
		"backend":    statusBackend,
		"status":     statusFilter,
	})
	if query != "" {
		path += "?" + query
	}

	var resp dto.MigrationListResponse
	if err := callServer("GET", path, nil, &resp); err != nil {
		return err
	}

	if resp.Total == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION ID\tCONNECTION\tBACKEND\tSTATUS\tAPPLIED AT")
	for _, item := range resp.Items {
		status := item.Status
		if status == "" {
			status = "pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.MigrationID, item.Connection, item.Backend, status, item.AppliedAt)
	}
	return w.Flush()
}

func printMigrateResult(resp *dto.MigrateResponse) {
	if resp.Queued {
		fmt.Printf("Queued job %s for asynchronous execution\n", resp.JobID)
		return
	}
	for _, id := range resp.Applied {
		fmt.Printf("Applied: %s\n", id)
	}
	for _, id := range resp.Skipped {
		fmt.Printf("Skipped: %s\n", id)
	}
	for _, stmt := range resp.Statements {
		fmt.Printf("  %s\n", stmt)
	}
	for _, e := range resp.Errors {
		fmt.Fprintf(os.Stderr, "Error: %s\n", e)
	}
	if resp.Success {
		fmt.Printf("Done: %d applied, %d skipped\n", len(resp.Applied), len(resp.Skipped))
	}
}

func callServer(method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("X-Client-Type", "cli")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", serverURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// 206 carries a valid body describing a partially failed run
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	return json.Unmarshal(data, out)
}

func buildQuery(params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		if value != "" {
			values.Set(key, value)
		}
	}
	return values.Encode()
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
