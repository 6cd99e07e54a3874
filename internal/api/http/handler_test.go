package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/schemaflow/schemaflow/internal/api/http/dto"
	"github.com/schemaflow/schemaflow/internal/backends"
	"github.com/schemaflow/schemaflow/internal/executor"
	"github.com/schemaflow/schemaflow/internal/registry"
	"github.com/schemaflow/schemaflow/internal/state"
	"github.com/schemaflow/schemaflow/schema"
)

// mockBackend records applied DDL and serves a fixed catalog.
type mockBackend struct {
	name    string
	catalog *schema.MemoryCatalog
	applied []string
	failDDL bool
}

func newMockBackend(name string) *mockBackend {
	return &mockBackend{
		name:    name,
		catalog: schema.NewMemoryCatalog(),
	}
}

func (b *mockBackend) Name() string { return b.name }

func (b *mockBackend) Connect(config *backends.ConnectionConfig) error { return nil }

func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) CreateSchema(ctx context.Context, schemaName string) error { return nil }

func (b *mockBackend) SchemaExists(ctx context.Context, schemaName string) (bool, error) {
	return true, nil
}

func (b *mockBackend) ApplyDDL(ctx context.Context, schemaName string, statements []string) error {
	if b.failDDL {
		return fmt.Errorf("simulated DDL failure")
	}
	b.applied = append(b.applied, statements...)
	return nil
}

func (b *mockBackend) Catalog(ctx context.Context, schemaName string) (schema.Catalog, error) {
	return b.catalog, nil
}

func (b *mockBackend) HealthCheck(ctx context.Context) error { return nil }

// failingTracker makes Initialize fail so the health endpoint reports unhealthy.
type failingTracker struct {
	*state.MemoryTracker
}

func (t *failingTracker) Initialize(ctx context.Context) error {
	return errors.New("state database unreachable")
}

func createOrdersMigration() *registry.Migration {
	return &registry.Migration{
		Version:    "20240101120000",
		Name:       "create_orders",
		Connection: "orders",
		Backend:    "postgresql",
		Upgrade: func() []schema.Update {
			return []schema.Update{
				schema.CreateTable{
					Table: "orders",
					Fields: []schema.Field{
						{Name: "id", Type: schema.Int64, PrimaryKey: true},
					},
					PrimaryKeys: []string{"id"},
				},
			}
		},
		Downgrade: func() []schema.Update {
			return []schema.Update{schema.DropTable{Table: "orders"}}
		},
	}
}

const testMigrationID = "20240101120000_create_orders_postgresql_orders"

func setupTestRouter(t *testing.T, backend *mockBackend) (*gin.Engine, *executor.Executor) {
	t.Helper()
	t.Setenv("SCHEMAFLOW_API_TOKEN", "test-token")

	gin.SetMode(gin.TestMode)
	router := gin.New()

	reg := registry.NewInMemoryRegistry()
	tracker := state.NewMemoryTracker()
	exec := executor.NewExecutor(reg, tracker)
	exec.RegisterBackend(backend.name, func() backends.Backend { return backend })
	if err := exec.SetConnections(map[string]*backends.ConnectionConfig{
		"orders": {Backend: backend.name, Schema: "public"},
	}); err != nil {
		t.Fatalf("SetConnections() error: %v", err)
	}
	if err := reg.Register(createOrdersMigration()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	handler := NewHandler(exec)
	handler.RegisterRoutes(router)
	return router, exec
}

func authedRequest(method, path string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func applyTestMigration(t *testing.T, router *gin.Engine) {
	t.Helper()
	req := authedRequest("POST", "/api/v1/migrations/up", dto.MigrateUpRequest{Connection: "orders"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("migrate up failed with status %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_Health(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status = healthy, got %v", response["status"])
	}
}

func TestHandler_Health_Unhealthy(t *testing.T) {
	t.Setenv("SCHEMAFLOW_API_TOKEN", "test-token")
	gin.SetMode(gin.TestMode)
	router := gin.New()

	reg := registry.NewInMemoryRegistry()
	tracker := &failingTracker{MemoryTracker: state.NewMemoryTracker()}
	exec := executor.NewExecutor(reg, tracker)
	NewHandler(exec).RegisterRoutes(router)

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response["status"] != "unhealthy" {
		t.Errorf("Expected status = unhealthy, got %v", response["status"])
	}
}

func TestHandler_authenticate(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{
			name:           "valid token",
			authHeader:     "Bearer test-token",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing header",
			authHeader:     "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid format",
			authHeader:     "Invalid test-token",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/v1/migrations", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestHandler_migrateUp(t *testing.T) {
	backend := newMockBackend("postgresql")
	router, _ := setupTestRouter(t, backend)

	req := authedRequest("POST", "/api/v1/migrations/up", dto.MigrateUpRequest{Connection: "orders"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !response.Success {
		t.Errorf("Expected success = true, errors: %v", response.Errors)
	}
	if len(response.Applied) != 1 || response.Applied[0] != testMigrationID {
		t.Errorf("Expected applied = [%s], got %v", testMigrationID, response.Applied)
	}
	if len(backend.applied) != 1 || !strings.HasPrefix(backend.applied[0], "CREATE TABLE orders") {
		t.Errorf("Expected a CREATE TABLE statement, got %v", backend.applied)
	}
}

func TestHandler_migrateUp_BadRequest(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	tests := []struct {
		name        string
		requestBody interface{}
	}{
		{
			name:        "missing connection",
			requestBody: dto.MigrateUpRequest{},
		},
		{
			name:        "invalid body",
			requestBody: "not-json-object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authedRequest("POST", "/api/v1/migrations/up", tt.requestBody)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestHandler_migrateUp_DryRun(t *testing.T) {
	backend := newMockBackend("postgresql")
	router, _ := setupTestRouter(t, backend)

	req := authedRequest("POST", "/api/v1/migrations/up", dto.MigrateUpRequest{
		Connection: "orders",
		DryRun:     true,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(response.Statements) == 0 {
		t.Error("Expected dry run to return statements")
	}
	if len(backend.applied) != 0 {
		t.Errorf("Expected no DDL applied on dry run, got %v", backend.applied)
	}
}

func TestHandler_migrateUp_PartialContent(t *testing.T) {
	backend := newMockBackend("postgresql")
	backend.failDDL = true
	router, _ := setupTestRouter(t, backend)

	req := authedRequest("POST", "/api/v1/migrations/up", dto.MigrateUpRequest{Connection: "orders"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPartialContent {
		t.Errorf("Expected status %d, got %d. Body: %s", http.StatusPartialContent, w.Code, w.Body.String())
	}
}

func TestHandler_migrateDown(t *testing.T) {
	backend := newMockBackend("postgresql")
	router, _ := setupTestRouter(t, backend)
	applyTestMigration(t, router)
	backend.catalog.AddTable(&schema.TableInfo{Name: "orders"})

	req := authedRequest("POST", "/api/v1/migrations/down", dto.MigrateDownRequest{
		MigrationID: testMigrationID,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !response.Success {
		t.Errorf("Expected success = true, errors: %v", response.Errors)
	}
	found := false
	for _, stmt := range backend.applied {
		if strings.HasPrefix(stmt, "DROP TABLE orders") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a DROP TABLE statement, got %v", backend.applied)
	}
}

func TestHandler_migrateDown_BadRequest(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("POST", "/api/v1/migrations/down", dto.MigrateDownRequest{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandler_listMigrations(t *testing.T) {
	router, exec := setupTestRouter(t, newMockBackend("postgresql"))

	ctx := context.Background()
	if err := exec.GetStateTracker().ReindexMigrations(ctx, exec.GetRegistry()); err != nil {
		t.Fatalf("ReindexMigrations() error: %v", err)
	}

	req := authedRequest("GET", "/api/v1/migrations", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrationListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Total != 1 {
		t.Fatalf("Expected total = 1, got %d", response.Total)
	}
	item := response.Items[0]
	if item.MigrationID != testMigrationID {
		t.Errorf("Expected migration_id %s, got %s", testMigrationID, item.MigrationID)
	}
	if item.Applied {
		t.Error("Expected migration to be pending, got applied")
	}
}

func TestHandler_getMigration(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("GET", "/api/v1/migrations/"+testMigrationID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrationDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Version != "20240101120000" {
		t.Errorf("Expected version 20240101120000, got %s", response.Version)
	}
	if response.Applied {
		t.Error("Expected applied = false before execution")
	}
	if len(response.UpgradeDDL) != 1 || !strings.HasPrefix(response.UpgradeDDL[0], "CREATE TABLE orders") {
		t.Errorf("Expected upgrade DDL preview, got %v", response.UpgradeDDL)
	}
	if len(response.DowngradeDDL) != 1 || !strings.HasPrefix(response.DowngradeDDL[0], "DROP TABLE orders") {
		t.Errorf("Expected downgrade DDL preview, got %v", response.DowngradeDDL)
	}
}

func TestHandler_getMigration_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("GET", "/api/v1/migrations/does_not_exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_getMigrationStatus(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("GET", "/api/v1/migrations/"+testMigrationID+"/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response dto.MigrationStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Status != state.StatusPending {
		t.Errorf("Expected status %s, got %s", state.StatusPending, response.Status)
	}

	applyTestMigration(t, router)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/migrations/"+testMigrationID+"/status", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Status != state.StatusSuccess || !response.Applied {
		t.Errorf("Expected applied success status, got %s applied=%v", response.Status, response.Applied)
	}
}

func TestHandler_getMigrationHistory(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))
	applyTestMigration(t, router)

	req := authedRequest("GET", "/api/v1/migrations/"+testMigrationID+"/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.MigrationHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(response.History) == 0 {
		t.Fatal("Expected at least one history record")
	}
	latest := response.History[0]
	if latest.Status != state.StatusSuccess {
		t.Errorf("Expected latest record status %s, got %s", state.StatusSuccess, latest.Status)
	}
	if latest.ExecutedBy != "api_user" {
		t.Errorf("Expected executed_by = api_user, got %s", latest.ExecutedBy)
	}
}

func TestHandler_getMigrationHistory_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("GET", "/api/v1/migrations/does_not_exist/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_rollbackMigration(t *testing.T) {
	backend := newMockBackend("postgresql")
	router, _ := setupTestRouter(t, backend)
	applyTestMigration(t, router)
	backend.catalog.AddTable(&schema.TableInfo{Name: "orders"})

	req := authedRequest("POST", "/api/v1/migrations/"+testMigrationID+"/rollback", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.RollbackResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !response.Success {
		t.Errorf("Expected success = true, errors: %v", response.Errors)
	}

	// A rolled back migration reports as not applied
	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest("GET", "/api/v1/migrations/"+testMigrationID+"/status", nil))
	var status dto.MigrationStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if status.Applied {
		t.Error("Expected migration to be unapplied after rollback")
	}
}

func TestHandler_rollbackMigration_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("POST", "/api/v1/migrations/does_not_exist/rollback", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_rollbackMigration_NotApplied(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("POST", "/api/v1/migrations/"+testMigrationID+"/rollback", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d. Body: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}
}

func TestHandler_reindexMigrations(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req := authedRequest("POST", "/api/v1/migrations/reindex", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response dto.ReindexResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Total != 1 {
		t.Errorf("Expected total = 1, got %d", response.Total)
	}
}

func TestHandler_Options(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req, _ := http.NewRequest("OPTIONS", "/api/v1/migrations", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
}

func TestHandler_OpenAPISpec(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req, _ := http.NewRequest("GET", "/api/v1/openapi.yaml", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "openapi:") {
		t.Error("Expected YAML spec body")
	}
}

func TestHandler_OpenAPISpecJSON(t *testing.T) {
	router, _ := setupTestRouter(t, newMockBackend("postgresql"))

	req, _ := http.NewRequest("GET", "/api/v1/openapi.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &spec); err != nil {
		t.Fatalf("Failed to unmarshal spec: %v", err)
	}
	if _, ok := spec["paths"]; !ok {
		t.Error("Expected spec to contain paths")
	}
}
