package http

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/schemaflow/schemaflow/internal/api/http/dto"
	"github.com/schemaflow/schemaflow/internal/auth"
	"github.com/schemaflow/schemaflow/internal/executor"
	"github.com/schemaflow/schemaflow/internal/state"
	"github.com/schemaflow/schemaflow/schema"
)

// Handler handles HTTP API requests
type Handler struct {
	executor *executor.Executor
}

// NewHandler creates a new HTTP handler
func NewHandler(exec *executor.Executor) *Handler {
	return &Handler{
		executor: exec,
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		api.POST("/migrations/up", h.authenticate, h.migrateUp)
		api.POST("/migrations/down", h.authenticate, h.migrateDown)
		api.GET("/migrations", h.authenticate, h.listMigrations)
		api.GET("/migrations/:id", h.authenticate, h.getMigration)
		api.GET("/migrations/:id/status", h.authenticate, h.getMigrationStatus)
		api.GET("/migrations/:id/history", h.authenticate, h.getMigrationHistory)
		api.POST("/migrations/:id/rollback", h.authenticate, h.rollbackMigration)
		api.POST("/migrations/reindex", h.authenticate, h.reindexMigrations)
		api.GET("/health", h.Health)
		api.GET("/openapi.yaml", h.OpenAPISpec)
		api.GET("/openapi.json", h.OpenAPISpecJSON)
	}
}

// authenticate middleware validates API token
func (h *Handler) authenticate(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	token, err := auth.ExtractToken(authHeader)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		c.Abort()
		return
	}

	if err := auth.ValidateToken(token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		c.Abort()
		return
	}

	c.Next()
}

// setExecutionContext attaches execution metadata from the request so history
// records carry who triggered the run and how.
func (h *Handler) setExecutionContext(c *gin.Context) context.Context {
	executedBy := "api_user"
	executionMethod := "api"
	if c.GetHeader("X-Client-Type") == "cli" {
		executionMethod = "cli"
	}

	executionContext := map[string]interface{}{
		"endpoint":   c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("request_id"),
	}

	return executor.SetExecutionContext(c.Request.Context(), executedBy, executionMethod, executionContext)
}

// migrateUp handles up migration requests
func (h *Handler) migrateUp(c *gin.Context) {
	var req dto.MigrateUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := h.setExecutionContext(c)

	result, err := h.executor.ExecuteUp(
		ctx,
		req.Target,
		req.Connection,
		req.Schemas,
		req.DryRun,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	statusCode := http.StatusOK
	if !result.Success {
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, migrateResponse(result))
}

// migrateDown handles down migration requests
func (h *Handler) migrateDown(c *gin.Context) {
	var req dto.MigrateDownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := h.setExecutionContext(c)

	result, err := h.executor.ExecuteDown(ctx, req.MigrationID, req.Schema, req.DryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	statusCode := http.StatusOK
	if !result.Success {
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, migrateResponse(result))
}

func migrateResponse(result *executor.ExecuteResult) dto.MigrateResponse {
	return dto.MigrateResponse{
		Success:    result.Success,
		Applied:    result.Applied,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
		Statements: result.Statements,
		Queued:     result.Queued,
		JobID:      result.JobID,
	}
}

// listMigrations lists all migrations with their status
func (h *Handler) listMigrations(c *gin.Context) {
	var filters dto.MigrationListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stateFilters := &state.MigrationFilters{
		Schema:     filters.Schema,
		Connection: filters.Connection,
		Backend:    filters.Backend,
		Status:     filters.Status,
		Version:    filters.Version,
	}

	migrationList, err := h.executor.GetMigrationList(c.Request.Context(), stateFilters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]dto.MigrationListItem, 0, len(migrationList))
	for _, item := range migrationList {
		items = append(items, dto.MigrationListItem{
			MigrationID:  item.MigrationID,
			Schema:       item.Schema,
			Version:      item.Version,
			Name:         item.Name,
			Connection:   item.Connection,
			Backend:      item.Backend,
			Applied:      item.Applied,
			Status:       item.LastStatus,
			AppliedAt:    item.LastAppliedAt,
			ErrorMessage: item.LastErrorMessage,
		})
	}

	c.JSON(http.StatusOK, dto.MigrationListResponse{
		Items: items,
		Total: len(items),
	})
}

// getMigration gets a specific migration by ID
func (h *Handler) getMigration(c *gin.Context) {
	migrationID := c.Param("id")

	migration := h.executor.GetMigrationByID(migrationID)
	if migration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
		return
	}

	applied, err := h.executor.IsMigrationApplied(c.Request.Context(), migrationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	structuredDeps := make([]dto.DependencyResponse, 0, len(migration.StructuredDependencies))
	for _, dep := range migration.StructuredDependencies {
		structuredDeps = append(structuredDeps, dto.DependencyResponse{
			Connection: dep.Connection,
			Target:     dep.Target,
			TargetType: dep.TargetType,
		})
	}

	response := dto.MigrationDetailResponse{
		MigrationID:            migrationID,
		Version:                migration.Version,
		Name:                   migration.Name,
		PrevVersion:            migration.PrevVersion,
		Connection:             migration.Connection,
		Backend:                migration.Backend,
		CreatedAt:              migration.CreatedAt,
		Applied:                applied,
		Dependencies:           migration.Dependencies,
		StructuredDependencies: structuredDeps,
	}

	// Rendering DDL needs no catalog, so the detail view can preview both
	// directions without touching a database
	if migration.Upgrade != nil {
		response.UpgradeDDL = schema.Statements(migration.Upgrade())
	}
	if migration.Downgrade != nil {
		response.DowngradeDDL = schema.Statements(migration.Downgrade())
	}

	c.JSON(http.StatusOK, response)
}

// getMigrationStatus gets the status of a specific migration
func (h *Handler) getMigrationStatus(c *gin.Context) {
	migrationID := c.Param("id")

	migrationList, err := h.executor.GetMigrationList(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := dto.MigrationStatusResponse{
		MigrationID: migrationID,
		Status:      state.StatusPending,
	}
	for _, item := range migrationList {
		if item.MigrationID == migrationID {
			response.Status = item.LastStatus
			response.Applied = item.Applied
			response.AppliedAt = item.LastAppliedAt
			response.ErrorMessage = item.LastErrorMessage
			break
		}
	}

	c.JSON(http.StatusOK, response)
}

// getMigrationHistory gets the execution history for a specific migration
func (h *Handler) getMigrationHistory(c *gin.Context) {
	migrationID := c.Param("id")

	migration := h.executor.GetMigrationByID(migrationID)
	if migration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
		return
	}

	allHistory, err := h.executor.GetMigrationHistory(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := make([]dto.HistoryRecord, 0)
	for _, record := range allHistory {
		if record.MigrationID != migrationID {
			continue
		}
		records = append(records, dto.HistoryRecord{
			MigrationID:      record.MigrationID,
			Schema:           record.Schema,
			Version:          record.Version,
			Connection:       record.Connection,
			Backend:          record.Backend,
			AppliedAt:        record.AppliedAt,
			Status:           record.Status,
			ErrorMessage:     record.ErrorMessage,
			ExecutedBy:       record.ExecutedBy,
			ExecutionMethod:  record.ExecutionMethod,
			ExecutionContext: record.ExecutionContext,
		})
	}

	c.JSON(http.StatusOK, dto.MigrationHistoryResponse{
		MigrationID: migrationID,
		History:     records,
	})
}

// rollbackMigration rolls back a specific migration
func (h *Handler) rollbackMigration(c *gin.Context) {
	migrationID := c.Param("id")

	migration := h.executor.GetMigrationByID(migrationID)
	if migration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
		return
	}

	applied, err := h.executor.IsMigrationApplied(c.Request.Context(), migrationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !applied {
		c.JSON(http.StatusBadRequest, gin.H{"error": "migration is not applied"})
		return
	}

	ctx := h.setExecutionContext(c)

	result, err := h.executor.Rollback(ctx, migrationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.RollbackResponse{
		Success: result.Success,
		Message: result.Message,
		Errors:  result.Errors,
	})
}

// reindexMigrations syncs registered migrations into the state tracker
func (h *Handler) reindexMigrations(c *gin.Context) {
	reg := h.executor.GetRegistry()
	if err := h.executor.GetStateTracker().ReindexMigrations(c.Request.Context(), reg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.ReindexResponse{
		Total: len(reg.GetAll()),
	})
}

// Health handles health check requests
func (h *Handler) Health(c *gin.Context) {
	healthStatus := gin.H{
		"status": "healthy",
		"checks": gin.H{},
	}

	if err := h.executor.HealthCheck(c.Request.Context()); err != nil {
		healthStatus["status"] = "unhealthy"
		healthStatus["checks"].(gin.H)["executor"] = err.Error()
	} else {
		healthStatus["checks"].(gin.H)["executor"] = "ok"
	}

	statusCode := http.StatusOK
	if healthStatus["status"] == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthStatus)
}

//go:embed openapi.yaml
var openAPISpecYAML []byte

// OpenAPISpec serves the OpenAPI specification in YAML format
func (h *Handler) OpenAPISpec(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-yaml", openAPISpecYAML)
}

// OpenAPISpecJSON serves the OpenAPI specification in JSON format
func (h *Handler) OpenAPISpecJSON(c *gin.Context) {
	var spec map[string]interface{}
	if err := yaml.Unmarshal(openAPISpecYAML, &spec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse OpenAPI spec"})
		return
	}
	c.JSON(http.StatusOK, spec)
}
