package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	httpapi "github.com/schemaflow/schemaflow/internal/api/http"
	"github.com/schemaflow/schemaflow/internal/backends"
	"github.com/schemaflow/schemaflow/internal/backends/postgresql"
	"github.com/schemaflow/schemaflow/internal/backends/sqlite"
	"github.com/schemaflow/schemaflow/internal/config"
	"github.com/schemaflow/schemaflow/internal/executor"
	"github.com/schemaflow/schemaflow/internal/logger"
	"github.com/schemaflow/schemaflow/internal/queuefactory"
	"github.com/schemaflow/schemaflow/internal/registry"
	"github.com/schemaflow/schemaflow/internal/state"
	statepg "github.com/schemaflow/schemaflow/internal/state/postgresql"
)

func newStateTracker(cfg *config.Config) (state.StateTracker, error) {
	switch cfg.StateDB.Type {
	case "memory":
		return state.NewMemoryTracker(), nil
	case "postgresql":
		connStr := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.StateDB.Host,
			cfg.StateDB.Port,
			cfg.StateDB.Username,
			cfg.StateDB.Password,
			cfg.StateDB.Database,
		)
		return statepg.NewTracker(connStr, cfg.StateDB.Schema)
	default:
		return nil, fmt.Errorf("unsupported state database type: %s", cfg.StateDB.Type)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	stateTracker, err := newStateTracker(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize state tracker: %v", err)
	}
	defer stateTracker.Close()

	logger.Info("Initializing schemaflow server...")

	exec := executor.NewExecutor(registry.GlobalRegistry, stateTracker)
	if err := exec.SetConnections(cfg.Connections); err != nil {
		logger.Fatalf("Failed to set connections: %v", err)
	}

	if cfg.Queue.Enabled {
		queueConfig := &queuefactory.QueueConfig{
			Type:               cfg.Queue.Type,
			KafkaBrokers:       cfg.Queue.KafkaBrokers,
			KafkaTopic:         cfg.Queue.KafkaTopic,
			KafkaGroupID:       cfg.Queue.KafkaGroupID,
			PulsarURL:          cfg.Queue.PulsarURL,
			PulsarTopic:        cfg.Queue.PulsarTopic,
			PulsarSubscription: cfg.Queue.PulsarSubscription,
		}

		q, err := queuefactory.NewQueue(queueConfig)
		if err != nil {
			logger.Fatalf("Failed to create queue: %v", err)
		}
		defer q.Close()

		exec.SetQueue(q)
		logger.Info("Queue enabled - migrations will be queued for async execution")
	}

	exec.RegisterBackend("postgresql", func() backends.Backend { return postgresql.NewBackend() })
	exec.RegisterBackend("sqlite", func() backends.Backend { return sqlite.NewBackend() })

	migrationCount := len(registry.GlobalRegistry.GetAll())
	logger.Infof("Serving %d registered migration(s)", migrationCount)

	// Keep the state tracker's view of registered migrations current so the
	// list endpoint shows pending migrations before their first run
	reindexer := state.NewReindexer(stateTracker, registry.GlobalRegistry, 5*time.Minute)
	reindexer.Start()
	defer reindexer.Stop()

	router := gin.New()

	// Health probes poll frequently enough to drown out the access log
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if param.Path == "/health" || param.Path == "/api/v1/health" {
			return ""
		}
		return fmt.Sprintf("[GIN] %s | %3d | %13v | %15s | %-7s %s\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Method,
			param.Path,
		)
	}))
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Client-Type")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	httpHandler := httpapi.NewHandler(exec)
	httpHandler.RegisterRoutes(router)

	// Bare /health for load balancer probes that ignore the API prefix
	router.GET("/health", httpHandler.Health)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting HTTP server on port %s", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	logger.Info("schemaflow server started successfully")
	logger.Infof("HTTP API available at http://localhost:%s", cfg.Server.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("HTTP server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
