package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schemaflow/schemaflow/internal/backends"
	"github.com/schemaflow/schemaflow/internal/backends/postgresql"
	"github.com/schemaflow/schemaflow/internal/backends/sqlite"
	"github.com/schemaflow/schemaflow/internal/config"
	"github.com/schemaflow/schemaflow/internal/executor"
	"github.com/schemaflow/schemaflow/internal/lock"
	"github.com/schemaflow/schemaflow/internal/logger"
	"github.com/schemaflow/schemaflow/internal/queuefactory"
	"github.com/schemaflow/schemaflow/internal/registry"
	"github.com/schemaflow/schemaflow/internal/state"
	statepg "github.com/schemaflow/schemaflow/internal/state/postgresql"
	"github.com/schemaflow/schemaflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if !cfg.Queue.Enabled {
		logger.Fatalf("Queue is not enabled. Set SCHEMAFLOW_QUEUE_ENABLED=true to use the worker")
	}

	var stateTracker state.StateTracker
	switch cfg.StateDB.Type {
	case "memory":
		stateTracker = state.NewMemoryTracker()
	case "postgresql":
		stateConnStr := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.StateDB.Host,
			cfg.StateDB.Port,
			cfg.StateDB.Username,
			cfg.StateDB.Password,
			cfg.StateDB.Database,
		)
		stateTracker, err = statepg.NewTracker(stateConnStr, cfg.StateDB.Schema)
		if err != nil {
			logger.Fatalf("Failed to create state tracker: %v", err)
		}
	default:
		logger.Fatalf("Unsupported state database type: %s", cfg.StateDB.Type)
	}
	defer stateTracker.Close()

	if err := stateTracker.Initialize(context.Background()); err != nil {
		logger.Fatalf("Failed to initialize state tracker: %v", err)
	}

	exec := executor.NewExecutor(registry.GlobalRegistry, stateTracker)
	if err := exec.SetConnections(cfg.Connections); err != nil {
		logger.Fatalf("Failed to set connections: %v", err)
	}

	exec.RegisterBackend("postgresql", func() backends.Backend { return postgresql.NewBackend() })
	exec.RegisterBackend("sqlite", func() backends.Backend { return sqlite.NewBackend() })

	migrationCount := len(registry.GlobalRegistry.GetAll())
	logger.Infof("Worker sees %d registered migration(s)", migrationCount)

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
	defer func() { _ = q.Close() }()

	var locker lock.Locker = lock.NoopLocker{}
	if cfg.Lock.Enabled {
		etcdLocker, err := lock.NewEtcdLocker(lock.Config{
			Endpoints:   cfg.Lock.Endpoints,
			Username:    cfg.Lock.Username,
			Password:    cfg.Lock.Password,
			Prefix:      cfg.Lock.Prefix,
			SessionTTL:  cfg.Lock.SessionTTL,
			DialTimeout: cfg.LockDialTimeout(),
		})
		if err != nil {
			logger.Fatalf("Failed to connect to etcd for locking: %v", err)
		}
		locker = etcdLocker
		logger.Info("Distributed locking enabled via etcd")
	}
	defer func() { _ = locker.Close() }()

	w := worker.NewWorker(exec, q, locker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := w.Start(ctx); err != nil {
			logger.Errorf("Worker error: %v", err)
			cancel()
		}
	}()

	logger.Info("Migration worker started. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Shutting down worker...")

	if err := w.Stop(); err != nil {
		logger.Errorf("Error stopping worker: %v", err)
	}

	logger.Info("Worker stopped")
}
