package worker

import (
	"context"
	"fmt"

	"github.com/schemaflow/schemaflow/internal/executor"
	"github.com/schemaflow/schemaflow/internal/lock"
	"github.com/schemaflow/schemaflow/internal/logger"
	"github.com/schemaflow/schemaflow/internal/queue"
	"github.com/schemaflow/schemaflow/internal/registry"
)

// Worker processes migration jobs from the queue. A distributed lock guards
// each connection so two workers never run DDL against the same database at
// the same time.
type Worker struct {
	executor *executor.Executor
	queue    queue.Queue
	locker   lock.Locker
}

// NewWorker creates a new migration worker
func NewWorker(exec *executor.Executor, q queue.Queue, locker lock.Locker) *Worker {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &Worker{
		executor: exec,
		queue:    q,
		locker:   locker,
	}
}

// Start starts the worker to consume and process jobs
func (w *Worker) Start(ctx context.Context) error {
	logger.Info("Starting migration worker...")

	handler := func(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
		return w.processJob(ctx, job)
	}

	return w.queue.Consume(ctx, handler)
}

// processJob processes a single migration job
func (w *Worker) processJob(ctx context.Context, job *queue.Job) (*queue.JobResult, error) {
	logger.Infof("Processing migration job %s (%s)", job.ID, job.Direction)

	release, err := w.locker.Acquire(ctx, w.lockKey(job))
	if err != nil {
		return failedResult(job, err), err
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warnf("Failed to release lock for job %s: %v", job.ID, err)
		}
	}()

	var result *executor.ExecuteResult
	switch job.Direction {
	case queue.DirectionDown:
		result, err = w.executor.ExecuteDown(ctx, job.MigrationID, job.SchemaName, job.DryRun)
	default:
		target := convertQueueTarget(job.Target)
		result, err = w.executor.ExecuteSync(ctx, target, job.Connection, job.SchemaName, job.DryRun)
	}
	if err != nil {
		return failedResult(job, err), err
	}

	return &queue.JobResult{
		JobID:   job.ID,
		Success: result.Success,
		Applied: result.Applied,
		Skipped: result.Skipped,
		Errors:  result.Errors,
	}, nil
}

// lockKey picks the lock scope for a job. Up jobs lock their connection; down
// jobs carry only a migration ID, so the ID itself becomes the scope.
func (w *Worker) lockKey(job *queue.Job) string {
	if job.Connection != "" {
		return job.Connection
	}
	if job.Target != nil && job.Target.Connection != "" {
		return job.Target.Connection
	}
	return job.MigrationID
}

func failedResult(job *queue.Job, err error) *queue.JobResult {
	return &queue.JobResult{
		JobID:   job.ID,
		Success: false,
		Errors:  []string{fmt.Sprintf("%v", err)},
	}
}

// convertQueueTarget converts queue.MigrationTarget to registry.MigrationTarget
func convertQueueTarget(target *queue.MigrationTarget) *registry.MigrationTarget {
	if target == nil {
		return nil
	}
	return &registry.MigrationTarget{
		Backend:    target.Backend,
		Version:    target.Version,
		Connection: target.Connection,
	}
}

// Stop stops the worker
func (w *Worker) Stop() error {
	logger.Info("Stopping migration worker...")
	return w.queue.Close()
}
