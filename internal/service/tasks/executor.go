// Package tasks runs the background task executor: it periodically leases
// pending tasks from the metastore and dispatches them to registered
// handlers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"metalake/internal/domain"
	"metalake/internal/service/metastore"
)

// HandlerFunc processes one leased task. Returning an error leaves the task
// leased; it becomes available again once the lease ages out.
type HandlerFunc func(ctx context.Context, task domain.Entity) error

// Executor polls the metastore for available tasks on a cron schedule and
// dispatches them to handlers registered by task type.
type Executor struct {
	manager    *metastore.Manager
	logger     *slog.Logger
	executorID string

	schedule  string
	batchSize int
	limiter   *rate.Limiter
	cron      *cron.Cron

	mu       sync.RWMutex
	handlers map[int]HandlerFunc
}

// Options configures an Executor.
type Options struct {
	// ExecutorID identifies this executor in task leases. Required.
	ExecutorID string
	// Schedule is the cron expression driving the poll loop.
	Schedule string
	// BatchSize caps how many tasks one poll leases.
	BatchSize int
	// RateLimit caps handler dispatches per second. Zero means unlimited.
	RateLimit float64
}

// NewExecutor creates an Executor. The poll loop does not run until Start.
func NewExecutor(manager *metastore.Manager, logger *slog.Logger, opts Options) (*Executor, error) {
	if opts.ExecutorID == "" {
		return nil, fmt.Errorf("executor id is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Executor{
		manager:    manager,
		logger:     logger.With("component", "task-executor", "executor_id", opts.ExecutorID),
		executorID: opts.ExecutorID,
		schedule:   opts.Schedule,
		batchSize:  opts.BatchSize,
		limiter:    rate.NewLimiter(limit, 1),
		handlers:   map[int]HandlerFunc{},
	}, nil
}

// Register binds a handler to a task type code. Registering the same code
// twice replaces the previous handler.
func (e *Executor) Register(taskTypeCode int, handler HandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskTypeCode] = handler
}

func (e *Executor) handlerFor(taskTypeCode int) HandlerFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[taskTypeCode]
}

// Start launches the cron-driven poll loop. It returns immediately; call Stop
// to drain.
func (e *Executor) Start(ctx context.Context) error {
	if e.cron != nil {
		return fmt.Errorf("executor already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(e.schedule, func() {
		if err := e.RunOnce(ctx); err != nil {
			e.logger.Error("task poll failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule task poll: %w", err)
	}
	e.cron = c
	c.Start()
	e.logger.Info("task executor started", "schedule", e.schedule)
	return nil
}

// Stop halts the poll loop and waits for in-flight polls to finish.
func (e *Executor) Stop() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.logger.Info("task executor stopped")
}

// RunOnce leases one batch of tasks and dispatches it. Losing a lease race is
// not an error; the batch is simply skipped until the next poll.
func (e *Executor) RunOnce(ctx context.Context) error {
	leased, err := e.manager.LoadTasks(ctx, e.executorID, e.batchSize)
	if err != nil {
		var retry *domain.RetryConflictError
		if errors.As(err, &retry) {
			e.logger.Debug("lost task lease race, deferring to next poll")
			return nil
		}
		return err
	}
	if len(leased.Entities) == 0 {
		return nil
	}
	e.logger.Info("leased tasks", "count", len(leased.Entities))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range leased.Entities {
		task := task
		g.Go(func() error {
			if err := e.limiter.Wait(gctx); err != nil {
				return err
			}
			e.runTask(gctx, task)
			return nil
		})
	}
	return g.Wait()
}

// runTask dispatches one task and drops it on success. Failures only log:
// the task stays leased and is retried after the lease expires.
func (e *Executor) runTask(ctx context.Context, task domain.Entity) {
	props := domain.DeserializeProperties(task.Properties)
	typeCode, err := strconv.Atoi(props[domain.TaskTypeProperty])
	if err != nil {
		e.logger.Error("task has no valid type, leaving it leased", "task_id", task.ID)
		return
	}
	handler := e.handlerFor(typeCode)
	if handler == nil {
		e.logger.Warn("no handler for task type", "task_id", task.ID, "task_type", typeCode)
		return
	}

	if err := handler(ctx, task); err != nil {
		e.logger.Error("task failed", "task_id", task.ID, "task_type", typeCode, "error", err)
		return
	}

	res, err := e.manager.DropEntityIfExists(ctx, nil, task.Core(), nil, false)
	if err != nil {
		e.logger.Error("dropping completed task failed", "task_id", task.ID, "error", err)
		return
	}
	if !res.IsSuccess() && res.Status != domain.StatusEntityNotFound {
		e.logger.Error("dropping completed task rejected", "task_id", task.ID, "status", res.Status.String())
		return
	}
	e.logger.Info("task completed", "task_id", task.ID, "task_type", typeCode)
}
