// Package scheduler runs the 1-second-tick dispatcher that fires due
// scheduled tasks into the pipeline coordinator and persists the
// resulting run state.
package scheduler

import (
	"context"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	"github.com/saorsa-labs/fae/pkg/safego"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskDispatcher is the pipeline-facing boundary the scheduler fires
// tasks through: a bounded async call with a oneshot response, modeled
// here as a blocking call the dispatcher races against the task's
// SoftTimeoutSeconds.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, payload entity.TaskPayload) error
}

const tickInterval = 1 * time.Second

// Dispatcher ticks every second, loads the persisted task snapshot, and
// fires any task whose next_run has arrived.
type Dispatcher struct {
	store  repository.TaskRepository
	run    TaskDispatcher
	bus    eventbus.Bus
	logger *zap.Logger
}

func NewDispatcher(store repository.TaskRepository, run TaskDispatcher, bus eventbus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, run: run, bus: bus, logger: logger.With(zap.String("component", "scheduler"))}
}

// Run blocks, ticking until ctx is cancelled. Each tick's task firings
// run concurrently with each other but the tick loop itself never waits
// on them past the fixed tick period.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	tasks, err := d.store.List(ctx)
	if err != nil {
		d.logger.Warn("failed to load task snapshot", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		if task.NextRun == nil || task.NextRun.After(now) {
			continue
		}
		t := task
		safego.Go(d.logger, "scheduler-task-"+t.ID, func() {
			d.fire(ctx, t, now)
		})
	}
}

func (d *Dispatcher) fire(ctx context.Context, task *entity.ScheduledTask, now time.Time) {
	task.LastRun = &now
	next := task.NextFireTime(now)
	task.NextRun = &next

	timeout := time.Duration(task.SoftTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.run.Dispatch(dispatchCtx, task.Payload)

	switch {
	case err == nil:
		task.RecordSuccess(now)
	case dispatchCtx.Err() == context.DeadlineExceeded:
		d.recordFailure(task, now, "soft timeout", true)
	default:
		d.recordFailure(task, now, err.Error(), false)
	}

	if persistErr := d.store.Save(ctx, task); persistErr != nil {
		d.logger.Error("failed to persist task after run", zap.String("task_id", task.ID), zap.Error(persistErr))
	}
}

func (d *Dispatcher) recordFailure(task *entity.ScheduledTask, now time.Time, errMsg string, softTimeout bool) {
	paused := task.RecordFailure(now, errMsg)
	if paused {
		d.publishPaused(task)
		return
	}
	if task.FailureStreak >= task.MaxRetries && task.RetryBackoffSeconds > 0 {
		backoffNext := now.Add(time.Duration(task.RetryBackoffSeconds) * time.Second)
		if task.NextRun == nil || backoffNext.After(*task.NextRun) {
			task.NextRun = &backoffNext
		}
	}
}

func (d *Dispatcher) publishPaused(task *entity.ScheduledTask) {
	evt, err := valueobject.NewEvent(uuid.NewString(), "task.paused", map[string]interface{}{
		"task_id": task.ID,
		"name":    task.Name,
		"error":   task.LastError,
	})
	if err != nil {
		d.logger.Error("failed to build task.paused event", zap.Error(err))
		return
	}
	d.bus.Publish(evt)
}
