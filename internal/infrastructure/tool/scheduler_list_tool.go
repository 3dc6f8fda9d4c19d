package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"go.uber.org/zap"
)

// SchedulerListTool exposes the task repository's contents to the model
// read-only, using the host command channel's scheduler.list field names
// for id, name, kind, enabled and run times, so an assistant can answer
// "what's scheduled" without a round trip through the host. The schedule
// specification itself is not included.
type SchedulerListTool struct {
	domaintool.ReadOnlyGate
	tasks  repository.TaskRepository
	logger *zap.Logger
}

func NewSchedulerListTool(tasks repository.TaskRepository, logger *zap.Logger) *SchedulerListTool {
	return &SchedulerListTool{
		ReadOnlyGate: domaintool.NewReadOnlyGate("scheduler.list"),
		tasks:        tasks,
		logger:       logger,
	}
}

func (t *SchedulerListTool) Name() string { return "scheduler.list" }
func (t *SchedulerListTool) Description() string {
	return "List the currently scheduled tasks with their kind, enabled flag, and last/next run times."
}
func (t *SchedulerListTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

type schedulerTaskView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Kind    entity.TaskKind `json:"kind"`
	Enabled bool            `json:"enabled"`
	NextRun *time.Time      `json:"next_run,omitempty"`
	LastRun *time.Time      `json:"last_run,omitempty"`
}

func (t *SchedulerListTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	tasks, err := t.tasks.List(ctx)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	views := make([]schedulerTaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, schedulerTaskView{
			ID:      task.ID,
			Name:    task.Name,
			Kind:    task.Kind,
			Enabled: task.Enabled,
			NextRun: task.NextRun,
			LastRun: task.LastRun,
		})
	}

	data, err := json.Marshal(views)
	if err != nil {
		t.logger.Warn("scheduler.list marshal failed", zap.Error(err))
		return domaintool.NewErrorResult(err.Error()), nil
	}
	return domaintool.NewResult(string(data)), nil
}
