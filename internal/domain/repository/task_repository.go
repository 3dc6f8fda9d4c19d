package repository

import (
	"context"

	"github.com/saorsa-labs/fae/internal/domain/entity"
)

// TaskRepository persists scheduled tasks as a snapshot the dispatcher
// loads on every tick.
type TaskRepository interface {
	List(ctx context.Context) ([]*entity.ScheduledTask, error)
	FindByID(ctx context.Context, id string) (*entity.ScheduledTask, error)
	Save(ctx context.Context, task *entity.ScheduledTask) error
	Delete(ctx context.Context, id string) error
}
