package repository

import (
	"context"

	"github.com/saorsa-labs/fae/internal/domain/entity"
)

// SessionRepository persists conversation sessions keyed by session id.
type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Session, error)
	Save(ctx context.Context, session *entity.Session) error
	Delete(ctx context.Context, id string) error
}
