package repository

import (
	"context"

	"github.com/saorsa-labs/fae/internal/domain/entity"
)

// MemorySearchResult pairs a record with its similarity score against
// the query embedding.
type MemorySearchResult struct {
	Record *entity.MemoryRecord
	Score  float64
}

// MemoryRepository persists memory records alongside their fixed-
// dimension vector embeddings and performs similarity search.
type MemoryRepository interface {
	Index(ctx context.Context, record *entity.MemoryRecord, embedding []float32) error
	Search(ctx context.Context, queryEmbedding []float32, limit int) ([]MemorySearchResult, error)
	FindByID(ctx context.Context, id string) (*entity.MemoryRecord, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	Compact(ctx context.Context) error
	Close() error
}
