// Package memorystore implements the memory repository on top of
// SQLite: WAL-mode durability, a manual cosine-similarity vector search
// over a fixed-dimension embedding blob column, an append-only audit
// log, and VACUUM INTO backups with generational rotation.
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/pkg/errors"
	_ "modernc.org/sqlite" // pure-Go driver, no CGO dependency
)

// EmbeddingDimension is the fixed vector width every stored embedding
// must match.
const EmbeddingDimension = 384

// Store implements repository.MemoryRepository.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or attaches to) the SQLite database at path, enabling
// WAL journaling and foreign keys, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "open memory database", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return errors.Wrap(errors.CodeConfigError, "set pragma: "+p, err)
		}
	}

	// Note: a production build with CGO available would load the vec0
	// extension here and use vec_distance_cosine in Search instead of
	// the manual scan below.
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			text TEXT NOT NULL,
			confidence REAL NOT NULL,
			source_turn_id TEXT,
			tags TEXT,
			supersedes TEXT,
			importance REAL,
			stale_after_seconds INTEGER,
			metadata TEXT,
			embedding BLOB,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
		CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
		CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

		CREATE TABLE IF NOT EXISTS memory_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL,
			action TEXT NOT NULL,
			at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(errors.CodeConfigError, "create memory schema", err)
	}
	return nil
}

func (s *Store) audit(ctx context.Context, tx *sql.Tx, memoryID, action string) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO memory_audit (memory_id, action, at) VALUES (?, ?, ?)",
		memoryID, action, time.Now().UTC(),
	)
	return err
}

// Index upserts record and its embedding in one transaction, recording
// an audit entry for the mutation.
func (s *Store) Index(ctx context.Context, record *entity.MemoryRecord, embedding []float32) error {
	if len(embedding) != 0 && len(embedding) != EmbeddingDimension {
		return errors.New(errors.CodeToolValidationError, fmt.Sprintf("embedding must have dimension %d, got %d", EmbeddingDimension, len(embedding)))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "begin memory index tx", err)
	}
	defer tx.Rollback()

	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "marshal tags", err)
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "marshal metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, kind, status, text, confidence, source_turn_id, tags, supersedes, importance, stale_after_seconds, metadata, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, status=excluded.status, text=excluded.text, confidence=excluded.confidence,
			source_turn_id=excluded.source_turn_id, tags=excluded.tags, supersedes=excluded.supersedes,
			importance=excluded.importance, stale_after_seconds=excluded.stale_after_seconds,
			metadata=excluded.metadata, embedding=excluded.embedding, updated_at=excluded.updated_at
	`,
		record.ID, record.Kind, record.Status, record.Text, record.Confidence,
		nullable(record.SourceTurnID), string(tags), nullable(record.Supersedes),
		record.Importance, record.StaleAfterSeconds, string(metadata),
		encodeEmbedding(embedding), record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "upsert memory record", err)
	}

	if err := s.audit(ctx, tx, record.ID, "index"); err != nil {
		return errors.Wrap(errors.CodeSessionError, "write audit entry", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.CodeSessionError, "commit memory index tx", err)
	}
	return nil
}

// Search scores every active record against queryEmbedding by cosine
// similarity and returns the top `limit` matches.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]repository.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, text, confidence, source_turn_id, tags, supersedes, importance, stale_after_seconds, metadata, embedding, created_at, updated_at
		FROM memories WHERE status = ?
	`, entity.MemoryStatusActive)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSessionError, "query memories", err)
	}
	defer rows.Close()

	var results []repository.MemorySearchResult
	for rows.Next() {
		record, embeddingBlob, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		embedding := decodeEmbedding(embeddingBlob)
		score := cosineSimilarity(queryEmbedding, embedding)
		results = append(results, repository.MemorySearchResult{Record: record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeSessionError, "iterate memories", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*entity.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, text, confidence, source_turn_id, tags, supersedes, importance, stale_after_seconds, metadata, embedding, created_at, updated_at
		FROM memories WHERE id = ?
	`, id)

	record, _, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, entity.ErrMemoryRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeSessionError, "find memory record", err)
	}
	return record, nil
}

// Delete soft-deletes id: the row stays, its status flips to superseded
// so Search no longer returns it, and an audit entry is written.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "begin delete tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE memories SET status = ?, updated_at = ? WHERE id = ?",
		entity.MemoryStatusSuperseded, time.Now().UTC(), id); err != nil {
		return errors.Wrap(errors.CodeSessionError, "soft-delete memory record", err)
	}
	if err := s.audit(ctx, tx, id, "delete"); err != nil {
		return errors.Wrap(errors.CodeSessionError, "write audit entry", err)
	}
	return tx.Commit()
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.CodeSessionError, "count memories", err)
	}
	return count, nil
}

// Compact runs VACUUM to reclaim free pages in the database file.
func (s *Store) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "vacuum memory database", err)
	}
	return nil
}

// Backup writes a consistent snapshot via VACUUM INTO to backupDir,
// named fae-backup-{YYYYMMDD-HHMMSS}.db in UTC, then rotates older
// backups in that directory so only keepGenerations remain.
func (s *Store) Backup(ctx context.Context, backupDir string, keepGenerations int) (string, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", errors.Wrap(errors.CodeSessionError, "create backup dir", err)
	}

	name := fmt.Sprintf("fae-backup-%s.db", time.Now().UTC().Format("20060102-150405"))
	dest := filepath.Join(backupDir, name)

	// VACUUM INTO requires a literal path; SQLite does not support it as
	// a bound parameter.
	quoted := strings.ReplaceAll(dest, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", errors.Wrap(errors.CodeSessionError, "vacuum into backup", err)
	}

	if err := rotateBackups(backupDir, keepGenerations); err != nil {
		return dest, err
	}
	return dest, nil
}

func rotateBackups(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "read backup dir", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "fae-backup-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamped names sort chronologically

	if len(names) <= keep {
		return nil
	}
	for _, n := range names[:len(names)-keep] {
		_ = os.Remove(filepath.Join(dir, n))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scannable) (*entity.MemoryRecord, []byte, error) {
	var (
		record                                     entity.MemoryRecord
		sourceTurnID, supersedes, tagsJSON, metaJSON sql.NullString
		importance                                   sql.NullFloat64
		staleAfter                                   sql.NullInt64
		embeddingBlob                                []byte
	)

	err := row.Scan(
		&record.ID, &record.Kind, &record.Status, &record.Text, &record.Confidence,
		&sourceTurnID, &tagsJSON, &supersedes, &importance, &staleAfter, &metaJSON,
		&embeddingBlob, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	record.SourceTurnID = sourceTurnID.String
	record.Supersedes = supersedes.String
	if importance.Valid {
		record.Importance = &importance.Float64
	}
	if staleAfter.Valid {
		record.StaleAfterSeconds = &staleAfter.Int64
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &record.Tags)
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &record.Metadata)
	}

	return &record, embeddingBlob, nil
}

// encodeEmbedding packs a []float32 into a little-endian IEEE-754 blob.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ repository.MemoryRepository = (*Store)(nil)
