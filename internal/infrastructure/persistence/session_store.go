// Package persistence holds the filesystem-backed repositories: session
// history and the scheduler snapshot. Both use the same atomic-rename
// write pattern so a crash mid-write never leaves a corrupt file on disk.
package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/pkg/errors"
)

// sessionRecord is the on-disk shape of a Session.
type sessionRecord struct {
	ID            string           `json:"id"`
	SystemPrompt  string           `json:"system_prompt"`
	Messages      []messageRecord  `json:"messages"`
	SchemaVersion int              `json:"schema_version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type messageRecord struct {
	Role       entity.Role        `json:"role"`
	Content    string             `json:"content"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolCalls  []entity.ToolCall  `json:"tool_calls,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// SessionStore is a mutex-protected in-memory session repository that
// mirrors every write to a JSON file per session under dir, using
// write-temp-then-rename so readers never observe a partial file.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
	dir      string
}

// NewSessionStore creates a store rooted at dir. If dir already
// contains session files from a prior run, callers should follow up
// with Load to hydrate the in-memory map.
func NewSessionStore(dir string) repository.SessionRepository {
	return &SessionStore{
		sessions: make(map[string]*entity.Session),
		dir:      dir,
	}
}

func (s *SessionStore) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeSessionError, "session not found: "+id)
	}
	return sess, nil
}

func (s *SessionStore) Save(ctx context.Context, session *entity.Session) error {
	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	if s.dir == "" {
		return nil
	}
	return s.persist(session)
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if s.dir == "" {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *SessionStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *SessionStore) persist(session *entity.Session) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(errors.CodeSessionError, "create session dir", err)
	}

	rec := sessionRecord{
		ID:            session.ID(),
		SystemPrompt:  session.SystemPrompt(),
		SchemaVersion: session.SchemaVersion(),
		CreatedAt:     session.CreatedAt(),
		UpdatedAt:     session.UpdatedAt(),
	}
	for _, m := range session.Messages() {
		rec.Messages = append(rec.Messages, messageRecord{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
			Timestamp:  m.Timestamp,
		})
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "marshal session", err)
	}

	return atomicWriteFile(s.path(session.ID()), data)
}

// LoadAll hydrates the store from every *.json file under dir.
func (s *SessionStore) LoadAll() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.CodeSessionError, "read session dir", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		msgs := make([]entity.Message, 0, len(rec.Messages))
		for _, m := range rec.Messages {
			msgs = append(msgs, entity.Message{
				Role:       m.Role,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolCalls:  m.ToolCalls,
				Timestamp:  m.Timestamp,
			})
		}
		s.sessions[rec.ID] = entity.ReconstructSession(rec.ID, rec.SystemPrompt, msgs, rec.SchemaVersion, rec.CreatedAt, rec.UpdatedAt)
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the same directory as
// path and renames it into place, so a crash mid-write never corrupts
// the previous contents.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
