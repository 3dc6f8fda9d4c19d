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

type taskRecord struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Schedule scheduleRecord        `json:"schedule"`
	Enabled  bool                  `json:"enabled"`
	Kind     entity.TaskKind       `json:"kind"`
	Payload  entity.TaskPayload    `json:"payload"`

	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`

	FailureStreak               int    `json:"failure_streak"`
	MaxRetries                  int    `json:"max_retries"`
	RetryBackoffSeconds         int64  `json:"retry_backoff_seconds"`
	MaxFailureStreakBeforePause int    `json:"max_failure_streak_before_pause"`
	SoftTimeoutSeconds          int64  `json:"soft_timeout_seconds"`
	LastError                   string `json:"last_error,omitempty"`
}

type scheduleRecord struct {
	Kind            entity.ScheduleKind `json:"kind"`
	IntervalSeconds int64               `json:"interval_seconds,omitempty"`
	Hour            int                 `json:"hour,omitempty"`
	Minute          int                 `json:"minute,omitempty"`
	Weekdays        []time.Weekday      `json:"weekdays,omitempty"`
	AtEpoch         int64               `json:"at_epoch,omitempty"`
	CronExpression  string              `json:"cron_expression,omitempty"`
}

// SchedulerStore is a JSON-snapshot-backed TaskRepository: the entire
// task set is re-serialized and atomically renamed into place on every
// mutation, matching the dispatcher's "persist after every mutation"
// requirement.
type SchedulerStore struct {
	mu    sync.RWMutex
	tasks map[string]*entity.ScheduledTask
	path  string
}

// NewSchedulerStore creates a store whose snapshot lives at path.
func NewSchedulerStore(path string) *SchedulerStore {
	return &SchedulerStore{
		tasks: make(map[string]*entity.ScheduledTask),
		path:  path,
	}
}

func (s *SchedulerStore) List(ctx context.Context) ([]*entity.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *SchedulerStore) FindByID(ctx context.Context, id string) (*entity.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, entity.ErrTaskNotFound
	}
	return t, nil
}

func (s *SchedulerStore) Save(ctx context.Context, task *entity.ScheduledTask) error {
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return s.persist()
}

func (s *SchedulerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return s.persist()
}

func (s *SchedulerStore) persist() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	records := make([]taskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		records = append(records, toTaskRecord(t))
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.CodeConfigError, "create scheduler snapshot dir", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(errors.CodeConfigError, "marshal scheduler snapshot", err)
	}
	return atomicWriteFile(s.path, data)
}

// Load reads the snapshot at s.path, if present, replacing the
// in-memory task set. Missing files are not an error: the dispatcher
// starts with an empty schedule.
func (s *SchedulerStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.CodeConfigError, "read scheduler snapshot", err)
	}

	var records []taskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.Wrap(errors.CodeConfigError, "parse scheduler snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*entity.ScheduledTask, len(records))
	for _, r := range records {
		s.tasks[r.ID] = fromTaskRecord(r)
	}
	return nil
}

func toTaskRecord(t *entity.ScheduledTask) taskRecord {
	return taskRecord{
		ID:   t.ID,
		Name: t.Name,
		Schedule: scheduleRecord{
			Kind:            t.Schedule.Kind,
			IntervalSeconds: t.Schedule.IntervalSeconds,
			Hour:            t.Schedule.Hour,
			Minute:          t.Schedule.Minute,
			Weekdays:        t.Schedule.Weekdays,
			AtEpoch:         t.Schedule.AtEpoch,
			CronExpression:  t.Schedule.CronExpression,
		},
		Enabled:                     t.Enabled,
		Kind:                        t.Kind,
		Payload:                     t.Payload,
		LastRun:                     t.LastRun,
		NextRun:                     t.NextRun,
		FailureStreak:               t.FailureStreak,
		MaxRetries:                  t.MaxRetries,
		RetryBackoffSeconds:         t.RetryBackoffSeconds,
		MaxFailureStreakBeforePause: t.MaxFailureStreakBeforePause,
		SoftTimeoutSeconds:          t.SoftTimeoutSeconds,
		LastError:                   t.LastError,
	}
}

func fromTaskRecord(r taskRecord) *entity.ScheduledTask {
	return &entity.ScheduledTask{
		ID:   r.ID,
		Name: r.Name,
		Schedule: entity.Schedule{
			Kind:            r.Schedule.Kind,
			IntervalSeconds: r.Schedule.IntervalSeconds,
			Hour:            r.Schedule.Hour,
			Minute:          r.Schedule.Minute,
			Weekdays:        r.Schedule.Weekdays,
			AtEpoch:         r.Schedule.AtEpoch,
			CronExpression:  r.Schedule.CronExpression,
		},
		Enabled:                     r.Enabled,
		Kind:                        r.Kind,
		Payload:                     r.Payload,
		LastRun:                     r.LastRun,
		NextRun:                     r.NextRun,
		FailureStreak:               r.FailureStreak,
		MaxRetries:                  r.MaxRetries,
		RetryBackoffSeconds:         r.RetryBackoffSeconds,
		MaxFailureStreakBeforePause: r.MaxFailureStreakBeforePause,
		SoftTimeoutSeconds:          r.SoftTimeoutSeconds,
		LastError:                   r.LastError,
	}
}

var _ repository.TaskRepository = (*SchedulerStore)(nil)
