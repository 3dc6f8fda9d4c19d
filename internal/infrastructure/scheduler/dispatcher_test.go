package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*entity.ScheduledTask
}

func newFakeStore(tasks ...*entity.ScheduledTask) *fakeStore {
	s := &fakeStore{tasks: make(map[string]*entity.ScheduledTask)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeStore) List(ctx context.Context) ([]*entity.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) FindByID(ctx context.Context, id string) (*entity.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id], nil
}

func (s *fakeStore) Save(ctx context.Context, task *entity.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

type fakeDispatch struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeDispatch) Dispatch(ctx context.Context, payload entity.TaskPayload) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeDispatch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func dueTask(id string) *entity.ScheduledTask {
	task, err := entity.NewScheduledTask(id, "test task", entity.Schedule{Kind: entity.ScheduleInterval, IntervalSeconds: 60}, entity.TaskKindUser, entity.TaskPayload{Prompt: "hi"})
	if err != nil {
		panic(err)
	}
	past := time.Now().UTC().Add(-time.Second)
	task.NextRun = &past
	return task
}

func TestDispatcher_FiresDueTaskAndClearsFailureOnSuccess(t *testing.T) {
	task := dueTask("t1")
	task.FailureStreak = 2
	store := newFakeStore(task)
	run := &fakeDispatch{}
	d := NewDispatcher(store, run, eventbus.NewInMemoryBus(zap.NewNop(), 8), zap.NewNop())

	d.tick(context.Background())
	time.Sleep(20 * time.Millisecond) // let the safego goroutine finish

	saved, _ := store.FindByID(context.Background(), "t1")
	if saved.FailureStreak != 0 {
		t.Fatalf("expected failure streak cleared on success, got %d", saved.FailureStreak)
	}
	if saved.NextRun == nil || !saved.NextRun.After(time.Now().UTC()) {
		t.Fatalf("expected next_run to be recomputed into the future")
	}
	if run.callCount() != 1 {
		t.Fatalf("expected exactly one dispatch call, got %d", run.callCount())
	}
}

func TestDispatcher_SkipsNotYetDueTask(t *testing.T) {
	task := dueTask("t1")
	future := time.Now().UTC().Add(time.Hour)
	task.NextRun = &future
	store := newFakeStore(task)
	run := &fakeDispatch{}
	d := NewDispatcher(store, run, eventbus.NewInMemoryBus(zap.NewNop(), 8), zap.NewNop())

	d.tick(context.Background())
	time.Sleep(20 * time.Millisecond)

	if run.callCount() != 0 {
		t.Fatalf("expected no dispatch for a not-yet-due task, got %d calls", run.callCount())
	}
}

func TestDispatcher_PausesAfterFailureStreakExceedsLimit(t *testing.T) {
	task := dueTask("t1")
	task.MaxFailureStreakBeforePause = 1
	store := newFakeStore(task)
	run := &fakeDispatch{err: errors.New("boom")}
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 8)
	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	d := NewDispatcher(store, run, bus, zap.NewNop())

	d.tick(context.Background())

	select {
	case evt := <-sub:
		if evt.Event != "task.paused" {
			t.Fatalf("expected task.paused event, got %q", evt.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.paused event to be published")
	}

	saved, _ := store.FindByID(context.Background(), "t1")
	if saved.Enabled {
		t.Fatal("expected task to be disabled after exceeding the failure streak limit")
	}
}
