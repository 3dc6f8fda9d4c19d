package entity

import (
	"testing"
	"time"
)

func TestNextFireTimeDailyStrictlyAfterNow(t *testing.T) {
	task, err := NewScheduledTask("t1", "Daily 9am", Schedule{Kind: ScheduleDaily, Hour: 9, Minute: 0}, TaskKindUser, TaskPayload{Prompt: "good morning"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	now := time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC)
	next := task.NextFireTime(now)

	if !next.After(now) {
		t.Fatalf("expected next run strictly after now, got %v <= %v", next, now)
	}
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("expected 09:00, got %v", next)
	}
	// exactly at 09:00:00, "now" is not strictly before, so it rolls to tomorrow.
	if next.Day() != now.Day()+1 {
		t.Fatalf("expected roll-over to the next day, got %v", next)
	}
}

func TestNextFireTimeDailyLaterToday(t *testing.T) {
	task, _ := NewScheduledTask("t2", "Daily 9am", Schedule{Kind: ScheduleDaily, Hour: 9, Minute: 0}, TaskKindUser, TaskPayload{})
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	next := task.NextFireTime(now)
	if next.Day() != now.Day() || next.Hour() != 9 {
		t.Fatalf("expected today at 09:00, got %v", next)
	}
}

func TestNextFireTimeWeeklyFindsEarliestMatchingWeekday(t *testing.T) {
	// Friday 2026-07-31. Ask for Monday 10:00.
	task, _ := NewScheduledTask("t3", "Weekly Monday", Schedule{
		Kind: ScheduleWeekly, Hour: 10, Minute: 0, Weekdays: []time.Weekday{time.Monday},
	}, TaskKindUser, TaskPayload{})

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	next := task.NextFireTime(now)

	if next.Weekday() != time.Monday {
		t.Fatalf("expected Monday, got %v", next.Weekday())
	}
	if !next.After(now) {
		t.Fatalf("expected strictly future time, got %v", next)
	}
	if next.Sub(now) > 4*24*time.Hour {
		t.Fatalf("expected the very next Monday, got %v days out", next.Sub(now).Hours()/24)
	}
}

func TestNextFireTimeIntervalFromLastRun(t *testing.T) {
	task, _ := NewScheduledTask("t4", "Every 5m", Schedule{Kind: ScheduleInterval, IntervalSeconds: 300}, TaskKindUser, TaskPayload{})
	last := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	task.LastRun = &last

	next := task.NextFireTime(last.Add(time.Minute))
	if !next.Equal(last.Add(300 * time.Second)) {
		t.Fatalf("expected last_run + interval, got %v", next)
	}
}

func TestNextFireTimeOneShotIsLiteralTimestamp(t *testing.T) {
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	task, _ := NewScheduledTask("t5", "Once", Schedule{Kind: ScheduleOneShot, AtEpoch: at.Unix()}, TaskKindUser, TaskPayload{})

	next := task.NextFireTime(time.Now())
	if !next.Equal(at) {
		t.Fatalf("expected literal timestamp %v, got %v", at, next)
	}
}

func TestRecordFailureAutoPausesAtThreshold(t *testing.T) {
	task, _ := NewScheduledTask("t6", "Flaky", Schedule{Kind: ScheduleInterval, IntervalSeconds: 60}, TaskKindUser, TaskPayload{})
	task.MaxFailureStreakBeforePause = 3

	now := time.Now()
	if paused := task.RecordFailure(now, "boom"); paused {
		t.Fatal("should not pause on first failure")
	}
	if paused := task.RecordFailure(now, "boom"); paused {
		t.Fatal("should not pause on second failure")
	}
	if paused := task.RecordFailure(now, "boom"); !paused {
		t.Fatal("expected task to auto-pause at the failure-streak threshold")
	}
	if task.Enabled {
		t.Fatal("expected Enabled to be false after auto-pause")
	}
}

func TestRecordSuccessClearsFailureStreak(t *testing.T) {
	task, _ := NewScheduledTask("t7", "Recovering", Schedule{Kind: ScheduleInterval, IntervalSeconds: 60}, TaskKindUser, TaskPayload{})
	task.RecordFailure(time.Now(), "boom")
	task.RecordSuccess(time.Now())

	if task.FailureStreak != 0 {
		t.Fatalf("expected failure streak cleared, got %d", task.FailureStreak)
	}
	if task.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", task.LastError)
	}
}
