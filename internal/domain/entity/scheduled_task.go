package entity

import (
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind identifies which of the five fire-time strategies a
// ScheduledTask uses.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleOneShot  ScheduleKind = "one_shot"
	// ScheduleCron is an escape hatch for schedules the four closed kinds
	// can't express (e.g. "last weekday of the month"), parsed with the
	// standard five-field cron grammar.
	ScheduleCron ScheduleKind = "cron"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a closed sum type over the five schedule shapes. Exactly
// one of the kind-specific fields is meaningful, selected by Kind.
type Schedule struct {
	Kind ScheduleKind

	IntervalSeconds int64 // ScheduleInterval

	Hour   int // ScheduleDaily, ScheduleWeekly: 0-23
	Minute int // ScheduleDaily, ScheduleWeekly: 0-59

	Weekdays []time.Weekday // ScheduleWeekly

	AtEpoch int64 // ScheduleOneShot: unix seconds

	CronExpression string // ScheduleCron: standard 5-field cron grammar
}

// Valid reports whether s is a well-formed schedule of its declared
// kind. CRUD via the host command channel rejects malformed specs with
// a config-validation error.
func (s Schedule) Valid() bool {
	switch s.Kind {
	case ScheduleInterval:
		return s.IntervalSeconds > 0
	case ScheduleDaily:
		return s.Hour >= 0 && s.Hour <= 23 && s.Minute >= 0 && s.Minute <= 59
	case ScheduleWeekly:
		return s.Hour >= 0 && s.Hour <= 23 && s.Minute >= 0 && s.Minute <= 59 && len(s.Weekdays) > 0
	case ScheduleOneShot:
		return s.AtEpoch > 0
	case ScheduleCron:
		_, err := cronParser.Parse(s.CronExpression)
		return err == nil
	default:
		return false
	}
}

// TaskKind distinguishes tasks a user created from ones the runtime
// manages internally (onboarding nudges, maintenance jobs, ...).
type TaskKind string

const (
	TaskKindUser   TaskKind = "user"
	TaskKindSystem TaskKind = "system"
)

// TaskPayload is the opaque body a fired task delivers to the pipeline:
// a conversation prompt, an optional system-prompt addendum, and a
// soft deadline.
type TaskPayload struct {
	Prompt               string
	SystemPromptAddendum string
	TimeoutSeconds        int64
}

// TaskRunOutcome classifies the result of one dispatch attempt.
type TaskRunOutcome string

const (
	TaskRunSuccess     TaskRunOutcome = "success"
	TaskRunError       TaskRunOutcome = "error"
	TaskRunSoftTimeout TaskRunOutcome = "soft_timeout"
)

// TaskRunRecord is an append-only log entry for one dispatch attempt.
type TaskRunRecord struct {
	Outcome TaskRunOutcome
	At      time.Time
	Error   string
}

// ScheduledTask is a persisted, recurring-or-one-shot unit of work the
// dispatcher fires into the pipeline coordinator.
type ScheduledTask struct {
	ID       string
	Name     string
	Schedule Schedule
	Enabled  bool
	Kind     TaskKind
	Payload  TaskPayload

	LastRun *time.Time
	NextRun *time.Time

	FailureStreak                int
	MaxRetries                   int
	RetryBackoffSeconds          int64
	MaxFailureStreakBeforePause  int
	SoftTimeoutSeconds           int64
	LastError                    string
}

// NewScheduledTask validates and constructs a task in the enabled
// state with zeroed run history and NextRun set to its first fire time.
func NewScheduledTask(id, name string, schedule Schedule, kind TaskKind, payload TaskPayload) (*ScheduledTask, error) {
	if id == "" {
		return nil, ErrInvalidTaskID
	}
	if !schedule.Valid() {
		return nil, ErrInvalidTaskSchedule
	}
	task := &ScheduledTask{
		ID:                          id,
		Name:                        name,
		Schedule:                    schedule,
		Enabled:                     true,
		Kind:                        kind,
		Payload:                     payload,
		MaxRetries:                  3,
		RetryBackoffSeconds:         30,
		MaxFailureStreakBeforePause: 5,
		SoftTimeoutSeconds:          60,
	}
	next := task.NextFireTime(time.Now())
	task.NextRun = &next
	return task, nil
}

// RecordSuccess clears failure state after a successful dispatch.
func (t *ScheduledTask) RecordSuccess(at time.Time) {
	t.LastRun = &at
	t.FailureStreak = 0
	t.LastError = ""
}

// RecordFailure increments the failure streak and auto-pauses the task
// once the streak reaches MaxFailureStreakBeforePause. Returns true if
// this call caused the task to pause.
func (t *ScheduledTask) RecordFailure(at time.Time, errMsg string) (paused bool) {
	t.LastRun = &at
	t.FailureStreak++
	t.LastError = errMsg
	if t.FailureStreak >= t.MaxFailureStreakBeforePause {
		t.Enabled = false
		return true
	}
	return false
}

// NextFireTime computes the next run instant for the task's schedule,
// given the current time "now" (in UTC) and, for ScheduleInterval, the
// previous run time.
func (t *ScheduledTask) NextFireTime(now time.Time) time.Time {
	now = now.UTC()
	switch t.Schedule.Kind {
	case ScheduleInterval:
		base := now
		if t.LastRun != nil {
			base = t.LastRun.UTC()
		}
		return base.Add(time.Duration(t.Schedule.IntervalSeconds) * time.Second)

	case ScheduleDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), t.Schedule.Hour, t.Schedule.Minute, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case ScheduleWeekly:
		for i := 0; i < 8; i++ {
			candidate := now.AddDate(0, 0, i)
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), t.Schedule.Hour, t.Schedule.Minute, 0, 0, time.UTC)
			if !candidate.After(now) {
				continue
			}
			for _, wd := range t.Schedule.Weekdays {
				if candidate.Weekday() == wd {
					return candidate
				}
			}
		}
		return now.AddDate(0, 0, 7)

	case ScheduleOneShot:
		return time.Unix(t.Schedule.AtEpoch, 0).UTC()

	case ScheduleCron:
		schedule, err := cronParser.Parse(t.Schedule.CronExpression)
		if err != nil {
			return now
		}
		return schedule.Next(now).UTC()

	default:
		return now
	}
}
