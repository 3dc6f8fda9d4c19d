package intelligence

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(layout, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed.UTC()
}

func TestNoiseController_BudgetExhaustion(t *testing.T) {
	c := NewNoiseController(2, time.Minute)
	now := mustTime(t, time.RFC3339, "2026-07-31T12:00:00Z")

	if block := c.ShouldDeliver("first", now); block != BlockNone {
		t.Fatalf("expected BlockNone, got %v", block)
	}
	c.RecordDelivery("first", now)
	now = now.Add(2 * time.Minute)

	if block := c.ShouldDeliver("second", now); block != BlockNone {
		t.Fatalf("expected BlockNone, got %v", block)
	}
	c.RecordDelivery("second", now)
	now = now.Add(2 * time.Minute)

	if block := c.ShouldDeliver("third", now); block != BlockBudgetExhausted {
		t.Fatalf("expected BlockBudgetExhausted, got %v", block)
	}
}

func TestNoiseController_CooldownActive(t *testing.T) {
	c := NewNoiseController(10, 5*time.Minute)
	now := mustTime(t, time.RFC3339, "2026-07-31T12:00:00Z")

	c.RecordDelivery("a", now)
	now = now.Add(time.Minute)

	if block := c.ShouldDeliver("b", now); block != BlockCooldownActive {
		t.Fatalf("expected BlockCooldownActive, got %v", block)
	}
	if remaining := c.CooldownRemaining(now); remaining != 4*time.Minute {
		t.Fatalf("expected 4m remaining, got %v", remaining)
	}

	now = now.Add(5 * time.Minute)
	if block := c.ShouldDeliver("b", now); block != BlockNone {
		t.Fatalf("expected cooldown cleared, got %v", block)
	}
}

func TestNoiseController_Dedup(t *testing.T) {
	c := NewNoiseController(10, 0)
	now := mustTime(t, time.RFC3339, "2026-07-31T12:00:00Z")

	c.RecordDelivery("Hello World", now)
	if block := c.ShouldDeliver("hello world", now); block != BlockDuplicate {
		t.Fatalf("expected case-insensitive dedup match, got %v", block)
	}
	if block := c.ShouldDeliver("  Hello World  ", now); block != BlockDuplicate {
		t.Fatalf("expected whitespace-insensitive dedup match, got %v", block)
	}
	if block := c.ShouldDeliver("something else", now); block != BlockNone {
		t.Fatalf("expected distinct content to pass, got %v", block)
	}
}

func TestNoiseController_QuietHoursWrapping(t *testing.T) {
	c := NewNoiseController(10, 0)

	late := mustTime(t, "2006-01-02T15:04:05Z", "2026-07-31T23:30:00Z")
	if block := c.ShouldDeliver("x", late); block != BlockQuietHours {
		t.Fatalf("expected quiet hours at 23:30, got %v", block)
	}

	early := mustTime(t, "2006-01-02T15:04:05Z", "2026-08-01T05:00:00Z")
	if block := c.ShouldDeliver("x", early); block != BlockQuietHours {
		t.Fatalf("expected quiet hours at 05:00, got %v", block)
	}

	day := mustTime(t, "2006-01-02T15:04:05Z", "2026-08-01T12:00:00Z")
	if block := c.ShouldDeliver("x", day); block != BlockNone {
		t.Fatalf("expected daytime to pass, got %v", block)
	}
}

func TestNoiseController_QuietHoursSimpleRange(t *testing.T) {
	c := NewNoiseController(10, 0).WithQuietHours(1, 5)

	inside := mustTime(t, "2006-01-02T15:04:05Z", "2026-07-31T03:00:00Z")
	if block := c.ShouldDeliver("x", inside); block != BlockQuietHours {
		t.Fatalf("expected quiet hours at 03:00, got %v", block)
	}

	outside := mustTime(t, "2006-01-02T15:04:05Z", "2026-07-31T10:00:00Z")
	if block := c.ShouldDeliver("x", outside); block != BlockNone {
		t.Fatalf("expected 10:00 to pass, got %v", block)
	}
}

func TestNoiseController_ResetAndClear(t *testing.T) {
	c := NewNoiseController(1, 0)
	now := mustTime(t, time.RFC3339, "2026-07-31T12:00:00Z")

	c.RecordDelivery("only", now)
	if block := c.ShouldDeliver("another", now); block != BlockBudgetExhausted {
		t.Fatalf("expected budget exhausted, got %v", block)
	}

	c.ResetDailyBudget()
	if block := c.ShouldDeliver("another", now); block != BlockNone {
		t.Fatalf("expected budget reset to clear block, got %v", block)
	}

	c.RecordDelivery("another", now)
	c.ClearDedupSet()
	if block := c.ShouldDeliver("another", now); block != BlockBudgetExhausted {
		t.Fatalf("expected dedup clear to leave budget block in place, got %v", block)
	}
}

func TestNoiseController_RemainingBudgetAndCount(t *testing.T) {
	c := NewNoiseController(3, 0)
	now := mustTime(t, time.RFC3339, "2026-07-31T12:00:00Z")

	if got := c.RemainingBudget(); got != 3 {
		t.Fatalf("expected remaining budget 3, got %d", got)
	}
	c.RecordDelivery("a", now)
	if got := c.RemainingBudget(); got != 2 {
		t.Fatalf("expected remaining budget 2, got %d", got)
	}
	if got := c.DeliveriesToday(); got != 1 {
		t.Fatalf("expected deliveries today 1, got %d", got)
	}
}
