// Package intelligence implements the proactive-delivery noise control
// and the LLM-output extraction helpers that feed it.
package intelligence

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

// DeliveryBlock names the reason a proposed delivery was rejected.
type DeliveryBlock int

const (
	BlockNone DeliveryBlock = iota
	BlockQuietHours
	BlockBudgetExhausted
	BlockCooldownActive
	BlockDuplicate
)

// String returns a human-readable label for the block reason.
func (b DeliveryBlock) String() string {
	switch b {
	case BlockNone:
		return "none"
	case BlockQuietHours:
		return "quiet_hours"
	case BlockBudgetExhausted:
		return "budget_exhausted"
	case BlockCooldownActive:
		return "cooldown_active"
	case BlockDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// NoiseController gates proactive intelligence deliveries behind quiet
// hours, a daily budget, a cooldown window, and content dedup, in that
// check order. All time inputs are UTC; callers pass the decision clock
// explicitly so the controller stays pure and test-deterministic.
type NoiseController struct {
	mu sync.Mutex

	dailyBudget    int
	deliveriesToday int
	lastDeliveryAt  *time.Time
	cooldown        time.Duration
	recentHashes    map[uint64]struct{}
	quietStartHour  int
	quietEndHour    int
}

// NewNoiseController creates a controller with quiet hours defaulted to
// 23:00-07:00, matching the reference implementation's defaults.
func NewNoiseController(dailyBudget int, cooldown time.Duration) *NoiseController {
	return &NoiseController{
		dailyBudget:    dailyBudget,
		cooldown:       cooldown,
		recentHashes:   make(map[uint64]struct{}),
		quietStartHour: 23,
		quietEndHour:   7,
	}
}

// WithQuietHours sets the quiet-hour window (0-23, inclusive start,
// exclusive end), clamped into range.
func (c *NoiseController) WithQuietHours(start, end int) *NoiseController {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quietStartHour = clampHour(start)
	c.quietEndHour = clampHour(end)
	return c
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// ShouldDeliver reports whether a delivery of contentText is allowed at
// now, and if not, why. Check order: quiet hours, daily budget, cooldown,
// dedup.
func (c *NoiseController) ShouldDeliver(contentText string, now time.Time) DeliveryBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isQuietHour(now) {
		return BlockQuietHours
	}
	if c.deliveriesToday >= c.dailyBudget {
		return BlockBudgetExhausted
	}
	if c.lastDeliveryAt != nil {
		elapsed := now.Sub(*c.lastDeliveryAt)
		if elapsed < c.cooldown {
			return BlockCooldownActive
		}
	}
	if _, seen := c.recentHashes[contentHash(contentText)]; seen {
		return BlockDuplicate
	}
	return BlockNone
}

// CooldownRemaining returns how long until the cooldown window clears,
// relative to now. Zero if no delivery has been recorded or the cooldown
// has already elapsed.
func (c *NoiseController) CooldownRemaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDeliveryAt == nil {
		return 0
	}
	elapsed := now.Sub(*c.lastDeliveryAt)
	if elapsed >= c.cooldown {
		return 0
	}
	return c.cooldown - elapsed
}

// RecordDelivery marks a delivery as having happened at now, consuming
// one unit of the daily budget and registering contentText for dedup.
func (c *NoiseController) RecordDelivery(contentText string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveriesToday++
	t := now
	c.lastDeliveryAt = &t
	c.recentHashes[contentHash(contentText)] = struct{}{}
}

// ResetDailyBudget zeroes the delivery counter. Call once per UTC day
// boundary.
func (c *NoiseController) ResetDailyBudget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveriesToday = 0
}

// ClearDedupSet drops all recorded content hashes.
func (c *NoiseController) ClearDedupSet() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentHashes = make(map[uint64]struct{})
}

// RemainingBudget returns how many deliveries are left today.
func (c *NoiseController) RemainingBudget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.dailyBudget - c.deliveriesToday
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DeliveriesToday returns the count of deliveries recorded today.
func (c *NoiseController) DeliveriesToday() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliveriesToday
}

func (c *NoiseController) isQuietHour(now time.Time) bool {
	hour := now.UTC().Hour()
	if c.quietStartHour <= c.quietEndHour {
		return hour >= c.quietStartHour && hour < c.quietEndHour
	}
	return hour >= c.quietStartHour || hour < c.quietEndHour
}

// contentHash normalizes text (trimmed, lowercased) and hashes it with
// FNV-1a for dedup comparison.
func contentHash(text string) uint64 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return h.Sum64()
}
