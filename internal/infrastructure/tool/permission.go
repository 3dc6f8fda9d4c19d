package tool

import (
	"context"
	"sync"
	"time"

	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"github.com/saorsa-labs/fae/pkg/errors"
)

// PermissionStore is the shared, concurrency-safe grant table consulted
// by every gated tool call. Grants and revocations made through
// capability.grant/capability.deny are immediately visible to any
// in-flight or future Check call.
type PermissionStore struct {
	mu      sync.RWMutex
	granted map[string]bool
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{granted: make(map[string]bool)}
}

func (s *PermissionStore) Check(capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted[capability]
}

func (s *PermissionStore) Grant(capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[capability] = true
}

func (s *PermissionStore) Deny(capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[capability] = false
}

// JITRequester emits a just-in-time permission request to the host and
// reports when (if ever) the native dialog answers. Implementations
// publish a capability.request event and let capability.grant/deny
// update the PermissionStore asynchronously; AvailabilityGate only
// polls the store, it never blocks on the requester directly.
type JITRequester interface {
	RequestPermission(ctx context.Context, capability string) error
}

const (
	jitPollInterval = 25 * time.Millisecond
	jitPollTimeout  = 60 * time.Second
)

// AvailabilityGate wraps an Apple-ecosystem tool, consulting the shared
// PermissionStore on every call. When a JIT channel is configured and
// the capability is missing, it emits a permission request and polls
// the store for up to 60s before failing.
type AvailabilityGate struct {
	domaintool.Tool
	capability string
	store      *PermissionStore
	jit        JITRequester
	limiter    *TokenBucket
}

// NewAvailabilityGate wraps inner with a permission check and a token
// bucket rate limit. jit may be nil, in which case a missing grant fails
// immediately instead of prompting.
func NewAvailabilityGate(inner domaintool.Tool, capability string, store *PermissionStore, jit JITRequester) *AvailabilityGate {
	return &AvailabilityGate{
		Tool:       inner,
		capability: capability,
		store:      store,
		jit:        jit,
		limiter:    NewTokenBucket(10, 10),
	}
}

func (g *AvailabilityGate) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if !g.limiter.Allow() {
		return domaintool.NewErrorResult("rate limit exceeded for " + g.capability), nil
	}

	if g.store.Check(g.capability) {
		return g.Tool.Execute(ctx, args)
	}

	if g.jit == nil {
		return nil, errors.New(errors.CodeToolValidationError, "capability not granted: "+g.capability)
	}

	if err := g.jit.RequestPermission(ctx, g.capability); err != nil {
		return nil, errors.Wrap(errors.CodeToolValidationError, "permission request failed", err)
	}

	deadline := time.Now().Add(jitPollTimeout)
	ticker := time.NewTicker(jitPollInterval)
	defer ticker.Stop()

	for {
		if g.store.Check(g.capability) {
			return g.Tool.Execute(ctx, args)
		}
		if time.Now().After(deadline) {
			return nil, errors.New(errors.CodeToolValidationError, "permission request timed out: "+g.capability)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TokenBucket is a fractional-accumulation token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func NewTokenBucket(capacity int, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available, refilling fractionally based
// on elapsed time since the last call.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
