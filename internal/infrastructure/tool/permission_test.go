package tool

import (
	"context"
	"testing"
	"time"

	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
)

type stubTool struct {
	executed int
}

func (t *stubTool) Name() string                          { return "stub" }
func (t *stubTool) Description() string                   { return "stub tool" }
func (t *stubTool) Schema() map[string]interface{}        { return map[string]interface{}{"type": "object"} }
func (t *stubTool) AllowedInMode(mode domaintool.Mode) bool { return true }
func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	t.executed++
	return domaintool.NewResult("ok"), nil
}

func TestTokenBucket_AllowsUpToCapacityThenBlocks(t *testing.T) {
	bucket := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !bucket.Allow() {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Fatal("expected 4th call to be denied once capacity is exhausted")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	bucket := NewTokenBucket(1, 1000) // fast refill for a deterministic test
	if !bucket.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if bucket.Allow() {
		t.Fatal("expected immediate second call to be denied")
	}
	time.Sleep(5 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("expected a token to have refilled after the sleep")
	}
}

func TestAvailabilityGate_RunsWhenGranted(t *testing.T) {
	store := NewPermissionStore()
	store.Grant("contacts.read")
	inner := &stubTool{}
	gate := NewAvailabilityGate(inner, "contacts.read", store, nil)

	result, err := gate.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || inner.executed != 1 {
		t.Fatalf("expected the wrapped tool to run exactly once, got executed=%d", inner.executed)
	}
}

func TestAvailabilityGate_FailsImmediatelyWithoutJIT(t *testing.T) {
	store := NewPermissionStore()
	inner := &stubTool{}
	gate := NewAvailabilityGate(inner, "contacts.read", store, nil)

	_, err := gate.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error when permission is missing and no JIT channel is configured")
	}
	if inner.executed != 0 {
		t.Fatalf("expected the wrapped tool never to run, got executed=%d", inner.executed)
	}
}

type grantingJIT struct {
	store *PermissionStore
	cap   string
}

func (j *grantingJIT) RequestPermission(ctx context.Context, capability string) error {
	go func() {
		time.Sleep(10 * time.Millisecond)
		j.store.Grant(capability)
	}()
	return nil
}

func TestAvailabilityGate_PollsUntilJITGrants(t *testing.T) {
	store := NewPermissionStore()
	inner := &stubTool{}
	jit := &grantingJIT{store: store, cap: "contacts.read"}
	gate := NewAvailabilityGate(inner, "contacts.read", store, jit)

	result, err := gate.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || inner.executed != 1 {
		t.Fatalf("expected the wrapped tool to run after the JIT grant landed")
	}
}
