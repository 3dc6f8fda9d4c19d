package persistence

import (
	"context"
	"testing"

	"github.com/saorsa-labs/fae/internal/domain/entity"
)

func TestSessionStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sess, err := entity.NewSession("sess_1_000001", "be terse")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.AppendMessage(entity.Message{Role: entity.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("append user message: %v", err)
	}
	if err := sess.AppendMessage(entity.Message{
		Role:    entity.RoleAssistant,
		Content: "hi there",
		ToolCalls: []entity.ToolCall{
			{CallID: "call_1", Name: "read", Arguments: `{"path":"a.txt"}`},
		},
	}); err != nil {
		t.Fatalf("append assistant message: %v", err)
	}

	store := NewSessionStore(dir)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Simulate a fresh process: a new store instance hydrated from disk.
	reloaded := NewSessionStore(dir).(*SessionStore)
	if err := reloaded.LoadAll(); err != nil {
		t.Fatalf("load all: %v", err)
	}

	got, err := reloaded.FindByID(ctx, sess.ID())
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}

	if got.ID() != sess.ID() {
		t.Fatalf("id mismatch: %q != %q", got.ID(), sess.ID())
	}
	if got.SystemPrompt() != sess.SystemPrompt() {
		t.Fatalf("system prompt mismatch: %q != %q", got.SystemPrompt(), sess.SystemPrompt())
	}
	wantMsgs, gotMsgs := sess.Messages(), got.Messages()
	if len(wantMsgs) != len(gotMsgs) {
		t.Fatalf("message count mismatch: %d != %d", len(gotMsgs), len(wantMsgs))
	}
	for i := range wantMsgs {
		if wantMsgs[i].Role != gotMsgs[i].Role || wantMsgs[i].Content != gotMsgs[i].Content {
			t.Fatalf("message %d mismatch: %+v != %+v", i, gotMsgs[i], wantMsgs[i])
		}
	}
	if len(gotMsgs[1].ToolCalls) != 1 || gotMsgs[1].ToolCalls[0].CallID != "call_1" {
		t.Fatalf("tool calls not preserved: %+v", gotMsgs[1].ToolCalls)
	}
}

func TestSessionStoreDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := NewSessionStore(dir)

	sess, _ := entity.NewSession("sess_2_000002", "")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, sess.ID()); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, sess.ID()); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.FindByID(ctx, sess.ID()); err == nil {
		t.Fatal("expected session to be gone after delete")
	}
}
