package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/internal/domain/service"
	"github.com/saorsa-labs/fae/internal/domain/tool"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/config"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	infratool "github.com/saorsa-labs/fae/internal/infrastructure/tool"
	"go.uber.org/zap"
)

type fakeProvider struct{ reply string }

func (p *fakeProvider) Name() string                    { return "fake" }
func (p *fakeProvider) EndpointType() llm.EndpointType   { return llm.EndpointAnthropic }
func (p *fakeProvider) Send(ctx context.Context, messages []entity.Message, options valueobject.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.LlmEvent, error) {
	ch := make(chan llm.LlmEvent, 4)
	ch <- llm.LlmEvent{Kind: llm.EventToken, Text: p.reply}
	ch <- llm.LlmEvent{Kind: llm.EventStreamEnd, FinishReason: valueobject.FinishStop}
	close(ch)
	return ch, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*entity.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*entity.Session)}
}

func (f *fakeSessions) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	return s, nil
}

func (f *fakeSessions) Save(ctx context.Context, s *entity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID()] = s
	return nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[string]*entity.ScheduledTask
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[string]*entity.ScheduledTask)}
}

func (f *fakeTasks) List(ctx context.Context) ([]*entity.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.ScheduledTask, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTasks) FindByID(ctx context.Context, id string) (*entity.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}

func (f *fakeTasks) Save(ctx context.Context, t *entity.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTasks) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return errNotFound
	}
	delete(f.tasks, id)
	return nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

var _ repository.SessionRepository = (*fakeSessions)(nil)
var _ repository.TaskRepository = (*fakeTasks)(nil)

func newTestRouter(t *testing.T) (*Router, *fakeTasks) {
	t.Helper()
	logger := zap.NewNop()
	bus := eventbus.NewInMemoryBus(logger, 16)

	registry := tool.NewInMemoryRegistry()
	agent := service.NewAgentLoop(&fakeProvider{reply: "hi there"}, registry, service.DefaultConfig(), logger)
	sessions := newFakeSessions()
	pipe := NewPipeline(agent, sessions, bus, logger)

	tasks := newFakeTasks()
	permissions := infratool.NewPermissionStore()
	cfg := &config.Config{}

	router := NewRouter(cfg, bus, tasks, pipe, permissions, nil, logger)
	return router, tasks
}

func decodeOK(t *testing.T, resp valueobject.Response) map[string]interface{} {
	t.Helper()
	if !resp.OK {
		t.Fatalf("expected ok response, got error: %s", resp.Error)
	}
	var out map[string]interface{}
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &out); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
	}
	return out
}

func TestRouter_HostPingAndVersion(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	resp := router.Route(ctx, valueobject.Command{RequestID: "1", Command: valueobject.CommandHostPing})
	payload := decodeOK(t, resp)
	if payload["pong"] != true {
		t.Fatalf("expected pong true, got %v", payload)
	}

	resp = router.Route(ctx, valueobject.Command{RequestID: "2", Command: valueobject.CommandHostVersion})
	payload = decodeOK(t, resp)
	if int(payload["version"].(float64)) != valueobject.EventVersion {
		t.Fatalf("expected version %d, got %v", valueobject.EventVersion, payload["version"])
	}
}

func TestRouter_ConversationInjectText(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"session_id": "sess-1", "text": "hello"})
	resp := router.Route(ctx, valueobject.Command{RequestID: "3", Command: valueobject.CommandConversationInjectText, Payload: payload})
	out := decodeOK(t, resp)
	if out["reply"] != "hi there" {
		t.Fatalf("expected reply 'hi there', got %v", out["reply"])
	}
}

func TestRouter_ConversationGateSetBlocksInjectText(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	gatePayload, _ := json.Marshal(map[string]bool{"gated": true})
	resp := router.Route(ctx, valueobject.Command{RequestID: "4", Command: valueobject.CommandConversationGateSet, Payload: gatePayload})
	decodeOK(t, resp)

	injectPayload, _ := json.Marshal(map[string]string{"session_id": "sess-2", "text": "hello"})
	resp = router.Route(ctx, valueobject.Command{RequestID: "5", Command: valueobject.CommandConversationInjectText, Payload: injectPayload})
	if resp.OK {
		t.Fatalf("expected gated rejection, got ok response")
	}
}

func TestRouter_ApprovalRespondUnknownRequestFails(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]interface{}{"request_id": "missing", "approved": true})
	resp := router.Route(ctx, valueobject.Command{RequestID: "6", Command: valueobject.CommandApprovalRespond, Payload: payload})
	if resp.OK {
		t.Fatalf("expected failure for unknown approval request_id")
	}
}

func TestRouter_SchedulerCreateListDelete(t *testing.T) {
	router, tasks := newTestRouter(t)
	ctx := context.Background()

	createPayload, _ := json.Marshal(map[string]interface{}{
		"id":   "task-1",
		"name": "daily nudge",
		"kind": "user",
		"schedule": map[string]interface{}{
			"kind":             "interval",
			"interval_seconds": 60,
		},
	})
	resp := router.Route(ctx, valueobject.Command{RequestID: "7", Command: valueobject.CommandSchedulerCreate, Payload: createPayload})
	decodeOK(t, resp)

	if _, err := tasks.FindByID(ctx, "task-1"); err != nil {
		t.Fatalf("expected task-1 to be persisted: %v", err)
	}

	resp = router.Route(ctx, valueobject.Command{RequestID: "8", Command: valueobject.CommandSchedulerList})
	out := decodeOK(t, resp)
	list, ok := out["tasks"].([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("expected one task in payload, got %v", out["tasks"])
	}
	view, ok := list[0].(map[string]interface{})
	if !ok || view["next_run"] == nil {
		t.Fatalf("expected next_run to be populated immediately after create, got %v", view)
	}

	deletePayload, _ := json.Marshal(map[string]string{"id": "task-1"})
	resp = router.Route(ctx, valueobject.Command{RequestID: "9", Command: valueobject.CommandSchedulerDelete, Payload: deletePayload})
	decodeOK(t, resp)
	if _, err := tasks.FindByID(ctx, "task-1"); err == nil {
		t.Fatalf("expected task-1 to be deleted")
	}
}

func TestRouter_SchedulerDeleteUnknownIDIsIdempotent(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	deletePayload, _ := json.Marshal(map[string]string{"id": "does-not-exist"})
	resp := router.Route(ctx, valueobject.Command{RequestID: "10", Command: valueobject.CommandSchedulerDelete, Payload: deletePayload})
	decodeOK(t, resp)
}

func TestRouter_OrbPaletteSetPublishesEvent(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	events, unsubscribe := router.bus.Subscribe()
	defer unsubscribe()

	payload, _ := json.Marshal(map[string]string{"palette": "calm"})
	resp := router.Route(ctx, valueobject.Command{RequestID: "11", Command: valueobject.CommandOrbPaletteSet, Payload: payload})
	decodeOK(t, resp)

	select {
	case evt := <-events:
		if evt.Event != "orb.state_changed" {
			t.Fatalf("expected orb.state_changed event, got %s", evt.Event)
		}
	default:
		t.Fatalf("expected an event to be published")
	}
}

func TestRouter_CapabilityGrantThenRequestSucceedsWithoutJIT(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	grantPayload, _ := json.Marshal(map[string]string{"capability": "calendar"})
	resp := router.Route(ctx, valueobject.Command{RequestID: "12", Command: valueobject.CommandCapabilityGrant, Payload: grantPayload})
	decodeOK(t, resp)

	requestPayload, _ := json.Marshal(map[string]interface{}{"capability": "calendar", "jit": false})
	resp = router.Route(ctx, valueobject.Command{RequestID: "13", Command: valueobject.CommandCapabilityRequest, Payload: requestPayload})
	decodeOK(t, resp)
}

func TestRouter_OnboardingAdvancesThroughFixedSequence(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	resp := router.Route(ctx, valueobject.Command{RequestID: "14", Command: valueobject.CommandOnboardingGetState})
	out := decodeOK(t, resp)
	if out["phase"] != string(PhaseWelcome) {
		t.Fatalf("expected welcome phase, got %v", out["phase"])
	}

	resp = router.Route(ctx, valueobject.Command{RequestID: "15", Command: valueobject.CommandOnboardingAdvance})
	out = decodeOK(t, resp)
	if out["phase"] != string(PhasePermissions) {
		t.Fatalf("expected permissions phase, got %v", out["phase"])
	}
}

func TestRouter_SkillChannelInstallThenList(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	installPayload, _ := json.Marshal(map[string]string{"name": "messages"})
	resp := router.Route(ctx, valueobject.Command{RequestID: "16", Command: valueobject.CommandSkillChannelInstall, Payload: installPayload})
	decodeOK(t, resp)

	resp = router.Route(ctx, valueobject.Command{RequestID: "17", Command: valueobject.CommandSkillChannelList})
	out := decodeOK(t, resp)
	channels, ok := out["channels"].([]interface{})
	if !ok || len(channels) != 1 {
		t.Fatalf("expected one installed channel, got %v", out["channels"])
	}
}

func TestRouter_ConfigGetAndPatch(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	resp := router.Route(ctx, valueobject.Command{RequestID: "18", Command: valueobject.CommandConfigGet})
	decodeOK(t, resp)

	patchPayload, _ := json.Marshal(map[string]interface{}{
		"agent": map[string]interface{}{"max_turns": 20},
	})
	resp = router.Route(ctx, valueobject.Command{RequestID: "19", Command: valueobject.CommandConfigPatch, Payload: patchPayload})
	decodeOK(t, resp)
	if router.cfg.Agent.MaxTurns != 20 {
		t.Fatalf("expected patched max_turns 20, got %d", router.cfg.Agent.MaxTurns)
	}
}
