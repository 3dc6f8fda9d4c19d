package application

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/config"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	infratool "github.com/saorsa-labs/fae/internal/infrastructure/tool"
	"go.uber.org/zap"
)

// Router implements sideload.Router: the single synchronous dispatch
// point every command envelope passes through, holding the shared
// application state (config, scheduler handle, pipeline handle,
// permission store, onboarding state, pending approvals).
type Router struct {
	cfg   *config.Config
	bus   eventbus.Bus
	tasks repository.TaskRepository
	pipe  *Pipeline

	permissions *infratool.PermissionStore
	jit         infratool.JITRequester

	orb          *OrbState
	onboarding   *OnboardingState
	approvals    *ApprovalStore
	skills       *SkillChannelStore

	running int32 // 0|1, guarded atomically

	logger *zap.Logger
}

// NewRouter wires a Router over the application's shared state.
func NewRouter(cfg *config.Config, bus eventbus.Bus, tasks repository.TaskRepository, pipe *Pipeline, permissions *infratool.PermissionStore, jit infratool.JITRequester, logger *zap.Logger) *Router {
	return &Router{
		cfg:         cfg,
		bus:         bus,
		tasks:       tasks,
		pipe:        pipe,
		permissions: permissions,
		jit:         jit,
		orb:         &OrbState{},
		onboarding:  NewOnboardingState(),
		approvals:   NewApprovalStore(),
		skills:      NewSkillChannelStore(),
		logger:      logger.With(zap.String("component", "router")),
	}
}

// Route dispatches cmd to its handler and always returns a Response,
// logging the outcome and error classification per command.
func (r *Router) Route(ctx context.Context, cmd valueobject.Command) valueobject.Response {
	resp, errClass := r.dispatch(ctx, cmd)

	r.logger.Info("command handled",
		zap.String("command", string(cmd.Command)),
		zap.String("request_id", cmd.RequestID),
		zap.Bool("ok", resp.OK),
		zap.String("error_class", errClass),
	)
	return resp
}

func (r *Router) dispatch(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	switch cmd.Command {
	case valueobject.CommandHostPing:
		return r.ok(cmd, map[string]interface{}{"pong": true})

	case valueobject.CommandHostVersion:
		return r.ok(cmd, map[string]interface{}{"version": valueobject.EventVersion})

	case valueobject.CommandRuntimeStart:
		atomic.StoreInt32(&r.running, 1)
		return r.ok(cmd, map[string]interface{}{"running": true})

	case valueobject.CommandRuntimeStop:
		atomic.StoreInt32(&r.running, 0)
		return r.ok(cmd, map[string]interface{}{"running": false})

	case valueobject.CommandRuntimeStatus:
		return r.ok(cmd, map[string]interface{}{
			"running": atomic.LoadInt32(&r.running) == 1,
			"mode":    string(r.pipe.Mode()),
		})

	case valueobject.CommandConversationInjectText:
		return r.handleInjectText(ctx, cmd)

	case valueobject.CommandConversationGateSet:
		return r.handleGateSet(cmd)

	case valueobject.CommandApprovalRespond:
		return r.handleApprovalRespond(cmd)

	case valueobject.CommandSchedulerList:
		return r.handleSchedulerList(ctx, cmd)
	case valueobject.CommandSchedulerCreate, valueobject.CommandSchedulerUpdate:
		return r.handleSchedulerUpsert(ctx, cmd)
	case valueobject.CommandSchedulerDelete:
		return r.handleSchedulerDelete(ctx, cmd)
	case valueobject.CommandSchedulerTriggerNow:
		return r.handleSchedulerTriggerNow(ctx, cmd)

	case valueobject.CommandOrbPaletteSet:
		return r.handleOrb(cmd, "palette_set", func(p map[string]interface{}) { r.orb.setPalette(stringField(p, "palette")) })
	case valueobject.CommandOrbPaletteClear:
		return r.handleOrb(cmd, "palette_clear", func(map[string]interface{}) { r.orb.clearPalette() })
	case valueobject.CommandOrbFeelingSet:
		return r.handleOrb(cmd, "feeling_set", func(p map[string]interface{}) { r.orb.setFeeling(stringField(p, "feeling")) })
	case valueobject.CommandOrbUrgencySet:
		return r.handleOrb(cmd, "urgency_set", func(p map[string]interface{}) { r.orb.setUrgency(stringField(p, "urgency")) })
	case valueobject.CommandOrbFlash:
		return r.handleOrb(cmd, "flash", func(map[string]interface{}) {})

	case valueobject.CommandCapabilityRequest:
		return r.handleCapabilityRequest(ctx, cmd)
	case valueobject.CommandCapabilityGrant:
		return r.handleCapabilityGrantDeny(cmd, true)
	case valueobject.CommandCapabilityDeny:
		return r.handleCapabilityGrantDeny(cmd, false)

	case valueobject.CommandOnboardingGetState:
		return r.handleOnboardingGetState(cmd)
	case valueobject.CommandOnboardingAdvance:
		return r.handleOnboardingAdvance(cmd)
	case valueobject.CommandOnboardingComplete:
		return r.handleOnboardingComplete(cmd)

	case valueobject.CommandSkillChannelInstall:
		return r.handleSkillChannelInstall(cmd)
	case valueobject.CommandSkillChannelList:
		return r.ok(cmd, map[string]interface{}{"channels": r.skills.list()})

	case valueobject.CommandConfigGet:
		return r.ok(cmd, r.cfg)
	case valueobject.CommandConfigPatch:
		return r.handleConfigPatch(cmd)

	case valueobject.CommandDeviceMove:
		return r.handleDevice(cmd, "move")
	case valueobject.CommandDeviceGoHome:
		return r.handleDevice(cmd, "go_home")

	default:
		return valueobject.NewErrorResponse(cmd.RequestID, "unhandled command: "+string(cmd.Command)), "unhandled"
	}
}

func (r *Router) ok(cmd valueobject.Command, payload interface{}) (valueobject.Response, string) {
	resp, err := valueobject.NewOKResponse(cmd.RequestID, payload)
	if err != nil {
		return valueobject.NewErrorResponse(cmd.RequestID, err.Error()), "encode_error"
	}
	return resp, ""
}

func (r *Router) fail(cmd valueobject.Command, errClass, msg string) (valueobject.Response, string) {
	return valueobject.NewErrorResponse(cmd.RequestID, msg), errClass
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (r *Router) publish(name string, payload interface{}) {
	evt, err := valueobject.NewEvent(uuid.NewString(), name, payload)
	if err != nil {
		r.logger.Error("failed to build event", zap.String("event", name), zap.Error(err))
		return
	}
	r.bus.Publish(evt)
}

// --- conversation ---

func (r *Router) handleInjectText(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.SessionID == "" || payload.Text == "" {
		return r.fail(cmd, "invalid_payload", "session_id and text are required")
	}
	reply, err := r.pipe.InjectText(ctx, payload.SessionID, payload.Text)
	if err != nil {
		return r.fail(cmd, "pipeline_error", err.Error())
	}
	return r.ok(cmd, map[string]interface{}{"reply": reply})
}

func (r *Router) handleGateSet(cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		Gated bool `json:"gated"`
	}
	if err := decode(cmd.Payload, &payload); err != nil {
		return r.fail(cmd, "invalid_payload", err.Error())
	}
	r.pipe.SetGated(payload.Gated)
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- approvals ---

func (r *Router) handleApprovalRespond(cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		RequestID string `json:"request_id"`
		Approved  bool   `json:"approved"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.RequestID == "" {
		return r.fail(cmd, "invalid_payload", "request_id is required")
	}
	if !r.approvals.Resolve(payload.RequestID, payload.Approved) {
		return r.fail(cmd, "not_found", "no pending approval for request_id")
	}
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- scheduler ---

// taskView is the wire shape of a task on scheduler.list, mirroring
// taskSpec so the host sees the same snake_case field names it sends.
type taskView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Schedule scheduleSpec    `json:"schedule"`
	Enabled  bool            `json:"enabled"`
	Kind     entity.TaskKind `json:"kind"`
	NextRun  *time.Time      `json:"next_run,omitempty"`
	LastRun  *time.Time      `json:"last_run,omitempty"`
}

func toTaskView(t *entity.ScheduledTask) taskView {
	return taskView{
		ID:   t.ID,
		Name: t.Name,
		Schedule: scheduleSpec{
			Kind:            t.Schedule.Kind,
			IntervalSeconds: t.Schedule.IntervalSeconds,
			Hour:            t.Schedule.Hour,
			Minute:          t.Schedule.Minute,
			Weekdays:        t.Schedule.Weekdays,
			AtEpoch:         t.Schedule.AtEpoch,
			CronExpression:  t.Schedule.CronExpression,
		},
		Enabled: t.Enabled,
		Kind:    t.Kind,
		NextRun: t.NextRun,
		LastRun: t.LastRun,
	}
}

func (r *Router) handleSchedulerList(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	tasks, err := r.tasks.List(ctx)
	if err != nil {
		return r.fail(cmd, "store_error", err.Error())
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, toTaskView(t))
	}
	return r.ok(cmd, map[string]interface{}{"tasks": views})
}

// scheduleSpec is the wire shape of a schedule, snake_case like every
// other payload on the host channel; entity.Schedule itself carries no
// json tags since it's never serialized directly (see scheduler_store.go
// for the analogous persistence-side DTO).
type scheduleSpec struct {
	Kind            entity.ScheduleKind `json:"kind"`
	IntervalSeconds int64               `json:"interval_seconds,omitempty"`
	Hour            int                 `json:"hour,omitempty"`
	Minute          int                 `json:"minute,omitempty"`
	Weekdays        []time.Weekday      `json:"weekdays,omitempty"`
	AtEpoch         int64               `json:"at_epoch,omitempty"`
	CronExpression  string              `json:"cron_expression,omitempty"`
}

func (s scheduleSpec) toEntity() entity.Schedule {
	return entity.Schedule{
		Kind:            s.Kind,
		IntervalSeconds: s.IntervalSeconds,
		Hour:            s.Hour,
		Minute:          s.Minute,
		Weekdays:        s.Weekdays,
		AtEpoch:         s.AtEpoch,
		CronExpression:  s.CronExpression,
	}
}

type taskPayloadSpec struct {
	Prompt               string `json:"prompt"`
	SystemPromptAddendum string `json:"system_prompt_addendum,omitempty"`
	TimeoutSeconds       int64  `json:"timeout_seconds,omitempty"`
}

func (p taskPayloadSpec) toEntity() entity.TaskPayload {
	return entity.TaskPayload{
		Prompt:               p.Prompt,
		SystemPromptAddendum: p.SystemPromptAddendum,
		TimeoutSeconds:       p.TimeoutSeconds,
	}
}

type taskSpec struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Schedule scheduleSpec    `json:"schedule"`
	Kind     entity.TaskKind `json:"kind"`
	Payload  taskPayloadSpec `json:"payload"`
}

func (r *Router) handleSchedulerUpsert(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	var spec taskSpec
	if err := decode(cmd.Payload, &spec); err != nil {
		return r.fail(cmd, "invalid_payload", err.Error())
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	schedule := spec.Schedule.toEntity()
	payload := spec.Payload.toEntity()

	existing, _ := r.tasks.FindByID(ctx, spec.ID)
	var task *entity.ScheduledTask
	if existing != nil {
		existing.Name = spec.Name
		existing.Schedule = schedule
		existing.Kind = spec.Kind
		existing.Payload = payload
		if !existing.Schedule.Valid() {
			return r.fail(cmd, "invalid_schedule", "malformed schedule")
		}
		next := existing.NextFireTime(time.Now())
		existing.NextRun = &next
		task = existing
	} else {
		built, err := entity.NewScheduledTask(spec.ID, spec.Name, schedule, spec.Kind, payload)
		if err != nil {
			return r.fail(cmd, "invalid_task", err.Error())
		}
		task = built
	}

	if err := r.tasks.Save(ctx, task); err != nil {
		return r.fail(cmd, "store_error", err.Error())
	}
	return r.ok(cmd, map[string]interface{}{"id": task.ID})
}

func (r *Router) handleSchedulerDelete(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.ID == "" {
		return r.fail(cmd, "invalid_payload", "id is required")
	}
	if err := r.tasks.Delete(ctx, payload.ID); err != nil {
		r.logger.Warn("delete of unknown task id treated as idempotent success", zap.String("id", payload.ID))
	}
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

func (r *Router) handleSchedulerTriggerNow(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.ID == "" {
		return r.fail(cmd, "invalid_payload", "id is required")
	}
	task, err := r.tasks.FindByID(ctx, payload.ID)
	if err != nil {
		r.logger.Warn("trigger_now of unknown task id treated as idempotent success", zap.String("id", payload.ID))
		return r.ok(cmd, map[string]interface{}{"ok": true})
	}
	now := time.Now().UTC()
	task.NextRun = &now
	if err := r.tasks.Save(ctx, task); err != nil {
		return r.fail(cmd, "store_error", err.Error())
	}
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- orb ---

func (r *Router) handleOrb(cmd valueobject.Command, kind string, apply func(map[string]interface{})) (valueobject.Response, string) {
	var payload map[string]interface{}
	_ = decode(cmd.Payload, &payload)
	apply(payload)

	state := r.orb.snapshot()
	state["kind"] = kind
	r.publish("orb.state_changed", state)
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- capability ---

func (r *Router) handleCapabilityRequest(ctx context.Context, cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		Capability string `json:"capability"`
		JIT        bool   `json:"jit"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.Capability == "" {
		return r.fail(cmd, "invalid_payload", "capability is required")
	}
	if !payload.JIT {
		return r.ok(cmd, map[string]interface{}{"accepted": true})
	}
	if r.jit == nil {
		return r.fail(cmd, "unsupported", "no JIT requester configured")
	}
	if err := r.jit.RequestPermission(ctx, payload.Capability); err != nil {
		return r.fail(cmd, "jit_failed", err.Error())
	}

	deadline := time.Now().Add(60 * time.Second)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.permissions.Check(payload.Capability) {
			return r.ok(cmd, map[string]interface{}{"granted": true})
		}
		if time.Now().After(deadline) {
			return r.fail(cmd, "timeout", "permission request timed out")
		}
		select {
		case <-ctx.Done():
			return r.fail(cmd, "cancelled", ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

func (r *Router) handleCapabilityGrantDeny(cmd valueobject.Command, grant bool) (valueobject.Response, string) {
	var payload struct {
		Capability string `json:"capability"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.Capability == "" {
		return r.fail(cmd, "invalid_payload", "capability is required")
	}
	if grant {
		r.permissions.Grant(payload.Capability)
	} else {
		r.permissions.Deny(payload.Capability)
	}
	if err := config.Save(r.cfg); err != nil {
		r.logger.Warn("config persist failed", zap.Error(err))
	}
	r.publish("capability.state_changed", map[string]interface{}{"capability": payload.Capability, "granted": grant})
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- onboarding ---

func (r *Router) handleOnboardingGetState(cmd valueobject.Command) (valueobject.Response, string) {
	onboarded, phase := r.onboarding.get()
	return r.ok(cmd, map[string]interface{}{
		"onboarded":           onboarded,
		"phase":               string(phase),
		"granted_permissions": []string{},
	})
}

func (r *Router) handleOnboardingAdvance(cmd valueobject.Command) (valueobject.Response, string) {
	phase := r.onboarding.advance()
	r.publish("onboarding.phase_advanced", map[string]interface{}{"phase": string(phase)})
	return r.ok(cmd, map[string]interface{}{"phase": string(phase)})
}

func (r *Router) handleOnboardingComplete(cmd valueobject.Command) (valueobject.Response, string) {
	r.onboarding.complete()
	r.publish("onboarding.phase_advanced", map[string]interface{}{"phase": string(PhaseComplete)})
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- skill channels ---

func (r *Router) handleSkillChannelInstall(cmd valueobject.Command) (valueobject.Response, string) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decode(cmd.Payload, &payload); err != nil || payload.Name == "" {
		return r.fail(cmd, "invalid_payload", "name is required")
	}
	r.skills.install(payload.Name)
	return r.ok(cmd, map[string]interface{}{"ok": true})
}

// --- config ---

func (r *Router) handleConfigPatch(cmd valueobject.Command) (valueobject.Response, string) {
	var patch struct {
		Providers *config.ProvidersConfig `json:"providers,omitempty"`
		Agent     *config.AgentConfig     `json:"agent,omitempty"`
		Noise     *config.NoiseConfig     `json:"noise,omitempty"`
	}
	if err := decode(cmd.Payload, &patch); err != nil {
		return r.fail(cmd, "invalid_payload", err.Error())
	}
	if patch.Providers != nil {
		if err := config.ValidateProvidersPatch(patch.Providers); err != nil {
			return r.fail(cmd, "config_validation_error", err.Error())
		}
		r.cfg.Providers = *patch.Providers
	}
	if patch.Agent != nil {
		r.cfg.Agent = *patch.Agent
	}
	if patch.Noise != nil {
		r.cfg.Noise = *patch.Noise
	}
	if err := config.Save(r.cfg); err != nil {
		r.logger.Warn("config persist failed", zap.Error(err))
	}
	return r.ok(cmd, r.cfg)
}

// --- device ---

func (r *Router) handleDevice(cmd valueobject.Command, action string) (valueobject.Response, string) {
	var payload map[string]interface{}
	_ = decode(cmd.Payload, &payload)
	r.logger.Info("device command", zap.String("action", action), zap.Any("payload", payload))
	return r.ok(cmd, map[string]interface{}{"ok": true})
}
