package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/repository"
	"github.com/saorsa-labs/fae/internal/domain/service"
	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	"github.com/saorsa-labs/fae/internal/infrastructure/intelligence"
	"github.com/saorsa-labs/fae/pkg/errors"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// memoryEmbeddingDimension mirrors memorystore.EmbeddingDimension. The
// embedding models themselves are external collaborators out of this
// module's scope, so extracted records are indexed with a zero-vector
// placeholder until a real embedding is wired in from outside.
const memoryEmbeddingDimension = 384

// errGated is returned by InjectText while the pipeline has been
// gated closed via conversation.gate_set.
var errGated = errors.New(errors.CodeSessionError, "conversation gated closed")

// PipelineMode names one of the four operating modes the coordinator
// can be in.
type PipelineMode string

const (
	ModeConversation   PipelineMode = "conversation"
	ModeTranscribeOnly PipelineMode = "transcribe_only"
	ModeTextOnly       PipelineMode = "text_only"
	ModeLlmOnly        PipelineMode = "llm_only"
)

// MemoryPressure is the tri-state the memory-pressure monitor reports.
type MemoryPressure string

const (
	PressureNormal   MemoryPressure = "normal"
	PressureWarning  MemoryPressure = "warning"
	PressureCritical MemoryPressure = "critical"
)

const (
	memoryPollInterval  = 30 * time.Second
	warningThresholdMiB = 1024
	criticalThresholdMiB = 512
)

// Pipeline owns the conversation mode state machine, the in-flight
// agent turn (cancellable for barge-in), and the memory-pressure
// monitor that can force a degraded mode under resource pressure.
//
// It does not itself own audio capture, STT, or TTS — those stages sit
// outside this module's scope — but it models their lifecycle exactly
// as spec'd: mode transitions, interruption, and the degrade-under-
// pressure rule.
type Pipeline struct {
	mu            sync.Mutex
	mode          PipelineMode
	gated         bool
	pressure      MemoryPressure
	preCriticalMode PipelineMode
	cancelTurn    context.CancelFunc

	agent    *service.AgentLoop
	sessions repository.SessionRepository
	bus      eventbus.Bus
	logger   *zap.Logger

	memory repository.MemoryRepository
	noise  *intelligence.NoiseController
}

// NewPipeline creates a coordinator starting in Conversation mode.
func NewPipeline(agent *service.AgentLoop, sessions repository.SessionRepository, bus eventbus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		mode:     ModeConversation,
		pressure: PressureNormal,
		agent:    agent,
		sessions: sessions,
		bus:      bus,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

// Mode returns the coordinator's current operating mode.
func (p *Pipeline) Mode() PipelineMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode transitions the coordinator to mode directly (used by
// runtime.start/status plumbing and tests; the memory monitor drives
// its own transitions independently).
func (p *Pipeline) SetMode(mode PipelineMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

// SetGated toggles whether InjectText accepts new turns, per
// conversation.gate_set.
func (p *Pipeline) SetGated(gated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gated = gated
}

// Gated reports whether the pipeline currently rejects injected turns.
func (p *Pipeline) Gated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gated
}

// InjectText runs one agent turn against sessionID's history, starting
// a fresh session if it doesn't exist. It returns the assistant's final
// reply text. A concurrent call to Interrupt cancels the in-flight
// turn; the caller observes ctx.Err() in that case.
func (p *Pipeline) InjectText(ctx context.Context, sessionID, text string) (string, error) {
	if p.Gated() {
		return "", errGated
	}

	sess, err := p.sessions.FindByID(ctx, sessionID)
	if err != nil {
		sess, err = entity.NewSession(sessionID, "")
		if err != nil {
			return "", err
		}
	}
	if err := sess.AppendMessage(entity.Message{Role: entity.RoleUser, Content: text}); err != nil {
		return "", err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelTurn = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancelTurn = nil
		p.mu.Unlock()
	}()

	mode := domaintool.ModeFull
	history, err := p.agent.Run(turnCtx, mode, sess.Messages(), valueobject.DefaultRequestOptions(), func(service.TurnEvent) {})
	interrupted := turnCtx.Err() == context.Canceled

	for _, m := range history[len(sess.Messages()):] {
		_ = sess.AppendMessage(m)
	}
	if saveErr := p.sessions.Save(ctx, sess); saveErr != nil {
		p.logger.Warn("failed to persist session", zap.Error(saveErr))
	}

	p.publishControl("turn_end", map[string]interface{}{"session_id": sessionID, "interrupted": interrupted})

	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", nil
	}
	return history[len(history)-1].Content, nil
}

// SetMemory wires the memory repository that Dispatch indexes
// intelligence-extraction output into. Nil (the default) disables
// extraction entirely.
func (p *Pipeline) SetMemory(memory repository.MemoryRepository) {
	p.memory = memory
}

// SetNoise wires the noise controller that Dispatch consults before
// treating a task's run as proactive-delivery-worthy. Nil (the default)
// disables noise gating, letting every dispatch through.
func (p *Pipeline) SetNoise(noise *intelligence.NoiseController) {
	p.noise = noise
}

// Dispatch implements scheduler.TaskDispatcher: it runs one agent turn
// seeded by the task's payload in an ephemeral session (scheduled tasks
// don't belong to a user conversation), noise-gates the result as a
// proactive delivery, and feeds any intelligence-extraction items into
// the memory repository.
func (p *Pipeline) Dispatch(ctx context.Context, payload entity.TaskPayload) error {
	sess, err := entity.NewSession(uuid.NewString(), payload.SystemPromptAddendum)
	if err != nil {
		return err
	}
	if err := sess.AppendMessage(entity.Message{Role: entity.RoleUser, Content: payload.Prompt}); err != nil {
		return err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if payload.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(payload.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	history, err := p.agent.Run(runCtx, domaintool.ModeFull, sess.Messages(), valueobject.DefaultRequestOptions(), func(service.TurnEvent) {})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	reply := history[len(history)-1].Content

	p.deliverProactively(reply)
	return nil
}

// deliverProactively noise-gates reply and, if it clears every check,
// publishes it as a proactive delivery and extracts any memory-worthy
// items it contains. Blocked deliveries are logged, not published, and
// never extracted from — a duplicate or cooldown-suppressed reply isn't
// worth re-indexing.
func (p *Pipeline) deliverProactively(reply string) {
	now := time.Now().UTC()

	if p.noise != nil {
		if block := p.noise.ShouldDeliver(reply, now); block != intelligence.BlockNone {
			p.logger.Info("proactive delivery suppressed", zap.String("reason", block.String()))
			return
		}
		p.noise.RecordDelivery(reply, now)
	}

	p.publishControl("proactive_delivery", map[string]interface{}{"text": reply})
	p.extractAndIndex(reply)
}

func (p *Pipeline) extractAndIndex(reply string) {
	if p.memory == nil {
		return
	}
	result := intelligence.Extract(reply)
	for _, item := range result.Items {
		kind := entity.MemoryKind(item.Kind)
		record, err := entity.NewMemoryRecord(uuid.NewString(), kind, item.Text, item.Confidence)
		if err != nil {
			continue
		}
		embedding := make([]float32, memoryEmbeddingDimension)
		if err := p.memory.Index(context.Background(), record, embedding); err != nil {
			p.logger.Warn("failed to index extracted memory", zap.Error(err))
		}
	}
}

// Interrupt cancels the in-flight agent turn, if any, implementing
// barge-in: a user-speech-start event during assistant playback tears
// down the active response.
func (p *Pipeline) Interrupt() {
	p.mu.Lock()
	cancel := p.cancelTurn
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) publishControl(kind string, payload map[string]interface{}) {
	if p.bus == nil {
		return
	}
	evt, err := valueobject.NewEvent(uuid.NewString(), "pipeline.control", mergeKind(kind, payload))
	if err != nil {
		return
	}
	p.bus.Publish(evt)
}

func mergeKind(kind string, payload map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"kind": kind}
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// RunMemoryMonitor polls system-wide available RAM every 30s, publishing
// memory_pressure.changed only on a state transition, and forcing
// LlmOnly mode while pressure is Critical (restoring the prior mode
// once it clears).
func (p *Pipeline) RunMemoryMonitor(ctx context.Context) {
	ticker := time.NewTicker(memoryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkMemoryPressure()
		}
	}
}

func (p *Pipeline) checkMemoryPressure() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		p.logger.Warn("failed to read system memory stats", zap.Error(err))
		return
	}
	miB := vm.Available / (1024 * 1024)

	next := PressureNormal
	switch {
	case miB <= criticalThresholdMiB:
		next = PressureCritical
	case miB <= warningThresholdMiB:
		next = PressureWarning
	}

	p.mu.Lock()
	prev := p.pressure
	if prev == next {
		p.mu.Unlock()
		return
	}
	p.pressure = next

	if next == PressureCritical && prev != PressureCritical {
		p.preCriticalMode = p.mode
		p.mode = ModeLlmOnly
	} else if prev == PressureCritical && next != PressureCritical {
		p.mode = p.preCriticalMode
	}
	p.mu.Unlock()

	p.logger.Info("memory pressure changed", zap.String("from", string(prev)), zap.String("to", string(next)))

	if p.bus == nil {
		return
	}
	evt, err := valueobject.NewEvent(uuid.NewString(), "memory_pressure.changed", map[string]interface{}{
		"pressure": string(next),
	})
	if err == nil {
		p.bus.Publish(evt)
	}
}
