// Package service hosts the agent loop: the turn-by-turn driver that
// pumps a session's messages through a provider, executes any tool calls
// the model requests, and feeds results back until the model is done
// talking or a hard guard trips.
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/tool"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	"github.com/saorsa-labs/fae/pkg/errors"
	"go.uber.org/zap"
)

// Config bounds a single agent loop run.
type Config struct {
	MaxTurns            int
	MaxToolCallsPerTurn int
	RequestTimeoutSecs  int
	ToolTimeoutSecs     int
	MaxAttempts         int
	BaseDelayMs         int
	FailureThreshold    int
	RecoveryTimeoutSecs int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:            15,
		MaxToolCallsPerTurn: 5,
		RequestTimeoutSecs:  60,
		ToolTimeoutSecs:     30,
		MaxAttempts:         3,
		BaseDelayMs:         500,
		FailureThreshold:    5,
		RecoveryTimeoutSecs: 30,
	}
}

// TurnEvent is forwarded to the caller as the loop progresses, so a
// caller (the pipeline coordinator) can stream tokens to the host as
// they arrive instead of waiting for the whole turn to finish.
type TurnEvent struct {
	Kind     llm.LlmEventKind
	Text     string
	ToolName string
	CallID   string
	Err      error
}

// AgentLoop drives a session through a provider and a tool registry.
type AgentLoop struct {
	provider llm.Provider
	tools    tool.Registry
	breaker  *llm.CircuitBreaker
	logger   *zap.Logger
	cfg      Config
}

// NewAgentLoop wires a provider and tool registry behind the
// retry/circuit-breaker policy configured in cfg.
func NewAgentLoop(provider llm.Provider, tools tool.Registry, cfg Config, logger *zap.Logger) *AgentLoop {
	return &AgentLoop{
		provider: provider,
		tools:    tools,
		breaker:  llm.NewCircuitBreaker(cfg.FailureThreshold, time.Duration(cfg.RecoveryTimeoutSecs)*time.Second),
		logger:   logger.With(zap.String("component", "agent-loop")),
		cfg:      cfg,
	}
}

// accumulatedToolCall collects streamed fragments for one call-id until
// EventToolCallEnd closes it.
type accumulatedToolCall struct {
	name string
	args string
}

// Run drives messages through the provider/tool loop until the model
// produces a final (non-tool-call) turn or max_turns is reached. It
// returns the full updated message history. onEvent, if non-nil, is
// called for every streaming event so a caller can forward tokens live;
// it must not block significantly since it runs on the streaming
// goroutine's delivery path.
func (a *AgentLoop) Run(ctx context.Context, mode tool.Mode, messages []entity.Message, options valueobject.RequestOptions, onEvent func(TurnEvent)) ([]entity.Message, error) {
	history := append([]entity.Message(nil), messages...)
	toolDefs := a.toolDefinitions(mode)

	for turn := 0; turn < a.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		assistantMsg, calls, finish, err := a.runOneTurn(ctx, history, options, toolDefs, onEvent)
		if err != nil {
			return history, err
		}

		history = append(history, assistantMsg)

		if finish != valueobject.FinishToolCalls || len(calls) == 0 {
			return history, nil
		}

		if len(calls) > a.cfg.MaxToolCallsPerTurn {
			calls = calls[:a.cfg.MaxToolCallsPerTurn]
			history[len(history)-1].ToolCalls = calls
		}

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			result := a.executeTool(ctx, mode, call, onEvent)
			history = append(history, entity.Message{
				Role:       entity.RoleTool,
				Content:    result,
				ToolCallID: call.CallID,
			})
		}
	}

	return history, nil
}

// runOneTurn streams one provider call, retrying per the retry policy,
// and returns the accumulated assistant message plus any tool calls it
// requested.
func (a *AgentLoop) runOneTurn(ctx context.Context, history []entity.Message, options valueobject.RequestOptions, toolDefs []llm.ToolDefinition, onEvent func(TurnEvent)) (entity.Message, []entity.ToolCall, valueobject.FinishReason, error) {
	var lastErr error

	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(a.cfg.BaseDelayMs, attempt)
			select {
			case <-ctx.Done():
				return entity.Message{}, nil, valueobject.FinishOther, ctx.Err()
			case <-time.After(delay):
			}
		}

		if !a.breaker.Allow() {
			lastErr = errors.New(errors.CodeProviderError, "circuit breaker open")
			break
		}

		msg, calls, finish, err := a.streamOneAttempt(ctx, history, options, toolDefs, onEvent)
		if err == nil {
			a.breaker.RecordSuccess()
			return msg, calls, finish, nil
		}

		a.breaker.RecordFailure()
		lastErr = err

		if !errors.IsRetryable(err) {
			break
		}
	}

	return entity.Message{}, nil, valueobject.FinishOther, lastErr
}

func (a *AgentLoop) streamOneAttempt(ctx context.Context, history []entity.Message, options valueobject.RequestOptions, toolDefs []llm.ToolDefinition, onEvent func(TurnEvent)) (entity.Message, []entity.ToolCall, valueobject.FinishReason, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if a.cfg.RequestTimeoutSecs > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.RequestTimeoutSecs)*time.Second)
		defer cancel()
	}

	events, err := a.provider.Send(reqCtx, history, options, toolDefs)
	if err != nil {
		return entity.Message{}, nil, valueobject.FinishOther, err
	}

	var content, reasoning string
	calls := make(map[string]*accumulatedToolCall)
	var callOrder []string
	finish := valueobject.FinishOther

	for ev := range events {
		if onEvent != nil {
			onEvent(TurnEvent{Kind: ev.Kind, Text: ev.Text, ToolName: ev.ToolName, CallID: ev.CallID, Err: ev.Err})
		}

		switch ev.Kind {
		case llm.EventToken:
			content += ev.Text
		case llm.EventReasoning:
			reasoning += ev.Text
		case llm.EventToolCallStart:
			calls[ev.CallID] = &accumulatedToolCall{name: ev.ToolName}
			callOrder = append(callOrder, ev.CallID)
		case llm.EventToolCallArgs:
			if c, ok := calls[ev.CallID]; ok {
				c.args += ev.ArgsFragment
			}
		case llm.EventToolCallEnd:
			// args are complete; nothing further to accumulate
		case llm.EventStreamEnd:
			finish = ev.FinishReason
		case llm.EventError:
			return entity.Message{}, nil, valueobject.FinishOther, ev.Err
		}
	}

	_ = reasoning // reasoning text is streamed live via onEvent, not persisted to history

	msg := entity.Message{Role: entity.RoleAssistant, Content: content}
	var toolCalls []entity.ToolCall
	for _, id := range callOrder {
		c := calls[id]
		toolCalls = append(toolCalls, entity.ToolCall{CallID: id, Name: c.name, Arguments: c.args})
	}
	msg.ToolCalls = toolCalls

	return msg, toolCalls, finish, nil
}

// executeTool runs a single requested tool call, rejecting mode-blocked
// or unknown tools with a ToolValidationError content payload rather
// than aborting the turn.
func (a *AgentLoop) executeTool(ctx context.Context, mode tool.Mode, call entity.ToolCall, onEvent func(TurnEvent)) string {
	t, ok := a.tools.Get(call.Name, mode)
	if !ok {
		return errors.New(errors.CodeToolValidationError, fmt.Sprintf("tool %q is not available in mode %q", call.Name, mode)).Error()
	}

	args, parseErr := tool.ParseArguments(call.Arguments)
	if parseErr != nil {
		return errors.Wrap(errors.CodeToolValidationError, "invalid tool arguments", parseErr).Error()
	}

	toolCtx := ctx
	var cancel context.CancelFunc
	if a.cfg.ToolTimeoutSecs > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.ToolTimeoutSecs)*time.Second)
		defer cancel()
	}

	if onEvent != nil {
		onEvent(TurnEvent{Kind: llm.EventToolCallStart, ToolName: call.Name, CallID: call.CallID})
	}

	result, err := t.Execute(toolCtx, args)
	if err != nil {
		return errors.Wrap(errors.CodeToolExecutionError, "tool execution failed", err).Error()
	}
	if !result.Success {
		return result.Error
	}
	return result.Content
}

func (a *AgentLoop) toolDefinitions(mode tool.Mode) []llm.ToolDefinition {
	defs := a.tools.List(mode)
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// backoffDelay computes an exponential backoff delay for the given retry
// attempt (1-indexed), doubling baseDelayMs each time.
func backoffDelay(baseDelayMs, attempt int) time.Duration {
	ms := float64(baseDelayMs) * math.Pow(2, float64(attempt-1))
	return time.Duration(ms) * time.Millisecond
}
