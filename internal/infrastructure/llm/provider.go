// Package llm defines the provider abstraction the agent loop drives:
// a normalized streaming event model, a fallback-chain router, and a
// circuit breaker shared by every adapter (anthropic, openai, gemini).
package llm

import (
	"context"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
)

// EndpointType distinguishes the wire protocol family a provider speaks,
// mostly useful for logging and for the router's stats surface.
type EndpointType string

const (
	EndpointAnthropic EndpointType = "anthropic"
	EndpointOpenAI    EndpointType = "openai"
	EndpointGemini    EndpointType = "gemini"
)

// ToolDefinition is the provider-agnostic shape of a tool schema handed
// to Send; adapters translate Parameters into their own JSON Schema
// dialect quirks (Anthropic's input_schema, OpenAI's function.parameters,
// Gemini's functionDeclarations).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// LlmEventKind is the closed set of streaming event variants a Provider
// emits while servicing Send.
type LlmEventKind string

const (
	EventToken          LlmEventKind = "token"
	EventToolCallStart  LlmEventKind = "tool_call_start"
	EventToolCallArgs   LlmEventKind = "tool_call_args"
	EventToolCallEnd    LlmEventKind = "tool_call_end"
	EventReasoning      LlmEventKind = "reasoning"
	EventStreamStart    LlmEventKind = "stream_start"
	EventStreamEnd      LlmEventKind = "stream_end"
	EventUsage          LlmEventKind = "usage"
	EventError          LlmEventKind = "error"
)

// LlmEvent is a single item in the stream a Provider returns from Send.
// Only the fields relevant to Kind are populated; the agent loop
// switches on Kind and ignores the rest.
type LlmEvent struct {
	Kind LlmEventKind

	// EventToken / EventReasoning
	Text string

	// EventToolCallStart / EventToolCallArgs / EventToolCallEnd
	CallID       string
	ToolName     string
	ArgsFragment string

	// EventStreamStart
	Model string

	// EventStreamEnd
	FinishReason valueobject.FinishReason

	// EventUsage
	InputTokens  int
	OutputTokens int

	// EventError
	Err error
}

// Provider is the minimal surface the agent loop and the fallback router
// need from any LLM transport.
type Provider interface {
	// Name is the provider's configured identifier (e.g. "anthropic-primary").
	Name() string

	// EndpointType identifies the wire protocol family.
	EndpointType() EndpointType

	// Send streams a single turn. The returned channel is closed when
	// the turn ends (a stream_end or error event is always the final
	// item sent before close). Send must respect ctx cancellation at
	// every suspension point.
	Send(ctx context.Context, messages []entity.Message, options valueobject.RequestOptions, tools []ToolDefinition) (<-chan LlmEvent, error)
}

// Config is the static configuration for constructing a provider adapter.
type Config struct {
	Name    string
	Type    string // "anthropic" | "openai" | "gemini"
	BaseURL string
	APIKey  string
	Model   string
}
