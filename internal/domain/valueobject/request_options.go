package valueobject

// ReasoningLevel is the closed set of reasoning-effort hints a caller can
// pass through to a provider that supports extended thinking. Providers
// that don't support reasoning ignore anything but ReasoningOff.
type ReasoningLevel string

const (
	ReasoningOff     ReasoningLevel = "off"
	ReasoningMinimal ReasoningLevel = "minimal"
	ReasoningLow     ReasoningLevel = "low"
	ReasoningMedium  ReasoningLevel = "medium"
	ReasoningHigh    ReasoningLevel = "high"
)

// RequestOptions carries the provider-agnostic knobs for a single Send
// call. Each adapter serializes these into its own wire format.
type RequestOptions struct {
	Temperature    float64
	MaxTokens      int
	ReasoningLevel ReasoningLevel
	TimeoutMs      int64
	Headers        map[string]string
	TopP           float64
	Stream         bool
}

// DefaultRequestOptions returns the baseline options used when a caller
// doesn't override them: streaming on, no reasoning, a generous timeout.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		Temperature:    0.7,
		MaxTokens:      4096,
		ReasoningLevel: ReasoningOff,
		TimeoutMs:      60_000,
		TopP:           1.0,
		Stream:         true,
	}
}

// FinishReason is the normalized terminal state of a provider's streamed
// turn, after each adapter maps its own vocabulary onto this enum.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)
