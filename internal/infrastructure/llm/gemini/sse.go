package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	"github.com/saorsa-labs/fae/pkg/errors"
	"go.uber.org/zap"
)

// runSSE reads Gemini's streaming response, where each "data: " line is a
// complete GenerateContentResponse (not an incremental delta the way
// Anthropic/OpenAI fragment content), and emits normalized LlmEvents on
// ch. Gemini never streams a tool call's arguments in pieces, so each
// functionCall part becomes a start/args/end triple in one pass.
func runSSE(ctx context.Context, reader io.Reader, ch chan<- llm.LlmEvent, logger *zap.Logger, model string) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sentStart := false
	toolCallCount := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			ch <- llm.LlmEvent{Kind: llm.EventError, Err: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			logger.Debug("skip unparseable Gemini SSE chunk", zap.Error(err))
			continue
		}

		if !sentStart {
			sentStart = true
			m := resp.ModelVersion
			if m == "" {
				m = model
			}
			ch <- llm.LlmEvent{Kind: llm.EventStreamStart, Model: m}
		}
		if resp.UsageMetadata != nil && resp.UsageMetadata.Total() > 0 {
			ch <- llm.LlmEvent{Kind: llm.EventUsage, InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount}
		}

		if len(resp.Candidates) == 0 {
			continue
		}
		candidate := resp.Candidates[0]

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				ch <- llm.LlmEvent{Kind: llm.EventToken, Text: part.Text}
			}
			if part.FunctionCall != nil {
				id := fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, toolCallCount)
				toolCallCount++
				argsJSON := encodeArgs(part.FunctionCall.Args)
				ch <- llm.LlmEvent{Kind: llm.EventToolCallStart, CallID: id, ToolName: part.FunctionCall.Name}
				ch <- llm.LlmEvent{Kind: llm.EventToolCallArgs, CallID: id, ArgsFragment: argsJSON}
				ch <- llm.LlmEvent{Kind: llm.EventToolCallEnd, CallID: id}
			}
		}

		if candidate.FinishReason != "" {
			ch <- llm.LlmEvent{Kind: llm.EventStreamEnd, FinishReason: mapFinishReason(candidate.FinishReason, len(candidate.Content.Parts) > 0 && hasFunctionCall(candidate.Content.Parts))}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.New(errors.CodeTimeoutError, "Gemini SSE stream idle timeout")}
			return
		}
		ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.Wrap(errors.CodeStreamFailed, "Gemini SSE scan error", err)}
	}
}

func hasFunctionCall(parts []Part) bool {
	for _, p := range parts {
		if p.FunctionCall != nil {
			return true
		}
	}
	return false
}

// mapFinishReason implements the Gemini finishReason mapping: STOP maps
// to Stop unless the turn carried a function call, in which case the
// agent loop needs ToolCalls to know it must execute one; MAX_TOKENS
// maps to Length; anything else (SAFETY, RECITATION, ...) folds to Other.
func mapFinishReason(reason string, hadFunctionCall bool) valueobject.FinishReason {
	if hadFunctionCall {
		return valueobject.FinishToolCalls
	}
	switch reason {
	case "STOP":
		return valueobject.FinishStop
	case "MAX_TOKENS":
		return valueobject.FinishLength
	default:
		return valueobject.FinishOther
	}
}

var errIdleTimeout = errors.New(errors.CodeTimeoutError, "SSE read idle timeout")

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err == errIdleTimeout
}
