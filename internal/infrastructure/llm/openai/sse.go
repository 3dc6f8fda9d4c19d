package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	"github.com/saorsa-labs/fae/pkg/errors"
	"go.uber.org/zap"
)

// runSSE reads an OpenAI-compatible chat/completions SSE stream and
// emits normalized LlmEvents on ch. Tool call argument fragments arrive
// indexed by position in the delta, not by call-id, so the accumulator
// here tracks index -> call-id until the id itself streams in.
func runSSE(ctx context.Context, reader io.Reader, ch chan<- llm.LlmEvent, logger *zap.Logger) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	indexToCallID := make(map[int]string)
	sentStart := false

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

		var chunk StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if !sentStart && chunk.Model != "" {
			sentStart = true
			ch <- llm.LlmEvent{Kind: llm.EventStreamStart, Model: chunk.Model}
		}
		if chunk.Usage != nil {
			ch <- llm.LlmEvent{Kind: llm.EventUsage, InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			ch <- llm.LlmEvent{Kind: llm.EventToken, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			id, known := indexToCallID[tc.Index]
			if !known {
				id = tc.ID
				indexToCallID[tc.Index] = id
				ch <- llm.LlmEvent{Kind: llm.EventToolCallStart, CallID: id, ToolName: tc.Function.Name}
			}
			if tc.Function.Arguments != "" {
				ch <- llm.LlmEvent{Kind: llm.EventToolCallArgs, CallID: id, ArgsFragment: tc.Function.Arguments}
			}
		}

		if choice.FinishReason != nil {
			for _, id := range indexToCallID {
				ch <- llm.LlmEvent{Kind: llm.EventToolCallEnd, CallID: id}
			}
			ch <- llm.LlmEvent{Kind: llm.EventStreamEnd, FinishReason: mapFinishReason(*choice.FinishReason)}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.New(errors.CodeTimeoutError, "OpenAI SSE stream idle timeout")}
			return
		}
		ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.Wrap(errors.CodeStreamFailed, "OpenAI SSE scan error", err)}
	}
}

// mapFinishReason implements the OpenAI finish_reason mapping:
// stop|length|tool_calls map onto their matching FinishReason; anything
// else (content_filter included) folds into Other.
func mapFinishReason(reason string) valueobject.FinishReason {
	switch reason {
	case "stop":
		return valueobject.FinishStop
	case "length":
		return valueobject.FinishLength
	case "tool_calls":
		return valueobject.FinishToolCalls
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
