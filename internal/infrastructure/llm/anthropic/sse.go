package anthropic

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

// runSSE reads Anthropic's event-based SSE format and emits normalized
// LlmEvents on ch. Anthropic SSE events:
//   - message_start         → stream metadata (model)
//   - content_block_start   → new content block (text, tool_use, thinking)
//   - content_block_delta   → incremental update to current block
//   - content_block_stop    → current block finished
//   - message_delta         → stop_reason + final usage
//   - message_stop          → stream complete
func runSSE(ctx context.Context, reader io.Reader, ch chan<- llm.LlmEvent, logger *zap.Logger) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCallIDs := make(map[int]string) // index -> call id, so tool_call_end can be emitted
	var currentEventType string
	sentStart := false

	emitStart := func(model string) {
		if sentStart {
			return
		}
		sentStart = true
		ch <- llm.LlmEvent{Kind: llm.EventStreamStart, Model: model}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			ch <- llm.LlmEvent{Kind: llm.EventError, Err: ctx.Err()}
			return
		default:
		}

		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEventType {
		case "message_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("skip unparseable message_start", zap.Error(err))
				continue
			}
			if evt.Message != nil {
				emitStart(evt.Message.Model)
			}

		case "content_block_start":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				toolCallIDs[evt.Index] = evt.ContentBlock.ID
				ch <- llm.LlmEvent{Kind: llm.EventToolCallStart, CallID: evt.ContentBlock.ID, ToolName: evt.ContentBlock.Name}
			}

		case "content_block_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" {
					ch <- llm.LlmEvent{Kind: llm.EventToken, Text: evt.Delta.Text}
				}
			case "input_json_delta":
				if id, ok := toolCallIDs[evt.Index]; ok && evt.Delta.PartialJSON != "" {
					ch <- llm.LlmEvent{Kind: llm.EventToolCallArgs, CallID: id, ArgsFragment: evt.Delta.PartialJSON}
				}
			case "thinking_delta":
				if evt.Delta.Thinking != "" {
					ch <- llm.LlmEvent{Kind: llm.EventReasoning, Text: evt.Delta.Thinking}
				}
			}

		case "content_block_stop":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err == nil {
				if id, ok := toolCallIDs[evt.Index]; ok {
					ch <- llm.LlmEvent{Kind: llm.EventToolCallEnd, CallID: id}
				}
			}

		case "message_delta":
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.Usage != nil {
				ch <- llm.LlmEvent{Kind: llm.EventUsage, InputTokens: evt.Usage.InputTokens, OutputTokens: evt.Usage.OutputTokens}
			}
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				ch <- llm.LlmEvent{Kind: llm.EventStreamEnd, FinishReason: mapFinishReason(evt.Delta.StopReason)}
				currentEventType = ""
				return
			}

		case "message_stop":
			return

		case "ping":
			// heartbeat, no payload of interest

		default:
			logger.Debug("unknown anthropic SSE event", zap.String("type", currentEventType))
		}

		currentEventType = ""
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.New(errors.CodeTimeoutError, "Anthropic SSE stream idle timeout")}
			return
		}
		ch <- llm.LlmEvent{Kind: llm.EventError, Err: errors.Wrap(errors.CodeStreamFailed, "Anthropic SSE scan error", err)}
	}
}

// mapFinishReason implements the Anthropic stop_reason mapping: end_turn
// and stop_sequence both mean the turn is done speaking; tool_use means
// the caller must execute tools; max_tokens means truncation.
func mapFinishReason(stopReason string) valueobject.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return valueobject.FinishStop
	case "tool_use":
		return valueobject.FinishToolCalls
	case "max_tokens":
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
