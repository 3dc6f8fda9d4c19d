// Package anthropic implements the Anthropic Messages API adapter: a
// hand-rolled net/http client plus SSE stream parser, kept in the
// teacher's idiom rather than layered over the official SDK since the
// teacher's own transport already does exactly this job.
package anthropic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/entity"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// Provider implements the Anthropic Messages API natively.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates an Anthropic API provider from the shared llm.Config.
func New(cfg llm.Config, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "anthropic")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string               { return p.name }
func (p *Provider) EndpointType() llm.EndpointType { return llm.EndpointAnthropic }

// Send streams a single turn over Anthropic's SSE Messages API.
func (p *Provider) Send(ctx context.Context, messages []entity.Message, options valueobject.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.LlmEvent, error) {
	apiReq := p.buildAPIRequest(messages, options, tools)
	apiReq.Stream = true

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq, options)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, llm.ClassifyHTTPStatus(resp.StatusCode, string(respBody))
	}

	ch := make(chan llm.LlmEvent, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		streamDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				resp.Body.Close()
			case <-streamDone:
			}
		}()

		runSSE(ctx, resp.Body, ch, p.logger)
		close(streamDone)
	}()

	return ch, nil
}

func (p *Provider) setHeaders(req *http.Request, options valueobject.RequestOptions) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range options.Headers {
		req.Header.Set(k, v)
	}
}

func (p *Provider) buildAPIRequest(messages []entity.Message, options valueobject.RequestOptions, tools []llm.ToolDefinition) *Request {
	apiReq := &Request{
		Model:       p.model,
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = 8192 // Anthropic requires an explicit max_tokens
	}

	var apiMessages []Message
	for _, msg := range messages {
		switch msg.Role {
		case entity.RoleSystem:
			apiReq.System = msg.Content

		case entity.RoleAssistant:
			var blocks []ContentBlock
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.CallID,
					Name:  tc.Name,
					Input: decodeArgs(tc.Arguments),
				})
			}
			if len(blocks) > 0 {
				apiMessages = append(apiMessages, Message{Role: "assistant", Content: blocks})
			}

		case entity.RoleTool:
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		default: // user
			apiMessages = append(apiMessages, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	apiReq.Messages = apiMessages

	for _, td := range tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Name:        td.Name,
			Description: td.Description,
			InputSchema: ConvertSchema(td.Parameters),
		})
	}

	return apiReq
}

func decodeArgs(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func encodeArgs(m map[string]interface{}) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
