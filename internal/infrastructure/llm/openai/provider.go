// Package openai implements the OpenAI-compatible chat completions
// adapter (also serves Bailian/DeepSeek/Ollama/vLLM-style backends) as a
// hand-rolled net/http + SSE client, in the same idiom as the anthropic
// and gemini adapters.
package openai

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

// Provider is a Go-native OpenAI-compatible HTTP client.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Go-native OpenAI-compatible LLM provider.
func New(cfg llm.Config, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
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
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "openai")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string                 { return p.name }
func (p *Provider) EndpointType() llm.EndpointType { return llm.EndpointOpenAI }

// Send streams a single turn over the chat/completions SSE endpoint.
func (p *Provider) Send(ctx context.Context, messages []entity.Message, options valueobject.RequestOptions, tools []llm.ToolDefinition) (<-chan llm.LlmEvent, error) {
	apiReq := p.buildAPIRequest(messages, options, tools)
	streamBody := StreamRequest{
		Request:       apiReq,
		Stream:        true,
		StreamOptions: map[string]interface{}{"include_usage": true},
	}

	body, err := json.Marshal(streamBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range options.Headers {
		httpReq.Header.Set(k, v)
	}

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

func (p *Provider) buildAPIRequest(messages []entity.Message, options valueobject.RequestOptions, tools []llm.ToolDefinition) *Request {
	apiReq := &Request{
		Model:       p.model,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}

	for _, msg := range messages {
		apiMsg := Message{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
				ID:   tc.CallID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range tools {
		apiReq.Tools = append(apiReq.Tools, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  ConvertSchema(td.Parameters),
			},
		})
	}

	return apiReq
}
