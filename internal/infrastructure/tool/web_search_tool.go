package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"go.uber.org/zap"
)

// WebSearchTool queries a configured SearXNG instance (or compatible
// JSON search API) and returns the result list as JSON.
type WebSearchTool struct {
	domaintool.ReadOnlyGate
	endpoint string // e.g. http://localhost:8080/search
	client   *http.Client
	logger   *zap.Logger
}

func NewWebSearchTool(endpoint string, logger *zap.Logger) *WebSearchTool {
	return &WebSearchTool{
		ReadOnlyGate: domaintool.NewReadOnlyGate("web_search"),
		endpoint:     endpoint,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return a JSON array of {title, url, content} results, or {query, results: []} when nothing matches."
}

func (t *WebSearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string",
			},
			"time_range": map[string]interface{}{
				"type":        "string",
				"description": "Time filter: day, week, month, year (empty = no filter)",
				"enum":        []string{"", "day", "week", "month", "year"},
				"default":     "",
			},
		},
		"required": []string{"query"},
	}
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return domaintool.NewErrorResult("'query' parameter is required"), nil
	}
	if t.endpoint == "" {
		return domaintool.NewErrorResult("web_search is not configured (no search endpoint)"), nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	if timeRange, ok := args["time_range"].(string); ok && timeRange != "" {
		q.Set("time_range", timeRange)
	}

	reqURL := t.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	t.logger.Info("executing web search", zap.String("query", query))

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("web search request failed", zap.Error(err))
		return domaintool.NewErrorResult(fmt.Sprintf("search request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domaintool.NewErrorResult(fmt.Sprintf("search response parse failed: %v", err)), nil
	}

	if len(parsed.Results) == 0 {
		return domaintool.NewResult(fmt.Sprintf(`{"query":%q,"results":[]}`, query)), nil
	}

	out, err := json.Marshal(parsed.Results)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}
	return domaintool.NewResult(string(out)), nil
}
