package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultSearchCount = 5

// SearchResult is one entry returned by the web search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchResponse is the structured output of the web_search tool.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Summary string         `json:"summary,omitempty"`
}

// WebSearch calls an HTTP search backend. The endpoint is expected to
// accept ?q=<query>&count=<n> and return a SearchResponse-shaped JSON body.
type WebSearch struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebSearch creates the web search tool against the given endpoint.
func NewWebSearch(endpoint string, timeout time.Duration, logger *slog.Logger) *WebSearch {
	return &WebSearch{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "web_search"),
	}
}

// Definition returns the registry definition for the tool.
func (w *WebSearch) Definition() Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the web for current information. Returns a list of results with titles, URLs, and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return.",
				},
			},
			"required": []string{"query"},
		},
		Handler: w.search,
	}
}

func (w *WebSearch) search(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query argument is required")
	}

	count := defaultSearchCount
	switch v := args["count"].(type) {
	case float64:
		count = int(v)
	case int:
		count = v
	}
	if count <= 0 {
		count = defaultSearchCount
	}

	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	w.logger.DebugContext(ctx, "web search completed", "query", query, "results", len(out.Results))
	return out, nil
}
