package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tangent/internal/core"
	"tangent/internal/logger"
)

// DefaultBaseURL is the Exa API endpoint.
const DefaultBaseURL = "https://api.exa.ai"

// Searcher is the web-search surface consumed by the routers. Tests
// substitute stubs.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]core.SearchResult, error)
	FindSimilar(ctx context.Context, pageURL string, numResults int) ([]core.SearchResult, error)
	GetContents(ctx context.Context, urls []string) ([]core.SearchResult, error)
	SearchForConnections(ctx context.Context, concepts []string, mainSubject string, numResults int) ([]core.SearchResult, error)
}

// SearchOptions tunes one neural search call.
type SearchOptions struct {
	NumResults     int
	ExcludeDomains []string
	MaxCharacters  int
	UseAutoprompt  bool
}

// Client calls the Exa neural search API.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates an Exa search client. An empty baseURL uses the
// production endpoint.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type exaResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"publishedDate"`
}

type exaResponse struct {
	Results []exaResult `json:"results"`
}

// Search performs a neural semantic web search.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]core.SearchResult, error) {
	if opts.NumResults <= 0 {
		opts.NumResults = 5
	}
	if opts.MaxCharacters <= 0 {
		opts.MaxCharacters = 2000
	}

	body := map[string]any{
		"query":         query,
		"type":          "neural",
		"numResults":    opts.NumResults,
		"useAutoprompt": opts.UseAutoprompt,
		"contents": map[string]any{
			"text": map[string]any{"maxCharacters": opts.MaxCharacters},
		},
	}
	if len(opts.ExcludeDomains) > 0 {
		body["excludeDomains"] = opts.ExcludeDomains
	}

	var resp exaResponse
	if err := c.post(ctx, "/search", body, &resp); err != nil {
		return nil, fmt.Errorf("exa search failed: %w", err)
	}

	results := convertResults(resp.Results, 0)
	logger.Debug("Exa search completed", map[string]any{"query": query, "results": len(results)})
	return results, nil
}

// FindSimilar finds web pages similar to a given URL, excluding the
// source domain.
func (c *Client) FindSimilar(ctx context.Context, pageURL string, numResults int) ([]core.SearchResult, error) {
	if numResults <= 0 {
		numResults = 5
	}

	body := map[string]any{
		"url":                 pageURL,
		"numResults":          numResults,
		"excludeSourceDomain": true,
		"contents": map[string]any{
			"text": map[string]any{"maxCharacters": 2000},
		},
	}

	var resp exaResponse
	if err := c.post(ctx, "/findSimilar", body, &resp); err != nil {
		return nil, fmt.Errorf("exa findSimilar failed: %w", err)
	}
	return convertResults(resp.Results, 0), nil
}

// GetContents fetches the text of specific URLs. Scores are fixed at
// 1.0 since the caller asked for these pages directly.
func (c *Client) GetContents(ctx context.Context, urls []string) ([]core.SearchResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"urls": urls,
		"text": map[string]any{"maxCharacters": 8000},
	}

	var resp exaResponse
	if err := c.post(ctx, "/contents", body, &resp); err != nil {
		return nil, fmt.Errorf("exa contents failed: %w", err)
	}
	return convertResults(resp.Results, 1.0), nil
}

// SearchForConnections searches the web for material connected to the
// extracted concepts while filtering out pages that restate the main
// subject. It over-fetches so the redundancy filter still leaves enough
// results.
func (c *Client) SearchForConnections(ctx context.Context, concepts []string, mainSubject string, numResults int) ([]core.SearchResult, error) {
	if len(concepts) == 0 {
		return nil, nil
	}
	if numResults <= 0 {
		numResults = 5
	}

	query := strings.Join(concepts, " ")
	raw, err := c.Search(ctx, query, SearchOptions{
		NumResults:    numResults * 2,
		UseAutoprompt: true,
	})
	if err != nil {
		return nil, err
	}

	results := FilterRedundant(raw, mainSubject)
	if len(results) > numResults {
		results = results[:numResults]
	}
	return results, nil
}

// FilterRedundant drops results whose title or text mentions the main
// subject, case-insensitively. An empty subject passes everything.
func FilterRedundant(results []core.SearchResult, mainSubject string) []core.SearchResult {
	subject := strings.ToLower(strings.TrimSpace(mainSubject))
	if subject == "" {
		return results
	}

	filtered := make([]core.SearchResult, 0, len(results))
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Title), subject) ||
			strings.Contains(strings.ToLower(r.Text), subject) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func convertResults(items []exaResult, scoreOverride float64) []core.SearchResult {
	results := make([]core.SearchResult, 0, len(items))
	for _, item := range items {
		score := item.Score
		if scoreOverride > 0 {
			score = scoreOverride
		} else if score == 0 {
			score = 0.8
		}
		results = append(results, core.SearchResult{
			Title:         item.Title,
			URL:           item.URL,
			Text:          item.Text,
			Score:         score,
			PublishedDate: item.PublishedDate,
		})
	}
	return results
}
