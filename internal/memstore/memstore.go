package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tangent/internal/core"
	"tangent/internal/logger"
)

// DefaultBaseURL is the Supermemory API endpoint.
const DefaultBaseURL = "https://api.supermemory.ai"

// Store is the memory-store surface consumed by the routers. Tests
// substitute stubs.
type Store interface {
	// Search queries stored memories. An empty query is a recency
	// probe: the store returns its most recently touched memories.
	Search(ctx context.Context, query string, opts SearchOptions) ([]core.Memory, error)
	// Get fetches one memory by id.
	Get(ctx context.Context, id string) (*core.Memory, error)
	// GetRelated walks the memory graph out from an anchor, keeping
	// only neighbors connected by the given edge kinds.
	GetRelated(ctx context.Context, anchorID string, kinds []core.EdgeKind) ([]core.Memory, error)
	// Add stores new content and returns its id. A non-empty customID
	// becomes the store-side custom identifier.
	Add(ctx context.Context, content string, metadata map[string]any, customID string) (string, error)
	// List pages through stored memories.
	List(ctx context.Context, limit, page int) ([]core.Memory, Pagination, error)
}

// SearchOptions tunes one memory search.
type SearchOptions struct {
	Limit          int
	Threshold      float64
	IncludeRelated bool
}

// Pagination reports list paging state.
type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalItems  int `json:"totalItems"`
}

// Client calls the Supermemory API.
type Client struct {
	apiKey       string
	baseURL      string
	containerTag string
	client       *http.Client
}

// NewClient creates a memory-store client. An empty baseURL uses the
// production endpoint.
func NewClient(apiKey, baseURL, containerTag string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		containerTag: containerTag,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Wire DTOs. Conversion to core types happens at this boundary only.

type relatedMemory struct {
	Relation string `json:"relation"`
	Memory   string `json:"memory"`
	Version  int    `json:"version"`
}

type memoryContext struct {
	Parents  []relatedMemory `json:"parents"`
	Children []relatedMemory `json:"children"`
}

type searchHit struct {
	ID         string         `json:"id"`
	Memory     string         `json:"memory"`
	Similarity float64        `json:"similarity"`
	UpdatedAt  string         `json:"updatedAt"`
	Context    *memoryContext `json:"context"`
	Documents  []struct {
		ID string `json:"id"`
	} `json:"documents"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

type memoryDetail struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type addResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type listEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type listResponse struct {
	Memories   []listEntry `json:"memories"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
		TotalPages  int `json:"totalPages"`
		TotalItems  int `json:"totalItems"`
	} `json:"pagination"`
}

// Search queries stored memories. Related parents come back as their
// stated edge kind; children get a child_ prefix so graph walks can
// tell direction apart.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]core.Memory, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.5
	}

	body := map[string]any{
		"limit":     opts.Limit,
		"threshold": opts.Threshold,
		"rerank":    true,
	}
	if query != "" {
		body["q"] = query
	}
	if c.containerTag != "" {
		body["containerTag"] = c.containerTag
	}
	if opts.IncludeRelated {
		body["include"] = map[string]any{
			"relatedMemories": true,
			"documents":       true,
		}
	}

	var resp searchResponse
	if err := c.do(ctx, "POST", "/v4/search", body, &resp); err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	memories := make([]core.Memory, 0, len(resp.Results))
	for _, hit := range resp.Results {
		m := core.Memory{
			ID:         hit.ID,
			Content:    hit.Memory,
			Similarity: hit.Similarity,
			CreatedAt:  parseDate(hit.UpdatedAt),
		}
		if hit.Context != nil {
			for _, p := range hit.Context.Parents {
				kind := p.Relation
				if kind == "" {
					kind = "extends"
				}
				m.Relationships = append(m.Relationships, core.Relationship{
					Kind:    core.EdgeKind(kind),
					Content: p.Memory,
					Version: p.Version,
				})
			}
			for _, ch := range hit.Context.Children {
				kind := ch.Relation
				if kind == "" {
					kind = "derives"
				}
				m.Relationships = append(m.Relationships, core.Relationship{
					Kind:    core.EdgeKind("child_" + kind),
					Content: ch.Memory,
					Version: ch.Version,
				})
			}
		}
		if len(hit.Documents) > 0 {
			m.SourceDocID = hit.Documents[0].ID
		}
		memories = append(memories, m)
	}

	logger.Debug("memory search completed", map[string]any{"results": len(memories)})
	return memories, nil
}

// Get fetches one memory by id. Similarity is 1.0 since this is a
// direct lookup.
func (c *Client) Get(ctx context.Context, id string) (*core.Memory, error) {
	var resp memoryDetail
	if err := c.do(ctx, "GET", "/v3/memories/"+id, nil, &resp); err != nil {
		return nil, fmt.Errorf("memory get failed: %w", err)
	}
	return &core.Memory{
		ID:           resp.ID,
		Content:      resp.Content,
		Similarity:   1.0,
		CreatedAt:    parseDate(resp.CreatedAt),
		LastAccessed: parseDate(resp.UpdatedAt),
		SourceDocID:  id,
	}, nil
}

// GetRelated loads the anchor, re-searches on its content prefix at a
// low threshold so graph-connected memories surface, then keeps only
// neighbors reached through one of the requested edge kinds.
func (c *Client) GetRelated(ctx context.Context, anchorID string, kinds []core.EdgeKind) ([]core.Memory, error) {
	if len(kinds) == 0 {
		kinds = []core.EdgeKind{core.EdgeDerives, core.EdgeExtends, core.EdgeUpdates}
	}

	anchor, err := c.Get(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil || anchor.Content == "" {
		return nil, nil
	}

	probe := anchor.Content
	if len(probe) > 500 {
		probe = probe[:500]
	}

	related, err := c.Search(ctx, probe, SearchOptions{
		Limit:          10,
		Threshold:      0.3,
		IncludeRelated: true,
	})
	if err != nil {
		return nil, err
	}

	return FilterByEdgeKinds(related, kinds), nil
}

// FilterByEdgeKinds keeps memories with at least one relationship of a
// requested kind. The child_ direction prefix is ignored during
// matching.
func FilterByEdgeKinds(memories []core.Memory, kinds []core.EdgeKind) []core.Memory {
	wanted := make(map[core.EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	var result []core.Memory
	for _, m := range memories {
		for _, rel := range m.Relationships {
			kind := core.EdgeKind(strings.TrimPrefix(string(rel.Kind), "child_"))
			if wanted[kind] {
				result = append(result, m)
				break
			}
		}
	}
	return result
}

// Add stores new content. The store extracts memories and builds graph
// edges asynchronously on its side. An empty customID is omitted from
// the request.
func (c *Client) Add(ctx context.Context, content string, metadata map[string]any, customID string) (string, error) {
	body := map[string]any{
		"content": content,
	}
	if c.containerTag != "" {
		body["containerTag"] = c.containerTag
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	if customID != "" {
		body["customId"] = customID
	}

	var resp addResponse
	if err := c.do(ctx, "POST", "/v3/memories", body, &resp); err != nil {
		return "", fmt.Errorf("memory add failed: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("memory add returned no id")
	}

	logger.Info("memory stored", map[string]any{"id": resp.ID, "status": resp.Status})
	return resp.ID, nil
}

// List pages through stored memories. Entries carry a title or summary
// rather than full content.
func (c *Client) List(ctx context.Context, limit, page int) ([]core.Memory, Pagination, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	path := "/v3/memories?limit=" + strconv.Itoa(limit) + "&page=" + strconv.Itoa(page)
	if c.containerTag != "" {
		path += "&containerTags=" + c.containerTag
	}

	var resp listResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, Pagination{}, fmt.Errorf("memory list failed: %w", err)
	}

	memories := make([]core.Memory, 0, len(resp.Memories))
	for _, e := range resp.Memories {
		content := e.Title
		if content == "" {
			content = e.Summary
		}
		memories = append(memories, core.Memory{
			ID:           e.ID,
			Content:      content,
			Similarity:   1.0,
			CreatedAt:    parseDate(e.CreatedAt),
			LastAccessed: parseDate(e.UpdatedAt),
			SourceDocID:  e.ID,
		})
	}

	p := Pagination{
		CurrentPage: resp.Pagination.CurrentPage,
		TotalPages:  resp.Pagination.TotalPages,
		TotalItems:  resp.Pagination.TotalItems,
	}
	if p.CurrentPage == 0 {
		p.CurrentPage = page
	}
	if p.TotalPages == 0 {
		p.TotalPages = 1
	}
	if p.TotalItems == 0 {
		p.TotalItems = len(memories)
	}
	return memories, p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
