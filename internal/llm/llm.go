package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

const (
	// DefaultModel is the default chat model for synthesis and extraction.
	DefaultModel = "gpt-4.1"
	// DefaultEmbeddingModel is the default model for generating embeddings.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDim is the output dimension of the embedding model.
	DefaultEmbeddingDim = 1536
)

// CompletionService is the chat-completion surface the pipeline
// components consume. Tests substitute stubs.
type CompletionService interface {
	// Complete runs a plain chat completion and returns the text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CompleteJSON runs a structured completion and unmarshals the JSON
	// payload into out.
	CompleteJSON(ctx context.Context, req CompletionRequest, out any) error
}

// EmbeddingService is the batch embedding surface.
type EmbeddingService interface {
	// Embed returns one vector per input text, in order, from a single
	// API call.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// Dim returns the fixed embedding dimension.
	Dim() int
}

// CompletionRequest describes one chat completion.
type CompletionRequest struct {
	System      string
	User        string
	Model       string // optional override of the client default
	Temperature float64
	MaxTokens   int64
}

// Client wraps the OpenAI SDK for completions and embeddings.
type Client struct {
	api            openai.Client
	model          string
	embeddingModel string
	embeddingDim   int
}

// NewClient creates an LLM client. Empty model names fall back to the
// package defaults.
func NewClient(apiKey, model, embeddingModel string, embeddingDim int) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if embeddingDim <= 0 {
		embeddingDim = DefaultEmbeddingDim
	}
	return &Client{
		api:            openai.NewClient(option.WithAPIKey(apiKey)),
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDim:   embeddingDim,
	}, nil
}

// Complete runs a chat completion and returns the raw text response.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	params := c.buildParams(req)

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// CompleteJSON runs a completion in JSON mode and unmarshals the result
// into out. Markdown code fences are tolerated for prompts that predate
// structured output.
func (c *Client) CompleteJSON(ctx context.Context, req CompletionRequest, out any) error {
	params := c.buildParams(req)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("structured completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty response from model")
	}

	payload := StripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return nil
}

func (c *Client) buildParams(req CompletionRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	return params
}

// Embed returns embeddings for all texts from a single batch call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Dim returns the embedding dimension.
func (c *Client) Dim() int { return c.embeddingDim }

// StripFences removes a surrounding markdown code fence, with or
// without a json language tag, from a model response.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
