package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/template-mapper/internal/pkg/retry"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient implements Embedder and Completer against the OpenAI API.
type OpenAIClient struct {
	apiKey     string
	chatModel  string
	embedModel string
	baseURL    string
	httpClient retry.HTTPDoer
}

// OpenAIOption customizes the client.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL points the client at a compatible endpoint (tests, proxies).
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the underlying HTTP doer.
func WithHTTPClient(d retry.HTTPDoer) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = d }
}

// WithModels overrides the chat and embedding models.
func WithModels(chat, embed string) OpenAIOption {
	return func(c *OpenAIClient) {
		if chat != "" {
			c.chatModel = chat
		}
		if embed != "" {
			c.embedModel = embed
		}
	}
}

// NewOpenAIClient builds a client with retrying transport.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     apiKey,
		chatModel:  "gpt-4o-mini",
		embedModel: "text-embedding-3-small",
		baseURL:    defaultOpenAIBaseURL,
		httpClient: retry.NewClient(&http.Client{Timeout: 60 * time.Second}, retry.DefaultPolicy()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed requests embedding vectors for a batch of texts, returned in input
// order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embedModel, Input: texts}, &resp); err != nil {
		return nil, &CapabilityError{Provider: "openai", Op: "embed", Err: err}
	}
	if resp.Error != nil {
		return nil, &CapabilityError{Provider: "openai", Op: "embed", Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	if len(resp.Data) != len(texts) {
		return nil, &CapabilityError{Provider: "openai", Op: "embed",
			Err: fmt.Errorf("got %d vectors for %d inputs", len(resp.Data), len(texts))}
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &CapabilityError{Provider: "openai", Op: "embed",
				Err: fmt.Errorf("vector index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

const matchTermsSystemPrompt = "You map source values to the closest matching authorized term. " +
	"Respond with a JSON object mapping each value to one of the given terms, " +
	"or to an empty string when nothing is close."

// MatchTerms asks the chat model to pick the closest authorized term for
// each value. Values the model declines stay empty in the result.
func (c *OpenAIClient) MatchTerms(ctx context.Context, values, terms []string) (map[string]string, error) {
	if len(values) == 0 {
		return map[string]string{}, nil
	}

	payload, err := json.Marshal(map[string][]string{"values": values, "terms": terms})
	if err != nil {
		return nil, err
	}

	req := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: matchTermsSystemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, &CapabilityError{Provider: "openai", Op: "match_terms", Err: err}
	}
	if resp.Error != nil {
		return nil, &CapabilityError{Provider: "openai", Op: "match_terms", Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	if len(resp.Choices) == 0 {
		return nil, &CapabilityError{Provider: "openai", Op: "match_terms", Err: fmt.Errorf("empty response")}
	}

	out, err := parseChoiceJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, &CapabilityError{Provider: "openai", Op: "match_terms", Err: err}
	}
	return out, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// parseChoiceJSON decodes a {value: term} object, tolerating a fenced code
// block around the JSON.
func parseChoiceJSON(content string) (map[string]string, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("malformed choice JSON: %w", err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
