package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// OllamaClient generates embeddings via a local Ollama instance. All HTTP
// calls go through a circuit breaker and an outbound rate limiter so a
// slow or failing model server cannot pile up requests.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
	model          string
	dimension      int
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimension is the vector dimension the model produces (default: 768).
	Dimension int

	// Timeout is the per-request timeout (default: 5s). This is the bound
	// on how long any core operation blocks on embedding generation.
	Timeout time.Duration

	// RequestsPerSecond caps outbound calls (default: 10).
	RequestsPerSecond float64
}

// embedRequest is the body for the /api/embed endpoint.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the /api/embed response. Embeddings is a 2D array; we
// always use the first (and only) row.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaClient creates an Ollama embedding client with the given
// configuration, applying defaults for unset fields.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 10
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreaker(),
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), int(config.RequestsPerSecond)),
		model:          config.Model,
		dimension:      config.Dimension,
	}
}

// Embed generates a vector embedding for the given text. Timeouts, HTTP
// failures, and an open circuit all surface as ErrUnavailable so callers
// take the degraded path rather than propagating transport errors.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.doEmbed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return result.([]float64), nil
}

// doEmbed performs one HTTP call to /api/embed.
func (c *OllamaClient) doEmbed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed request returned %d: %s", resp.StatusCode, data)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed response contained no embedding")
	}

	embedding := parsed.Embeddings[0]
	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimension, len(embedding))
	}

	return embedding, nil
}

// Model returns the embedding model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// Dimension returns the vector dimension the model produces.
func (c *OllamaClient) Dimension() int {
	return c.dimension
}

var _ Embedder = (*OllamaClient)(nil)
