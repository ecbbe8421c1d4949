package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Client is an OpenAI-compatible embeddings client implementing the Embedder interface.
// It also understands Ollama's native response shapes.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	dimension  atomic.Int64
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// AllowNoKey permits an empty API key, for local servers such as Ollama.
	AllowNoKey bool
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && !cfg.AllowNoKey {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		timeout:    t,
		client:     &http.Client{Timeout: t},
		maxRetries: retries,
		baseDelay:  200 * time.Millisecond,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors,
// known after the first successful call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// EmbedOne returns an embedding vector for the given text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in a single request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	type reqBody struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: texts, Model: c.model})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	var lastErr error
	waited := false // Retry-After already served as this attempt's backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && !waited {
			if err := sleep(ctx, c.retryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		waited = false
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("openai embeddings failed: %s", resp.Status)
			// Respect Retry-After if provided
			if ra := resp.Header.Get("Retry-After"); ra != "" && attempt < c.maxRetries {
				if secs, err := strconv.Atoi(ra); err == nil {
					if err := sleep(ctx, time.Duration(secs)*time.Second); err != nil {
						return nil, err
					}
					waited = true
				}
			}
			continue
		}

		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		vecs, err := decodeEmbeddings(payload, len(texts))
		if err != nil {
			return nil, err
		}
		c.dimension.CompareAndSwap(0, int64(len(vecs[0])))
		return vecs, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no embedding returned")
	}
	return nil, lastErr
}

func decodeEmbeddings(payload []byte, want int) ([][]float64, error) {
	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Data) > 0 {
		sort.SliceStable(openaiOut.Data, func(i, j int) bool { return openaiOut.Data[i].Index < openaiOut.Data[j].Index })
		out := make([][]float64, len(openaiOut.Data))
		for i, d := range openaiOut.Data {
			out[i] = d.Embedding
		}
		return checkShape(out, want)
	}
	// Ollama /api/embed shape: { "embeddings": [[...], ...] }
	var ollamaBatch struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(payload, &ollamaBatch); err == nil && len(ollamaBatch.Embeddings) > 0 {
		return checkShape(ollamaBatch.Embeddings, want)
	}
	// Ollama legacy shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return checkShape([][]float64{ollamaOut.Embedding}, want)
	}
	return nil, errors.New("no embedding returned")
}

func checkShape(vecs [][]float64, want int) ([][]float64, error) {
	if len(vecs) != want {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), want)
	}
	dim := len(vecs[0])
	for _, v := range vecs {
		if len(v) == 0 {
			return nil, errors.New("empty embedding")
		}
		if len(v) != dim {
			return nil, errors.New("inconsistent embedding dimensions in response")
		}
	}
	return vecs, nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := c.baseDelay << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
