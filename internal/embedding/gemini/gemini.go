package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"google.golang.org/genai"
)

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	// OutputDimensionality truncates vectors when the model supports it. 0 keeps the model default.
	OutputDimensionality int
	// MaxBatch caps the number of texts per request.
	MaxBatch int
}

// embedFunc is the subset of genai.Models the embedder calls.
type embedFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// Embedder computes embeddings through the Gemini API.
type Embedder struct {
	model     string
	config    *genai.EmbedContentConfig
	maxBatch  int
	embed     embedFunc
	dimension atomic.Int64
}

// NewEmbedder creates a Gemini-backed embedder.
func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newEmbedder(cfg, client.Models.EmbedContent), nil
}

func newEmbedder(cfg Config, fn embedFunc) *Embedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	var ecfg *genai.EmbedContentConfig
	if cfg.OutputDimensionality > 0 {
		dim := int32(cfg.OutputDimensionality)
		ecfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	return &Embedder{model: cfg.Model, config: ecfg, maxBatch: cfg.MaxBatch, embed: fn}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "gemini" }

// Dimension returns the vector size, known after the first successful call.
func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

// EmbedOne returns the embedding of a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in requests of at most MaxBatch items.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatch {
		end := min(start+e.maxBatch, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}
		resp, err := e.embed(ctx, e.model, contents, e.config)
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Embeddings) != len(contents) {
			return nil, errors.New("gemini returned an unexpected number of embeddings")
		}
		for _, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, errors.New("empty embedding")
			}
			v := make([]float64, len(emb.Values))
			for i, x := range emb.Values {
				v[i] = float64(x)
			}
			out = append(out, v)
		}
	}
	if len(out) > 0 {
		e.dimension.CompareAndSwap(0, int64(len(out[0])))
	}
	return out, nil
}
