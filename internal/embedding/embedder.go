// Package embedding builds the configured embedding provider.
package embedding

import (
	"context"
	"fmt"
	"time"

	"vaultsearch/internal/config"
	"vaultsearch/internal/domain"
	"vaultsearch/internal/embedding/gemini"
	"vaultsearch/internal/embedding/hashing"
	"vaultsearch/internal/embedding/openai"
)

// New creates the embedder selected by cfg.Type.
func New(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		dim := 0
		if cfg.Hashing != nil {
			dim = cfg.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		c, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.OpenAI.MaxRetries,
			AllowNoKey: cfg.OpenAI.AllowNoKey,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "gemini":
		if cfg.Gemini == nil {
			return nil, fmt.Errorf("gemini embedder config missing")
		}
		g, err := gemini.NewEmbedder(ctx, gemini.Config{
			APIKeyEnv:            cfg.Gemini.APIKeyEnv,
			Model:                cfg.Gemini.Model,
			OutputDimensionality: cfg.Gemini.OutputDimensionality,
			MaxBatch:             cfg.Gemini.MaxBatch,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}
