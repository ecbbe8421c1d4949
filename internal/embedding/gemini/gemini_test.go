package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

func fakeEmbed(calls *[]int) embedFunc {
	return func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		*calls = append(*calls, len(contents))
		resp := &genai.EmbedContentResponse{}
		for i := range contents {
			resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 1}})
		}
		return resp, nil
	}
}

func TestEmbedBatchSplitsRequests(t *testing.T) {
	var calls []int
	e := newEmbedder(Config{MaxBatch: 2}, fakeEmbed(&calls))
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if len(calls) != 2 || calls[0] != 2 || calls[1] != 1 {
		t.Errorf("calls = %v, want [2 1]", calls)
	}
	if e.Dimension() != 2 {
		t.Errorf("Dimension() = %d", e.Dimension())
	}
	if e.model != "text-embedding-004" {
		t.Errorf("default model = %q", e.model)
	}
}

func TestEmbedOnePropagatesError(t *testing.T) {
	e := newEmbedder(Config{}, func(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		return nil, errors.New("quota")
	})
	if _, err := e.EmbedOne(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

func TestEmbedRejectsShortResponse(t *testing.T) {
	e := newEmbedder(Config{}, func(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		return &genai.EmbedContentResponse{}, nil
	})
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Error("expected error for missing embeddings")
	}
}

func TestOutputDimensionality(t *testing.T) {
	e := newEmbedder(Config{OutputDimensionality: 256}, nil)
	if e.config == nil || e.config.OutputDimensionality == nil || *e.config.OutputDimensionality != 256 {
		t.Errorf("config = %+v", e.config)
	}
}

func TestNewEmbedderRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_TEST_KEY", "")
	if _, err := NewEmbedder(context.Background(), Config{APIKeyEnv: "GEMINI_TEST_KEY"}); err == nil {
		t.Error("expected missing key error")
	}
}
