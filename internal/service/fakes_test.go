package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"vaultsearch/internal/domain"
)

var errPoisoned = errors.New("provider refused text")

// keywordEmbedder counts a fixed vocabulary so test scores are predictable.
type keywordEmbedder struct {
	vocab      []string
	failAll    atomic.Bool
	batchCalls atomic.Int64
	oneCalls   atomic.Int64
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"alpha", "beta", "gamma", "delta"}}
}

func (e *keywordEmbedder) Name() string   { return "keyword" }
func (e *keywordEmbedder) Dimension() int { return len(e.vocab) }

func (e *keywordEmbedder) vector(text string) ([]float64, error) {
	if e.failAll.Load() || strings.Contains(text, "poison") {
		return nil, errPoisoned
	}
	v := make([]float64, len(e.vocab))
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		for i, w := range e.vocab {
			if tok == w {
				v[i]++
			}
		}
	}
	return v, nil
}

func (e *keywordEmbedder) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	e.oneCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text)
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	e.batchCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := e.vector(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type staticSource struct {
	notes []domain.Note
	err   error
}

func (s staticSource) Notes(context.Context) ([]domain.Note, error) {
	return s.notes, s.err
}

// gatedSource blocks until released or cancelled.
type gatedSource struct {
	notes   []domain.Note
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource(notes ...domain.Note) *gatedSource {
	return &gatedSource{notes: notes, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSource) Notes(ctx context.Context) ([]domain.Note, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return g.notes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func note(path, content string, tags ...string) domain.Note {
	return domain.Note{Path: path, Content: content, Tags: tags}
}

func upsert(path, content string, tags ...string) domain.Change {
	return domain.Change{Path: path, Content: content, Tags: tags}
}

func remove(path string) domain.Change {
	return domain.Change{PathToDelete: path}
}

func move(from, to, content string) domain.Change {
	return domain.Change{PathToDelete: from, Path: to, Content: content}
}
