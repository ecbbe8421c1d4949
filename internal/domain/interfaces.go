package domain

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Note is a single vault entry as yielded by a note source.
type Note struct {
	Path    string
	Tags    []string
	Content string
}

// Record is a note together with the text fed to the embedder and its vector.
// A record whose Embedding is empty is pending and never reaches a query.
type Record struct {
	Note
	EmbeddingText string
	Embedding     []float64
}

// Pending reports whether the record has no embedding yet.
func (r Record) Pending() bool { return len(r.Embedding) == 0 }

// Change is one entry of an incremental refresh request.
// PathToDelete alone is a delete; Path and Content alone are an upsert;
// both together are a move.
type Change struct {
	Path         string
	Tags         []string
	Content      string
	PathToDelete string
}

// IsDelete reports whether the change only removes a path.
func (c Change) IsDelete() bool {
	return c.PathToDelete != "" && c.Path == "" && c.Content == ""
}

// IsMove reports whether the change removes one path and writes another.
func (c Change) IsMove() bool {
	return c.PathToDelete != "" && c.Path != "" && c.PathToDelete != c.Path
}

// Result is a ranked search hit with its denormalized payload.
type Result struct {
	Score   float64
	Path    string
	Name    string
	Content string
	Tags    []string
}

// NoteName returns the last element of a note path, as shown to users.
func NoteName(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

// EmbeddingText renders the canonical string embedded for a note.
func EmbeddingText(notePath string, tags []string, content string) string {
	return fmt.Sprintf("File:\n%s\nTags:\n[%s]\nContent:\n%s", notePath, strings.Join(tags, " "), content)
}

// NewRecord derives the pending record for a note.
func NewRecord(n Note) Record {
	tags := append([]string(nil), n.Tags...)
	return Record{
		Note:          Note{Path: n.Path, Tags: tags, Content: n.Content},
		EmbeddingText: EmbeddingText(n.Path, tags, n.Content),
	}
}

// Embedder converts free text into a numeric vector representation.
// Implementations must be deterministic for a given model and text.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedOne(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// NoteSource enumerates every note of a vault.
type NoteSource interface {
	Notes(ctx context.Context) ([]Note, error)
}

// Summarizer produces a brief excerpt of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
