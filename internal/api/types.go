package api

import "vaultsearch/internal/domain"

// DefaultTopK is used when a search request omits top_k.
const DefaultTopK = 6

// NoteChange is one entry of a refresh request. The note_* keys sent by the
// Obsidian plugin are accepted as aliases.
type NoteChange struct {
	Path         string   `json:"path"`
	Tags         []string `json:"tags"`
	Content      string   `json:"content"`
	PathToDelete string   `json:"path_to_delete"`

	NotePath    string   `json:"note_path,omitempty"`
	NoteTags    []string `json:"note_tags,omitempty"`
	NoteContent string   `json:"note_content,omitempty"`
}

func (n NoteChange) change() domain.Change {
	c := domain.Change{Path: n.Path, Tags: n.Tags, Content: n.Content, PathToDelete: n.PathToDelete}
	if c.Path == "" {
		c.Path = n.NotePath
	}
	if c.Tags == nil {
		c.Tags = n.NoteTags
	}
	if c.Content == "" {
		c.Content = n.NoteContent
	}
	return c
}

type RefreshRequest struct {
	Notes []NoteChange `json:"notes"`
}

type EntryError struct {
	Index int    `json:"index"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

type RefreshResponse struct {
	Status   string       `json:"status"`
	Upserted int          `json:"upserted"`
	Deleted  int          `json:"deleted"`
	Errors   []EntryError `json:"errors"`
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type SearchResult struct {
	Score   float64  `json:"score"`
	Path    string   `json:"path"`
	Name    string   `json:"name"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// ToSearchResults converts ranked hits into their wire form.
func ToSearchResults(res []domain.Result) []SearchResult {
	out := make([]SearchResult, len(res))
	for i, r := range res {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		out[i] = SearchResult{Score: r.Score, Path: r.Path, Name: r.Name, Content: r.Content, Tags: tags}
	}
	return out
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Notes  int    `json:"notes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
