// Package vault reads notes from a directory tree and watches it for changes.
package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"vaultsearch/internal/domain"
)

var _ domain.NoteSource = (*Reader)(nil)

// Reader enumerates the notes under Root whose extension is in Extensions.
// Directories whose name starts with a dot (.obsidian, .git, .trash) are skipped.
type Reader struct {
	Root       string
	Extensions []string
	Logger     *zap.Logger
}

// NewReader creates a Reader; extensions default to ".md".
func NewReader(root string, extensions []string, logger *zap.Logger) *Reader {
	if len(extensions) == 0 {
		extensions = []string{".md"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{Root: root, Extensions: extensions, Logger: logger.Named("vault")}
}

// Notes walks the vault and loads every matching file.
func (r *Reader) Notes(ctx context.Context) ([]domain.Note, error) {
	var notes []domain.Note
	err := filepath.WalkDir(r.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != r.Root && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.Supported(p) {
			return nil
		}
		n, err := r.Load(p)
		if err != nil {
			r.Logger.Warn("skipping unreadable note", zap.String("file", p), zap.Error(err))
			return nil
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault %s: %w", r.Root, err)
	}
	r.Logger.Debug("vault scanned", zap.String("root", r.Root), zap.Int("notes", len(notes)))
	return notes, nil
}

// Load reads a single file into a Note keyed by its vault-relative path.
func (r *Reader) Load(file string) (domain.Note, error) {
	rel, err := r.Rel(file)
	if err != nil {
		return domain.Note{}, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return domain.Note{}, err
	}
	return domain.Note{Path: rel, Tags: ExtractTags(data), Content: string(data)}, nil
}

// Rel converts a filesystem path into the slash-separated vault path.
func (r *Reader) Rel(file string) (string, error) {
	rel, err := filepath.Rel(r.Root, file)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%s is outside vault %s", file, r.Root)
	}
	return filepath.ToSlash(rel), nil
}

// Supported reports whether file has an indexed extension and no hidden
// directory on its vault-relative path.
func (r *Reader) Supported(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	ok := false
	for _, e := range r.Extensions {
		if strings.ToLower(e) == ext {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	rel, err := r.Rel(file)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if hidden(part) {
			return false
		}
	}
	return true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
