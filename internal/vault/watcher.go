package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vaultsearch/internal/domain"
)

// Refresher applies a batch of incremental changes.
type Refresher interface {
	Refresh(ctx context.Context, changes []domain.Change) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, changes []domain.Change) error

func (f RefresherFunc) Refresh(ctx context.Context, changes []domain.Change) error {
	return f(ctx, changes)
}

// Watcher turns filesystem events under a vault into debounced refresh batches.
// Create and write events become upserts, remove and rename events deletes.
type Watcher struct {
	reader   *Reader
	target   Refresher
	debounce time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	hashes  map[string][32]byte
}

// NewWatcher creates a Watcher feeding target.
func NewWatcher(reader *Reader, target Refresher, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		reader:   reader,
		target:   target,
		debounce: debounce,
		log:      reader.Logger.Named("watcher"),
		pending:  make(map[string]struct{}),
		hashes:   make(map[string][32]byte),
	}
}

// Run watches the vault until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.reader.Root); err != nil {
		return err
	}
	w.log.Info("watching vault", zap.String("root", w.reader.Root), zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.log.Warn("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
					w.queueTree(ev.Name)
					timer.Reset(w.debounce)
					continue
				}
			}
			if !w.reader.Supported(ev.Name) {
				continue
			}
			w.log.Debug("vault event", zap.Stringer("event", ev))
			w.queue(ev.Name)
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.Flush(ctx)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.reader.Root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

// queueTree queues every supported file below a directory that appeared at once,
// such as one moved into the vault.
func (w *Watcher) queueTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && w.reader.Supported(p) {
			w.queue(p)
		}
		return nil
	})
}

func (w *Watcher) queue(file string) {
	w.mu.Lock()
	w.pending[file] = struct{}{}
	w.mu.Unlock()
}

// Flush resolves every queued path against the filesystem and refreshes the
// resulting changes. A file that still exists is upserted unless its content
// is unchanged since the last flush; a missing or blank one is deleted.
func (w *Watcher) Flush(ctx context.Context) {
	w.mu.Lock()
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
	sort.Strings(files)

	var changes []domain.Change
	sums := make(map[string][32]byte)
	for _, f := range files {
		rel, err := w.reader.Rel(f)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(f)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			changes = append(changes, domain.Change{PathToDelete: rel})
		case err != nil:
			w.log.Warn("cannot read changed note", zap.String("file", f), zap.Error(err))
		default:
			sum := sha256.Sum256(data)
			if w.unchanged(rel, sum) {
				continue
			}
			if len(bytes.TrimSpace(data)) == 0 {
				// a blank note has nothing to index
				changes = append(changes, domain.Change{PathToDelete: rel})
				continue
			}
			sums[rel] = sum
			changes = append(changes, domain.Change{Path: rel, Tags: ExtractTags(data), Content: string(data)})
		}
	}
	if len(changes) == 0 {
		return
	}
	if err := w.target.Refresh(ctx, changes); err != nil {
		w.log.Warn("vault refresh failed", zap.Int("changes", len(changes)), zap.Error(err))
		// retry on the next event for these paths
		w.forget(sums)
		return
	}
	w.remember(changes, sums)
	w.log.Info("vault changes refreshed", zap.Int("changes", len(changes)))
}

func (w *Watcher) unchanged(rel string, sum [32]byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.hashes[rel]
	return ok && prev == sum
}

func (w *Watcher) remember(changes []domain.Change, sums map[string][32]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range changes {
		if c.IsDelete() {
			delete(w.hashes, c.PathToDelete)
			continue
		}
		w.hashes[c.Path] = sums[c.Path]
	}
}

func (w *Watcher) forget(sums map[string][32]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel := range sums {
		delete(w.hashes, rel)
	}
}
