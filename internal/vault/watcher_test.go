package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vaultsearch/internal/domain"
)

type recordingRefresher struct {
	mu      sync.Mutex
	batches [][]domain.Change
	err     error
}

func (r *recordingRefresher) Refresh(_ context.Context, changes []domain.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changes)
	return r.err
}

func (r *recordingRefresher) all() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Change
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func TestWatcherFlush(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.md", "alpha #x")
	gone := filepath.Join(root, "gone.md")

	rec := &recordingRefresher{}
	w := NewWatcher(NewReader(root, nil, nil), rec, time.Millisecond)
	w.queue(a)
	w.queue(gone)
	w.Flush(context.Background())

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("changes = %+v", got)
	}
	if got[0].Path != "a.md" || got[0].Content != "alpha #x" || len(got[0].Tags) != 1 {
		t.Errorf("upsert = %+v", got[0])
	}
	if !got[1].IsDelete() || got[1].PathToDelete != "gone.md" {
		t.Errorf("delete = %+v", got[1])
	}

	// unchanged content is not re-sent
	w.queue(a)
	w.Flush(context.Background())
	if n := len(rec.all()); n != 2 {
		t.Fatalf("unchanged file refreshed again: %d changes", n)
	}
}

func TestWatcherFlushRetriesAfterFailure(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.md", "alpha")
	rec := &recordingRefresher{err: errors.New("not ready")}
	w := NewWatcher(NewReader(root, nil, nil), rec, time.Millisecond)

	w.queue(a)
	w.Flush(context.Background())
	rec.err = nil
	w.queue(a)
	w.Flush(context.Background())
	if n := len(rec.all()); n != 2 {
		t.Fatalf("changes = %d, want the failed upsert sent again", n)
	}
}

func TestWatcherFlushBlankNoteIsDelete(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.md", "alpha")
	blank := writeFile(t, root, "Untitled.md", "")
	spaces := writeFile(t, root, "spaces.md", "  \n\t\n")

	rec := &recordingRefresher{}
	w := NewWatcher(NewReader(root, nil, nil), rec, time.Millisecond)
	w.queue(a)
	w.queue(blank)
	w.queue(spaces)
	w.Flush(context.Background())

	got := rec.all()
	if len(got) != 3 {
		t.Fatalf("changes = %+v", got)
	}
	for _, c := range got {
		if c.Path != "" && c.Content == "" {
			t.Errorf("blank note sent as upsert: %+v", c)
		}
	}
	if !got[0].IsDelete() || got[0].PathToDelete != "Untitled.md" {
		t.Errorf("blank note = %+v, want delete", got[0])
	}
	if got[1].Path != "a.md" {
		t.Errorf("upsert = %+v", got[1])
	}
	if !got[2].IsDelete() || got[2].PathToDelete != "spaces.md" {
		t.Errorf("whitespace note = %+v, want delete", got[2])
	}

	// the real note stays remembered
	w.queue(a)
	w.Flush(context.Background())
	if n := len(rec.all()); n != 3 {
		t.Fatalf("unchanged note refreshed again: %d changes", n)
	}
}

func TestWatcherRun(t *testing.T) {
	root := t.TempDir()
	rec := &recordingRefresher{}
	w := NewWatcher(NewReader(root, nil, nil), rec, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor := func(cond func([]domain.Change) bool) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if cond(rec.all()) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out, changes = %+v", rec.all())
	}

	// the watch is registered asynchronously; keep touching the file until seen
	p := filepath.Join(root, "sub", "n.md")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; len(rec.all()) == 0 && time.Now().Before(deadline); i++ {
		if err := os.WriteFile(p, []byte("note "+string(rune('a'+i%26))), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	waitFor(func(cs []domain.Change) bool {
		for _, c := range cs {
			if c.Path == "sub/n.md" {
				return true
			}
		}
		return false
	})

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	waitFor(func(cs []domain.Change) bool {
		for _, c := range cs {
			if c.IsDelete() && c.PathToDelete == "sub/n.md" {
				return true
			}
		}
		return false
	})
}
