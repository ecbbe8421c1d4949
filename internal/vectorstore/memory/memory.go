package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/vectorstore"
)

// Storage is an in-memory corpus with copy-on-write snapshots.
// Readers load the current snapshot without locking; writers serialize on mu,
// build a new snapshot and swap it in.
type Storage struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// Snapshot is an immutable ordered view of the corpus.
type Snapshot struct {
	records   []domain.Record
	index     map[string]int
	dimension int
}

func NewStorage() *Storage {
	s := &Storage{}
	s.current.Store(emptySnapshot())
	return s
}

func emptySnapshot() *Snapshot {
	return &Snapshot{index: map[string]int{}}
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// Records returns the records in corpus order. Callers must not modify them.
func (s *Snapshot) Records() []domain.Record { return s.records }

// Get returns the record stored at path.
func (s *Snapshot) Get(path string) (domain.Record, bool) {
	i, ok := s.index[path]
	if !ok {
		return domain.Record{}, false
	}
	return s.records[i], true
}

// Dimension returns the shared embedding dimension, 0 when empty.
func (s *Snapshot) Dimension() int { return s.dimension }

func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		records:   make([]domain.Record, len(s.records), len(s.records)+1),
		index:     make(map[string]int, len(s.index)+1),
		dimension: s.dimension,
	}
	copy(out.records, s.records)
	for k, v := range s.index {
		out.index[k] = v
	}
	return out
}

func (s *Snapshot) upsert(rec domain.Record) error {
	if rec.Path == "" {
		return vectorstore.ErrEmptyPath
	}
	if rec.Pending() {
		return fmt.Errorf("%s: %w", rec.Path, vectorstore.ErrPendingRecord)
	}
	if s.dimension == 0 || len(s.records) == 0 {
		s.dimension = len(rec.Embedding)
	} else if len(rec.Embedding) != s.dimension {
		return fmt.Errorf("%s: %w: got %d, want %d", rec.Path, vectorstore.ErrDimensionMismatch, len(rec.Embedding), s.dimension)
	}
	if i, ok := s.index[rec.Path]; ok {
		s.records[i] = rec
		return nil
	}
	s.index[rec.Path] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

func (s *Snapshot) delete(path string) {
	i, ok := s.index[path]
	if !ok {
		return
	}
	delete(s.index, path)
	s.records = append(s.records[:i], s.records[i+1:]...)
	for j := i; j < len(s.records); j++ {
		s.index[s.records[j].Path] = j
	}
}

func (s *Snapshot) apply(muts []vectorstore.Mutation) error {
	for _, m := range muts {
		if m.Delete {
			s.delete(m.Path)
			continue
		}
		if err := s.upsert(m.Record); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts or fully replaces the record at rec.Path.
func (s *Storage) Upsert(rec domain.Record) error {
	return s.Apply(vectorstore.UpsertOf(rec))
}

// Delete removes path if present. Deleting an absent path is a no-op.
func (s *Storage) Delete(path string) {
	_ = s.Apply(vectorstore.DeleteOf(path))
}

// Apply installs all mutations in order as one atomic change. If any mutation
// is invalid nothing is installed.
func (s *Storage) Apply(muts ...vectorstore.Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Load().clone()
	if err := next.apply(muts); err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}

// Replace swaps in a corpus built from recs, then replays mutations on top of
// it, in a single atomic change. Later duplicates of a path win.
func (s *Storage) Replace(recs []domain.Record, replay ...vectorstore.Mutation) error {
	next := &Snapshot{
		records: make([]domain.Record, 0, len(recs)),
		index:   make(map[string]int, len(recs)),
	}
	for _, rec := range recs {
		if err := next.upsert(rec); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := next.apply(replay); err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}

// Snapshot returns the current immutable corpus view.
func (s *Storage) Snapshot() vectorstore.View { return s.current.Load() }

// Get looks up the latest record stored at path.
func (s *Storage) Get(path string) (domain.Record, bool) { return s.current.Load().Get(path) }

// Size returns the number of records currently stored.
func (s *Storage) Size() int { return s.current.Load().Len() }
