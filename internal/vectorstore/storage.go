package vectorstore

import (
	"errors"

	"vaultsearch/internal/domain"
)

var (
	ErrPendingRecord     = errors.New("record has no embedding")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyPath         = errors.New("record path is empty")
)

// Mutation is one ordered step of an atomic corpus change.
// A mutation with Delete set removes Path; otherwise Record is upserted.
type Mutation struct {
	Delete bool
	Path   string
	Record domain.Record
}

// UpsertOf builds an upsert mutation.
func UpsertOf(rec domain.Record) Mutation { return Mutation{Path: rec.Path, Record: rec} }

// DeleteOf builds a delete mutation.
func DeleteOf(path string) Mutation { return Mutation{Delete: true, Path: path} }

// View is an immutable point-in-time corpus.
type View interface {
	Len() int
	Records() []domain.Record
	Get(path string) (domain.Record, bool)
}

// Storage owns the corpus and all of its mutation.
type Storage interface {
	Upsert(rec domain.Record) error
	Delete(path string)
	Apply(muts ...Mutation) error
	Replace(recs []domain.Record, replay ...Mutation) error
	Snapshot() View
	Get(path string) (domain.Record, bool)
	Size() int
}
