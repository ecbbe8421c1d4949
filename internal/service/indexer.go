package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/metrics"
	"vaultsearch/internal/vectorstore"
)

// Indexer owns every corpus mutation: full rebuilds from a note source and
// incremental refreshes, and the service status that goes with them.
type Indexer struct {
	store    vectorstore.Storage
	embedder domain.Embedder
	opts     options
	log      *zap.Logger

	status atomic.Value // domain.Status
	loaded atomic.Bool  // a rebuild has succeeded at least once

	rebuildMu sync.Mutex // held for the whole duration of a rebuild

	cancelMu      sync.Mutex
	cancelRebuild context.CancelFunc
	rebuildSeq    uint64

	// Refreshes applied while a rebuild computes are journaled and replayed
	// onto the rebuilt corpus in the same swap.
	journalMu  sync.Mutex
	journaling bool
	journal    []vectorstore.Mutation

	locks *pathLocks
}

// NewIndexer creates an Indexer in the loading state.
func NewIndexer(store vectorstore.Storage, embedder domain.Embedder, opts ...Option) *Indexer {
	o := buildOptions(opts)
	ix := &Indexer{
		store:    store,
		embedder: embedder,
		opts:     o,
		log:      o.logger.Named("indexer"),
		locks:    newPathLocks(),
	}
	ix.setStatus(domain.StatusLoading)
	return ix
}

// Status returns the current service status.
func (ix *Indexer) Status() domain.Status { return ix.status.Load().(domain.Status) }

func (ix *Indexer) setStatus(s domain.Status) {
	ix.status.Store(s)
	ix.opts.metrics.SetStatus(s)
}

// Rebuild recomputes the whole corpus from src and installs it atomically.
// A rebuild already in progress is cancelled and this one runs after it has
// exited. On failure the previous corpus stays in place.
func (ix *Indexer) Rebuild(ctx context.Context, src domain.NoteSource) (err error) {
	ctx, release := ix.supersede(ctx)
	defer release()

	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	initial := !ix.loaded.Load()
	ctx, span := metrics.StartSpan(ctx, "corpus.rebuild", attribute.Bool("vaultsearch.rebuild.initial", initial))
	defer func() {
		metrics.EndSpan(span, err)
		ix.opts.metrics.ObserveRebuild(start, err)
	}()

	restore := domain.StatusReady
	if initial {
		restore = domain.StatusLoading
		ix.setStatus(domain.StatusComputingEmbeddings)
	} else {
		ix.setStatus(domain.StatusRefreshing)
	}
	ix.startJournal()
	defer func() {
		if err != nil {
			ix.stopJournal()
			ix.setStatus(restore)
			ix.log.Error("rebuild failed, previous corpus kept", zap.Bool("initial", initial), zap.Error(err))
		}
	}()

	notes, err := src.Notes(ctx)
	if err != nil {
		return fmt.Errorf("enumerate notes: %w", err)
	}
	recs := dedupeNotes(notes)
	ix.log.Info("computing embeddings", zap.Int("notes", len(recs)), zap.Int("batch_size", ix.opts.batchSize), zap.String("embedder", ix.embedder.Name()))

	texts := make([]string, len(recs))
	for i := range recs {
		texts[i] = recs[i].EmbeddingText
	}
	vecs, err := ix.embedAll(ctx, texts)
	if err != nil {
		return err
	}
	for i := range recs {
		recs[i].Embedding = vecs[i]
	}

	ix.journalMu.Lock()
	replay := ix.journal
	ix.journal = nil
	ix.journaling = false
	err = ix.store.Replace(recs, replay...)
	ix.journalMu.Unlock()
	if err != nil {
		return fmt.Errorf("install corpus: %w", err)
	}

	ix.loaded.Store(true)
	ix.setStatus(domain.StatusReady)
	ix.opts.metrics.SetNotes(ix.store.Size())
	ix.log.Info("corpus ready", zap.Int("notes", ix.store.Size()), zap.Int("replayed", len(replay)), zap.Duration("took", time.Since(start)))
	return nil
}

// Rebuilding reports whether a rebuild is queued or running.
func (ix *Indexer) Rebuilding() bool {
	ix.cancelMu.Lock()
	defer ix.cancelMu.Unlock()
	return ix.cancelRebuild != nil
}

// supersede cancels any in-flight rebuild and registers ctx's cancel as the
// current one.
func (ix *Indexer) supersede(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ix.cancelMu.Lock()
	if ix.cancelRebuild != nil {
		ix.cancelRebuild()
	}
	ix.rebuildSeq++
	seq := ix.rebuildSeq
	ix.cancelRebuild = cancel
	ix.cancelMu.Unlock()

	return ctx, func() {
		cancel()
		ix.cancelMu.Lock()
		if ix.rebuildSeq == seq {
			ix.cancelRebuild = nil
		}
		ix.cancelMu.Unlock()
	}
}

func (ix *Indexer) startJournal() {
	ix.journalMu.Lock()
	ix.journaling = true
	ix.journal = nil
	ix.journalMu.Unlock()
}

func (ix *Indexer) stopJournal() {
	ix.journalMu.Lock()
	ix.journaling = false
	ix.journal = nil
	ix.journalMu.Unlock()
}

// embedAll embeds texts in batches, keeping input order.
func (ix *Indexer) embedAll(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	total := len(texts)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.concurrency)
	for start := 0; start < total; start += ix.opts.batchSize {
		end := min(start+ix.opts.batchSize, total)
		g.Go(func() error {
			vecs, err := ix.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			ix.log.Debug("embedded batch", zap.Int64("done", done.Add(int64(end-start))), zap.Int("total", total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Provider: ix.embedder.Name(), Err: err}
	}
	return out, nil
}

// dedupeNotes derives pending records, the last note of a duplicated path winning.
func dedupeNotes(notes []domain.Note) []domain.Record {
	pos := make(map[string]int, len(notes))
	out := make([]domain.Record, 0, len(notes))
	for _, n := range notes {
		if strings.TrimSpace(n.Path) == "" {
			continue
		}
		rec := domain.NewRecord(n)
		if i, ok := pos[n.Path]; ok {
			out[i] = rec
			continue
		}
		pos[n.Path] = len(out)
		out = append(out, rec)
	}
	return out
}

// EntryError reports why one refresh entry was not applied.
type EntryError struct {
	Index int
	Path  string
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

// Report summarizes an incremental refresh.
type Report struct {
	Upserted int
	Deleted  int
	Failed   []EntryError
}

// Err joins every entry failure, nil when all entries were applied.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i := range r.Failed {
		errs[i] = r.Failed[i]
	}
	return errors.Join(errs...)
}

type plannedEntry struct {
	index  int
	del    string
	upsert bool
	rec    domain.Record
	err    error
}

func (p *plannedEntry) path() string {
	if p.rec.Path != "" {
		return p.rec.Path
	}
	return p.del
}

func (p *plannedEntry) op() string {
	switch {
	case p.upsert && p.del != "":
		return "move"
	case p.upsert:
		return "upsert"
	case p.del != "":
		return "delete"
	default:
		return "invalid"
	}
}

func (p *plannedEntry) mutations() []vectorstore.Mutation {
	var muts []vectorstore.Mutation
	if p.del != "" && (!p.upsert || p.del != p.rec.Path) {
		muts = append(muts, vectorstore.DeleteOf(p.del))
	}
	if p.upsert {
		muts = append(muts, vectorstore.UpsertOf(p.rec))
	}
	return muts
}

func planChange(i int, c domain.Change) plannedEntry {
	p := plannedEntry{index: i}
	c.Path = strings.TrimSpace(c.Path)
	c.PathToDelete = strings.TrimSpace(c.PathToDelete)
	switch {
	case c.Path == "" && c.PathToDelete == "":
		p.err = &domain.ValidationError{Field: "path", Reason: "entry has neither path nor path_to_delete"}
	case c.IsDelete():
		p.del = c.PathToDelete
	case c.Path == "":
		p.del = c.PathToDelete
		p.err = &domain.ValidationError{Field: "path", Reason: "upsert requires a path"}
	case c.Content == "":
		p.rec = domain.Record{Note: domain.Note{Path: c.Path}}
		p.err = &domain.ValidationError{Field: "content", Reason: "upsert requires content"}
	default:
		p.del = c.PathToDelete
		p.upsert = true
		p.rec = domain.NewRecord(domain.Note{Path: c.Path, Tags: c.Tags, Content: c.Content})
	}
	return p
}

// Refresh applies a batch of incremental changes. Malformed entries and
// entries whose embedding failed are reported and skipped; every other entry
// is applied in one atomic corpus change.
func (ix *Indexer) Refresh(ctx context.Context, changes []domain.Change) (rep Report, err error) {
	if !ix.Status().Serving() {
		return Report{}, domain.ErrNotReady
	}
	ctx, span := metrics.StartSpan(ctx, "corpus.refresh", attribute.Int("vaultsearch.refresh.entries", len(changes)))
	defer func() { metrics.EndSpan(span, err) }()

	plan := make([]plannedEntry, len(changes))
	var keys []string
	for i, c := range changes {
		plan[i] = planChange(i, c)
		if plan[i].err == nil {
			keys = append(keys, plan[i].del, plan[i].rec.Path)
		}
	}

	unlock := ix.locks.Lock(keys...)
	defer unlock()

	if err := ix.embedUpserts(ctx, plan); err != nil {
		return Report{}, err
	}

	var ok []*plannedEntry
	var muts []vectorstore.Mutation
	for i := range plan {
		if plan[i].err == nil {
			ok = append(ok, &plan[i])
			muts = append(muts, plan[i].mutations()...)
		}
	}
	if err := ix.commit(muts); err != nil {
		// isolate the offending entries
		ix.log.Warn("batched refresh rejected, applying entries one by one", zap.Error(err))
		for _, p := range ok {
			p.err = ix.commit(p.mutations())
		}
	}

	for i := range plan {
		p := &plan[i]
		ix.opts.metrics.RefreshEntry(p.op(), p.err)
		if p.err != nil {
			rep.Failed = append(rep.Failed, EntryError{Index: p.index, Path: p.path(), Err: p.err})
			ix.log.Warn("refresh entry skipped", zap.Int("index", p.index), zap.String("path", p.path()), zap.Error(p.err))
			continue
		}
		if p.del != "" && (!p.upsert || p.del != p.rec.Path) {
			rep.Deleted++
		}
		if p.upsert {
			rep.Upserted++
		}
	}
	ix.opts.metrics.SetNotes(ix.store.Size())
	ix.log.Info("refresh applied", zap.Int("upserted", rep.Upserted), zap.Int("deleted", rep.Deleted), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

// embedUpserts fills the embeddings of planned upserts with one batched call,
// falling back to one call per note so a failure only affects its own entry.
func (ix *Indexer) embedUpserts(ctx context.Context, plan []plannedEntry) error {
	var idx []int
	var texts []string
	for i := range plan {
		if plan[i].err == nil && plan[i].upsert {
			idx = append(idx, i)
			texts = append(texts, plan[i].rec.EmbeddingText)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(texts) {
		for j, i := range idx {
			plan[i].rec.Embedding = vecs[j]
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil {
		err = fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(texts))
	}
	ix.log.Warn("batch embedding failed, embedding notes one by one", zap.Int("notes", len(texts)), zap.Error(err))
	for _, i := range idx {
		v, err := ix.embedder.EmbedOne(ctx, plan[i].rec.EmbeddingText)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			plan[i].err = &domain.ProviderError{Provider: ix.embedder.Name(), Err: err}
			continue
		}
		plan[i].rec.Embedding = v
	}
	return nil
}

// commit applies muts to the store, journaling them while a rebuild runs.
func (ix *Indexer) commit(muts []vectorstore.Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	ix.journalMu.Lock()
	defer ix.journalMu.Unlock()
	if err := ix.store.Apply(muts...); err != nil {
		return err
	}
	if ix.journaling {
		ix.journal = append(ix.journal, muts...)
	}
	return nil
}
