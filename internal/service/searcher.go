package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/metrics"
	"vaultsearch/internal/similarity"
	"vaultsearch/internal/vectorstore"
)

// StatusReader exposes the service status to query paths.
type StatusReader interface {
	Status() domain.Status
}

// Searcher answers semantic queries against the current corpus snapshot.
type Searcher struct {
	store    vectorstore.Storage
	embedder domain.Embedder
	status   StatusReader
	opts     options
	log      *zap.Logger
}

// NewSearcher creates a Searcher. embedder is typically the caching wrapper
// of the one used by the Indexer.
func NewSearcher(store vectorstore.Storage, embedder domain.Embedder, status StatusReader, opts ...Option) *Searcher {
	o := buildOptions(opts)
	return &Searcher{
		store:    store,
		embedder: embedder,
		status:   status,
		opts:     o,
		log:      o.logger.Named("searcher"),
	}
}

// Search returns the topK notes most similar to query, best first.
// An empty corpus yields an empty, non-nil slice.
func (s *Searcher) Search(ctx context.Context, query string, topK int) (results []domain.Result, err error) {
	start := time.Now()
	ctx, span := metrics.StartSpan(ctx, "corpus.search", attribute.Int("vaultsearch.search.top_k", topK))
	defer func() {
		metrics.EndSpan(span, err)
		s.opts.metrics.ObserveSearch(start, err)
	}()

	if strings.TrimSpace(query) == "" {
		return nil, &domain.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if topK <= 0 {
		return nil, &domain.ValidationError{Field: "top_k", Reason: "must be a positive integer"}
	}
	if !s.status.Status().Serving() {
		return nil, domain.ErrNotReady
	}

	view := s.store.Snapshot()
	if view.Len() == 0 {
		return []domain.Result{}, nil
	}

	q, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &domain.ProviderError{Provider: s.embedder.Name(), Err: err}
	}

	records := view.Records()
	hits := similarity.TopK(q, records, topK)
	results = make([]domain.Result, 0, len(hits))
	for _, h := range hits {
		// payload comes from the live corpus; notes deleted meanwhile are dropped
		rec, ok := s.store.Get(h.Path)
		if !ok {
			continue
		}
		results = append(results, domain.Result{
			Score:   h.Score,
			Path:    rec.Path,
			Name:    domain.NoteName(rec.Path),
			Content: rec.Content,
			Tags:    append([]string(nil), rec.Tags...),
		})
	}
	s.log.Debug("search served", zap.Int("corpus", len(records)), zap.Int("results", len(results)), zap.Duration("took", time.Since(start)))
	return results, nil
}
