package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"vaultsearch/internal/config"
	"vaultsearch/internal/domain"
	"vaultsearch/internal/embedding"
	"vaultsearch/internal/embedding/cache"
	"vaultsearch/internal/metrics"
	"vaultsearch/internal/service"
	"vaultsearch/internal/vault"
	"vaultsearch/internal/vectorstore/memory"
)

// app is the assembled service shared by every subcommand.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	registry *prometheus.Registry
	store    *memory.Storage
	reader   *vault.Reader
	indexer  *service.Indexer
	searcher *service.Searcher

	retryDelay time.Duration // first initial-load backoff, 1s when zero
}

func newApp(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	root, err := filepath.Abs(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}
	emb, err := embedding.New(ctx, cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	queries := cache.New(emb, cfg.Cache.MaxEntries)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.RegisterCache(reg, queries)

	store := memory.NewStorage()
	opts := []service.Option{
		service.WithBatchSize(cfg.Corpus.BatchSize),
		service.WithConcurrency(cfg.Corpus.Concurrency),
		service.WithMetrics(m),
		service.WithLogger(log),
	}
	ix := service.NewIndexer(store, emb, opts...)
	log.Info("service assembled",
		zap.String("vault", root),
		zap.String("embedder", emb.Name()),
		zap.Int("dimension", emb.Dimension()),
		zap.Int("batch_size", cfg.Corpus.BatchSize),
	)
	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		store:    store,
		reader:   vault.NewReader(root, cfg.Vault.Extensions, log),
		indexer:  ix,
		searcher: service.NewSearcher(store, queries, ix, opts...),
	}, nil
}

// loadWithRetry performs the initial rebuild, retrying with exponential
// backoff until the corpus is serving or ctx ends. A manual rebuild that
// supersedes an attempt is waited for; if it fails the retries resume.
func (a *app) loadWithRetry(ctx context.Context) error {
	delay := a.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 1; ; attempt++ {
		err := a.indexer.Rebuild(ctx, a.reader)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.Canceled) {
			if err := a.awaitRebuild(ctx, delay); err != nil {
				return err
			}
			if a.indexer.Status().Serving() {
				return nil
			}
			err = errors.New("superseding rebuild did not load the corpus")
		}
		a.log.Warn("initial load failed, retrying", zap.Int("attempt", attempt), zap.Duration("in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 30*time.Second)
	}
}

// awaitRebuild polls until no rebuild is in flight.
func (a *app) awaitRebuild(ctx context.Context, poll time.Duration) error {
	poll = min(poll, 100*time.Millisecond)
	for a.indexer.Rebuilding() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	return nil
}

// refresher feeds vault watcher batches to the indexer.
func (a *app) refresher() vault.Refresher {
	return vault.RefresherFunc(func(ctx context.Context, changes []domain.Change) error {
		rep, err := a.indexer.Refresh(ctx, changes)
		if err != nil {
			return err
		}
		return rep.Err()
	})
}

func (a *app) watch(ctx context.Context) {
	w := vault.NewWatcher(a.reader, a.refresher(), time.Duration(a.cfg.Vault.DebounceMS)*time.Millisecond)
	if err := w.Run(ctx); err != nil {
		a.log.Error("vault watcher stopped", zap.Error(err))
	}
}
