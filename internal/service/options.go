package service

import (
	"go.uber.org/zap"

	"vaultsearch/internal/metrics"
)

// Option configures an Indexer or a Searcher.
type Option func(*options)

type options struct {
	batchSize   int
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func defaultOptions() options {
	return options{
		batchSize:   16,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithBatchSize sets how many notes are embedded per provider call during a rebuild.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithConcurrency sets how many rebuild batches may be in flight at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMetrics records service metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
