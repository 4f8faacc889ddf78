package natstore

import (
	"log/slog"

	"github.com/hupe1980/natstore/internal/avltree"
	"github.com/hupe1980/natstore/internal/datafile"
	"github.com/hupe1980/natstore/internal/fs"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	allocationLot    uint32
	dataGrowth       int64
	kind             ValueKind
	fs               fs.FileSystem
	verifyOnOpen     bool
}

// Option configures Open.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &natstore.BasicMetricsCollector{}
//	col, _ := natstore.Open("./names", natstore.WithMetricsCollector(metrics))
//	// ... use col ...
//	stats := metrics.GetStats()
//	fmt.Printf("dedup hits: %d\n", stats.DedupHits)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithAllocationLot sets how many row slots the index file grows by at a
// time. It only applies when the index file is created; an existing file
// keeps the lot it was created with.
func WithAllocationLot(slots uint32) Option {
	return func(o *options) {
		o.allocationLot = slots
	}
}

// WithDataGrowth sets the minimum number of bytes the data file grows by.
func WithDataGrowth(bytes int64) Option {
	return func(o *options) {
		o.dataGrowth = bytes
	}
}

// WithValueKind selects how values are ordered. The kind is recorded when the
// column is created and must match on every later Open.
func WithValueKind(kind ValueKind) Option {
	return func(o *options) {
		if kind == nil {
			kind = Binary
		}
		o.kind = kind
	}
}

// WithFileSystem sets the file system used for the column files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fs = fsys
	}
}

// WithVerifyOnOpen runs Check after opening the column.
func WithVerifyOnOpen(verify bool) Option {
	return func(o *options) {
		o.verifyOnOpen = verify
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		allocationLot:    avltree.DefaultAllocationLot,
		dataGrowth:       datafile.DefaultGrowth,
		kind:             Binary,
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
