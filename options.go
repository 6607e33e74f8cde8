package bcache

import (
	"log/slog"

	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/resource"
)

// Defaults follow the classic Unix v6 buffer cache.
const (
	DefaultNumBuffers = 30
	DefaultNumBuckets = 13
	DefaultBlockSize  = device.DefaultBlockSize
)

type options struct {
	numBuffers       int
	numBuckets       int
	blockSize        int
	metricsCollector MetricsCollector
	logger           *Logger
	rc               *resource.Controller
}

func defaultOptions() options {
	return options{
		numBuffers:       DefaultNumBuffers,
		numBuckets:       DefaultNumBuckets,
		blockSize:        DefaultBlockSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
}

// Option configures a Cache.
type Option func(*options)

// WithNumBuffers sets the number of cache slots. The count is fixed for the
// life of the cache.
func WithNumBuffers(n int) Option {
	return func(o *options) {
		o.numBuffers = n
	}
}

// WithNumBuckets sets the number of hash buckets. Blocks hash to
// block % n, so a prime spreads sequential block numbers evenly.
func WithNumBuckets(n int) Option {
	return func(o *options) {
		o.numBuckets = n
	}
}

// WithBlockSize sets the size of each block in bytes. It must match the
// device.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &bcache.BasicMetricsCollector{}
//	c, _ := bcache.New(dev, bcache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Hits: %d, Misses: %d\n", stats.Hits, stats.Misses)
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
//
// Example with JSON logging:
//
//	logger := bcache.NewJSONLogger(os.Stderr, slog.LevelDebug)
//	c, _ := bcache.New(dev, bcache.WithLogger(logger))
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

// WithResourceController charges the slot arena against rc's memory
// budget and bounds Prefetch concurrency by its background workers.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}
