package multimap

// config.go defines the internal configuration object and the set of
// functional options passed to Open. All fields are initialized with
// sensible defaults in defaultConfig().

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/multimap/internal/mmerr"
)

// LessFunc orders two values during a sorted Rewrite.
type LessFunc func(a, b []byte) bool

// Option is a functional option passed to Open.
type Option func(*config)

type config struct {
	blockSize       uint32
	bufferSize      uint32
	createIfMissing bool
	errorIfExists   bool
	readonly        bool
	less            LessFunc

	registry *prometheus.Registry
	logger   *zap.Logger
}

const (
	defaultBlockSize  = 512
	defaultBufferSize = 1 << 20
)

func defaultConfig() *config {
	return &config{
		blockSize:  defaultBlockSize,
		bufferSize: defaultBufferSize,
		logger:     zap.NewNop(),
	}
}

// WithBlockSize sets the on-disk block size, in bytes, a power of two.
// Ignored when opening an existing store — the store's own recorded
// block size wins.
func WithBlockSize(n uint32) Option {
	return func(c *config) { c.blockSize = n }
}

// WithBufferSize bounds how many bytes the store holds in memory before
// an implicit flush.
func WithBufferSize(n uint32) Option {
	return func(c *config) { c.bufferSize = n }
}

// WithCreateIfMissing allows Open to create the shard's files if the
// prefix has none yet.
func WithCreateIfMissing() Option {
	return func(c *config) { c.createIfMissing = true }
}

// WithErrorIfExists fails Open if the shard's stats file already
// exists.
func WithErrorIfExists() Option {
	return func(c *config) { c.errorIfExists = true }
}

// WithReadonly opens the shard rejecting all mutating operations and
// skipping the close-time rewrite.
func WithReadonly() Option {
	return func(c *config) { c.readonly = true }
}

// WithLessFunc supplies the comparator used by Rewrite.
func WithLessFunc(less LessFunc) Option {
	return func(c *config) { c.less = less }
}

// WithMetrics enables Prometheus metrics collection for the shard.
// Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The shard logs only errors
// hit during Close; it never logs on the hot path.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// applyOptions copies user-supplied options into cfg and validates
// invariants, bailing out early with a descriptive sentinel error.
func applyOptions(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.blockSize == 0 || cfg.blockSize&(cfg.blockSize-1) != 0 {
		return nil, errInvalidBlockSize
	}
	if cfg.bufferSize != 0 && cfg.bufferSize < cfg.blockSize {
		return nil, errInvalidBufferSize
	}
	return cfg, nil
}

var (
	errInvalidBlockSize  = mmerr.NewDomain("multimap: block_size must be a nonzero power of two")
	errInvalidBufferSize = mmerr.NewDomain("multimap: buffer_size must be 0 (default) or >= block_size")
)
