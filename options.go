package vecrag

import (
	"log/slog"
	"time"

	"github.com/taskhive/vecrag/blobstore"
	"github.com/taskhive/vecrag/codec"
	"github.com/taskhive/vecrag/embedding"
	"github.com/taskhive/vecrag/engine"
	"github.com/taskhive/vecrag/metric"
	"github.com/taskhive/vecrag/snapshot"
)

const (
	// DefaultMaxContextChars is the default character budget for AssembleContext.
	DefaultMaxContextChars = 4000

	// DefaultEmbeddingRetries is the default number of retries for transient
	// embedding provider failures.
	DefaultEmbeddingRetries = 3

	// DefaultTopK is the default number of results for retrieval when a
	// configuration file leaves it unset.
	DefaultTopK = 5
)

type options struct {
	dimension           int
	metric              metric.Metric
	embedder            embedding.Provider
	embedMaxRetries     int
	local               blobstore.Store
	remote              blobstore.Store
	dataDir             string
	compression         snapshot.CompressionType
	codec               codec.Codec
	compactionThreshold float64
	autoSave            bool
	autoCompact         bool
	maxContextChars     int
	remoteMaxRetries    int
	remoteRetryBackoff  time.Duration
	remoteBytesPerSec   int
	metricsCollector    MetricsCollector
	logger              *Logger
}

// Option configures Store constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. store-specific constructor variants).
type Option func(*options)

// WithDimension sets the vector dimension of the store. When an embedder is
// configured the dimension defaults to the embedder's and this option only
// needs to be set when they must be cross-checked explicitly.
func WithDimension(dimension int) Option {
	return func(o *options) {
		o.dimension = dimension
	}
}

// WithMetric sets the distance metric used by the vector index.
//
// The default is metric.L2Squared.
func WithMetric(m metric.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithEmbedder sets the embedding provider used to turn document chunks and
// queries into vectors. An embedder is required.
//
// Example:
//
//	provider, err := openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
//	if err != nil { ... }
//	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(provider))
func WithEmbedder(p embedding.Provider) Option {
	return func(o *options) {
		o.embedder = p
	}
}

// WithEmbeddingRetries sets the number of retries applied to transient
// embedding provider failures. Zero disables retrying.
//
// The default is DefaultEmbeddingRetries.
func WithEmbeddingRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.embedMaxRetries = n
	}
}

// WithLocalStore sets the local persistence tier explicitly. When set it
// takes precedence over WithDataDir.
func WithLocalStore(s blobstore.Store) Option {
	return func(o *options) {
		o.local = s
	}
}

// WithDataDir sets the directory backing the local persistence tier.
// The directory is created if it does not exist.
//
// When neither WithDataDir nor WithLocalStore is given the store runs
// purely in memory.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

// WithRemoteStore sets the remote persistence tier (e.g. an S3 or MinIO
// backed blobstore.Store). When unset, remote persistence is disabled.
func WithRemoteStore(s blobstore.Store) Option {
	return func(o *options) {
		o.remote = s
	}
}

// WithCompression configures the snapshot compression codec.
//
// The default is snapshot.CompressionZSTD.
func WithCompression(c snapshot.CompressionType) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCodec configures the codec used for snapshot section payloads.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompactionThreshold sets the deleted ratio above which compaction is
// considered needed. Must be in (0, 1).
//
// The default is engine.DefaultCompactionThreshold.
func WithCompactionThreshold(t float64) Option {
	return func(o *options) {
		o.compactionThreshold = t
	}
}

// WithAutoSave controls whether mutating operations trigger a synchronous
// local save before returning.
//
// Auto-save is enabled by default.
func WithAutoSave(enabled bool) Option {
	return func(o *options) {
		o.autoSave = enabled
	}
}

// WithAutoCompaction controls whether deletes trigger compaction once the
// deleted ratio exceeds the compaction threshold.
//
// Auto-compaction is disabled by default; call Compact explicitly or enable
// this to reclaim ghost positions automatically.
func WithAutoCompaction(enabled bool) Option {
	return func(o *options) {
		o.autoCompact = enabled
	}
}

// WithMaxContextChars sets the character budget used by AssembleContext.
//
// The default is DefaultMaxContextChars.
func WithMaxContextChars(n int) Option {
	return func(o *options) {
		o.maxContextChars = n
	}
}

// WithRemoteMaxRetries sets the number of retries for asynchronous remote
// snapshot uploads.
func WithRemoteMaxRetries(n int) Option {
	return func(o *options) {
		o.remoteMaxRetries = n
	}
}

// WithRemoteRetryBackoff sets the base backoff between remote upload retries.
func WithRemoteRetryBackoff(d time.Duration) Option {
	return func(o *options) {
		o.remoteRetryBackoff = d
	}
}

// WithRemoteUploadRateLimit caps remote snapshot uploads at the given rate
// in bytes per second. Zero disables rate limiting.
func WithRemoteUploadRateLimit(bytesPerSec int) Option {
	return func(o *options) {
		o.remoteBytesPerSec = bytesPerSec
	}
}

// WithMetricsCollector sets the metrics collector for operational metrics.
//
// The default is NoopMetricsCollector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = collector
	}
}

// WithLogger sets the logger for structured logging.
//
// The default is NoopLogger (no logging).
//
// Example:
//
//	logger := vecrag.NewTextLogger(slog.LevelDebug)
//	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(p), vecrag.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is a convenience option that sets a text logger at the
// given level.
//
// Example:
//
//	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(p), vecrag.WithLogLevel(slog.LevelInfo))
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns ...Option) *options {
	o := &options{
		metric:              metric.L2Squared,
		embedMaxRetries:     DefaultEmbeddingRetries,
		compression:         snapshot.CompressionZSTD,
		codec:               codec.Default,
		compactionThreshold: engine.DefaultCompactionThreshold,
		autoSave:            true,
		maxContextChars:     DefaultMaxContextChars,
		metricsCollector:    NoopMetricsCollector{},
		logger:              NoopLogger(),
	}
	for _, fn := range optFns {
		fn(o)
	}
	return o
}
