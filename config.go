package vecrag

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskhive/vecrag/blobstore/minio"
	"github.com/taskhive/vecrag/blobstore/s3"
	"github.com/taskhive/vecrag/embedding/gemini"
	"github.com/taskhive/vecrag/embedding/openai"
	"github.com/taskhive/vecrag/engine"
	"github.com/taskhive/vecrag/metric"
	"github.com/taskhive/vecrag/snapshot"
)

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "gemini".
	Provider string `yaml:"provider"`

	// Model overrides the provider's default embedding model.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Defaults to OPENAI_API_KEY or GEMINI_API_KEY per provider.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	// OpenAI only.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxRetries bounds retries of transient provider failures. Nil
	// means DefaultEmbeddingRetries; zero disables retrying.
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

// RemoteConfig configures the optional remote persistence tier.
type RemoteConfig struct {
	// Backend is "s3" or "minio". Empty disables the remote tier.
	Backend string `yaml:"backend,omitempty"`

	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`

	// Endpoint, Secure and the credential env names apply to the
	// minio backend. The s3 backend uses the ambient AWS credential
	// chain instead.
	Endpoint     string `yaml:"endpoint,omitempty"`
	Secure       bool   `yaml:"secure,omitempty"`
	AccessKeyEnv string `yaml:"access_key_env,omitempty"`
	SecretKeyEnv string `yaml:"secret_key_env,omitempty"`

	MaxRetries         int `yaml:"max_retries,omitempty"`
	RetryBackoffMillis int `yaml:"retry_backoff_millis,omitempty"`
	UploadBytesPerSec  int `yaml:"upload_bytes_per_sec,omitempty"`
}

// RetrievalConfig configures retrieval behavior.
type RetrievalConfig struct {
	// TopK is the result count callers should request by default.
	TopK int `yaml:"top_k,omitempty"`

	// MaxContextChars is the AssembleContext character budget.
	MaxContextChars int `yaml:"max_context_chars,omitempty"`
}

// Config is the file-driven store configuration. See LoadConfig and
// OpenFromConfig.
type Config struct {
	// Dimension overrides the embedding provider's native dimension.
	Dimension int `yaml:"dimension,omitempty"`

	// Metric is "l2_squared" (default) or "cosine".
	Metric string `yaml:"metric,omitempty"`

	// DataDir is the directory backing the local persistence tier.
	// Empty means purely in-memory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Compression is "zstd" (default), "lz4" or "none".
	Compression string `yaml:"compression,omitempty"`

	CompactionThreshold float64 `yaml:"compaction_threshold,omitempty"`
	AutoSave            *bool   `yaml:"auto_save,omitempty"`
	AutoCompaction      bool    `yaml:"auto_compaction,omitempty"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Remote    RemoteConfig    `yaml:"remote,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
}

// LoadConfig reads, defaults and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("read config %q: %v", path, err), cause: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("parse config %q: %v", path, err), cause: err}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Metric == "" {
		c.Metric = metric.L2Squared.String()
	}

	if c.Compression == "" {
		c.Compression = snapshot.CompressionZSTD.String()
	}

	if c.CompactionThreshold == 0 {
		c.CompactionThreshold = engine.DefaultCompactionThreshold
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = DefaultTopK
	}

	if c.Retrieval.MaxContextChars == 0 {
		c.Retrieval.MaxContextChars = DefaultMaxContextChars
	}

	if c.Embedding.APIKeyEnv == "" {
		switch c.Embedding.Provider {
		case "openai":
			c.Embedding.APIKeyEnv = "OPENAI_API_KEY"
		case "gemini":
			c.Embedding.APIKeyEnv = "GEMINI_API_KEY"
		}
	}

	if c.Remote.Backend == "minio" {
		if c.Remote.AccessKeyEnv == "" {
			c.Remote.AccessKeyEnv = "MINIO_ACCESS_KEY"
		}

		if c.Remote.SecretKeyEnv == "" {
			c.Remote.SecretKeyEnv = "MINIO_SECRET_KEY"
		}
	}
}

// Validate checks the config for inconsistencies that would fail at
// open time. The embedding provider may be left empty when the caller
// passes WithEmbedder to OpenFromConfig.
func (c *Config) Validate() error {
	if c.Dimension < 0 {
		return &ErrInvalidConfig{Reason: fmt.Sprintf("invalid dimension %d", c.Dimension)}
	}

	if _, err := metric.Parse(c.Metric); err != nil {
		return &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	if _, err := snapshot.ParseCompression(c.Compression); err != nil {
		return &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	if t := c.CompactionThreshold; t <= 0 || t >= 1 {
		return &ErrInvalidConfig{Reason: fmt.Sprintf("compaction threshold %v out of range (0, 1)", t)}
	}

	switch c.Embedding.Provider {
	case "", "openai", "gemini":
	default:
		return &ErrInvalidConfig{Reason: fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider)}
	}

	switch c.Remote.Backend {
	case "":
	case "s3", "minio":
		if c.Remote.Bucket == "" {
			return &ErrInvalidConfig{Reason: fmt.Sprintf("remote backend %q needs a bucket", c.Remote.Backend)}
		}

		if c.Remote.Backend == "minio" && c.Remote.Endpoint == "" {
			return &ErrInvalidConfig{Reason: "remote backend \"minio\" needs an endpoint"}
		}
	default:
		return &ErrInvalidConfig{Reason: fmt.Sprintf("unknown remote backend %q", c.Remote.Backend)}
	}

	return nil
}

// OpenFromConfig opens a Store from a Config. Unset fields are filled
// with defaults first. Options passed here win over the config, so
// tests and callers can override pieces, e.g. the embedding provider:
//
//	cfg, err := vecrag.LoadConfig("vecrag.yaml")
//	if err != nil { ... }
//	store, err := vecrag.OpenFromConfig(ctx, cfg, vecrag.WithEmbedder(provider))
func OpenFromConfig(ctx context.Context, cfg *Config, optFns ...Option) (*Store, error) {
	if cfg == nil {
		return nil, &ErrInvalidConfig{Reason: "config is nil"}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fromConfig, err := cfg.storeOptions(ctx)
	if err != nil {
		return nil, err
	}

	return Open(ctx, append(fromConfig, optFns...)...)
}

// storeOptions translates the config into Open options. Validate must
// have passed.
func (c *Config) storeOptions(ctx context.Context) ([]Option, error) {
	m, err := metric.Parse(c.Metric)
	if err != nil {
		return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	compression, err := snapshot.ParseCompression(c.Compression)
	if err != nil {
		return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	opts := []Option{
		WithMetric(m),
		WithCompression(compression),
		WithCompactionThreshold(c.CompactionThreshold),
		WithMaxContextChars(c.Retrieval.MaxContextChars),
	}

	if c.Dimension > 0 {
		opts = append(opts, WithDimension(c.Dimension))
	}

	if c.DataDir != "" {
		opts = append(opts, WithDataDir(c.DataDir))
	}

	if c.AutoSave != nil {
		opts = append(opts, WithAutoSave(*c.AutoSave))
	}

	if c.AutoCompaction {
		opts = append(opts, WithAutoCompaction(true))
	}

	if c.Embedding.MaxRetries != nil {
		opts = append(opts, WithEmbeddingRetries(*c.Embedding.MaxRetries))
	}

	embedderOpts, err := c.embedderOptions(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, embedderOpts...)

	remoteOpts, err := c.remoteOptions(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, remoteOpts...)

	return opts, nil
}

func (c *Config) embedderOptions(ctx context.Context) ([]Option, error) {
	if c.Embedding.Provider == "" {
		return nil, nil
	}

	apiKey := os.Getenv(c.Embedding.APIKeyEnv)
	if apiKey == "" {
		return nil, &ErrInvalidConfig{
			Reason: fmt.Sprintf("embedding provider %q: environment variable %s is empty",
				c.Embedding.Provider, c.Embedding.APIKeyEnv),
		}
	}

	switch c.Embedding.Provider {
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:    apiKey,
			BaseURL:   c.Embedding.BaseURL,
			Model:     c.Embedding.Model,
			Dimension: c.Dimension,
		})
		if err != nil {
			return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
		}

		return []Option{WithEmbedder(p)}, nil
	case "gemini":
		p, err := gemini.New(ctx, gemini.Config{
			APIKey:    apiKey,
			Model:     c.Embedding.Model,
			Dimension: c.Dimension,
		})
		if err != nil {
			return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
		}

		return []Option{WithEmbedder(p)}, nil
	default:
		return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider)}
	}
}

func (c *Config) remoteOptions(ctx context.Context) ([]Option, error) {
	if c.Remote.Backend == "" {
		return nil, nil
	}

	var opts []Option

	switch c.Remote.Backend {
	case "s3":
		store, err := s3.NewStoreFromDefaultConfig(ctx, c.Remote.Bucket, c.Remote.Prefix)
		if err != nil {
			return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("s3 remote: %v", err), cause: err}
		}

		opts = append(opts, WithRemoteStore(store))
	case "minio":
		store, err := minio.NewStoreFromCredentials(
			c.Remote.Endpoint,
			os.Getenv(c.Remote.AccessKeyEnv),
			os.Getenv(c.Remote.SecretKeyEnv),
			c.Remote.Bucket,
			c.Remote.Prefix,
			c.Remote.Secure,
		)
		if err != nil {
			return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("minio remote: %v", err), cause: err}
		}

		opts = append(opts, WithRemoteStore(store))
	default:
		return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("unknown remote backend %q", c.Remote.Backend)}
	}

	if c.Remote.MaxRetries > 0 {
		opts = append(opts, WithRemoteMaxRetries(c.Remote.MaxRetries))
	}

	if c.Remote.RetryBackoffMillis > 0 {
		opts = append(opts, WithRemoteRetryBackoff(time.Duration(c.Remote.RetryBackoffMillis)*time.Millisecond))
	}

	if c.Remote.UploadBytesPerSec > 0 {
		opts = append(opts, WithRemoteUploadRateLimit(c.Remote.UploadBytesPerSec))
	}

	return opts, nil
}
