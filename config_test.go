package vecrag_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/vecrag"
	"github.com/taskhive/vecrag/testutil"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vecrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
dimension: 768
metric: cosine
data_dir: ./data
compression: lz4
compaction_threshold: 0.3
auto_save: false
auto_compaction: true

embedding:
  provider: openai
  model: text-embedding-3-large
  api_key_env: MY_OPENAI_KEY
  max_retries: 2

remote:
  backend: minio
  bucket: vecrag
  prefix: prod/
  endpoint: localhost:9000
  access_key_env: MY_MINIO_ACCESS
  secret_key_env: MY_MINIO_SECRET
  max_retries: 4
  retry_backoff_millis: 250
  upload_bytes_per_sec: 1048576

retrieval:
  top_k: 8
  max_context_chars: 2000
`)

	cfg, err := vecrag.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 768, cfg.Dimension)
	assert.Equal(t, "cosine", cfg.Metric)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "lz4", cfg.Compression)
	assert.InDelta(t, 0.3, cfg.CompactionThreshold, 1e-9)
	require.NotNil(t, cfg.AutoSave)
	assert.False(t, *cfg.AutoSave)
	assert.True(t, cfg.AutoCompaction)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, "MY_OPENAI_KEY", cfg.Embedding.APIKeyEnv)
	require.NotNil(t, cfg.Embedding.MaxRetries)
	assert.Equal(t, 2, *cfg.Embedding.MaxRetries)

	assert.Equal(t, "minio", cfg.Remote.Backend)
	assert.Equal(t, "vecrag", cfg.Remote.Bucket)
	assert.Equal(t, "prod/", cfg.Remote.Prefix)
	assert.Equal(t, "localhost:9000", cfg.Remote.Endpoint)
	assert.Equal(t, "MY_MINIO_ACCESS", cfg.Remote.AccessKeyEnv)
	assert.Equal(t, "MY_MINIO_SECRET", cfg.Remote.SecretKeyEnv)
	assert.Equal(t, 4, cfg.Remote.MaxRetries)
	assert.Equal(t, 250, cfg.Remote.RetryBackoffMillis)
	assert.Equal(t, 1048576, cfg.Remote.UploadBytesPerSec)

	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 2000, cfg.Retrieval.MaxContextChars)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
embedding:
  provider: openai
`)

	cfg, err := vecrag.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "l2_squared", cfg.Metric)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.InDelta(t, 0.2, cfg.CompactionThreshold, 1e-9)
	assert.Equal(t, vecrag.DefaultTopK, cfg.Retrieval.TopK)
	assert.Equal(t, vecrag.DefaultMaxContextChars, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedding.APIKeyEnv)
	assert.Nil(t, cfg.AutoSave)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := vecrag.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})

	t.Run("BadYAML", func(t *testing.T) {
		path := writeConfigFile(t, "embedding: [not: a: mapping")
		_, err := vecrag.LoadConfig(path)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})
}

func TestConfigValidate(t *testing.T) {
	base := func() *vecrag.Config {
		return &vecrag.Config{
			Metric:              "l2_squared",
			Compression:         "zstd",
			CompactionThreshold: 0.2,
		}
	}

	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("RawZeroConfig", func(t *testing.T) {
		// A raw zero config fails on the empty metric; LoadConfig and
		// OpenFromConfig apply defaults before validating.
		require.Error(t, (&vecrag.Config{}).Validate())
	})

	tests := []struct {
		name   string
		mutate func(cfg *vecrag.Config)
	}{
		{name: "NegativeDimension", mutate: func(cfg *vecrag.Config) { cfg.Dimension = -1 }},
		{name: "UnknownMetric", mutate: func(cfg *vecrag.Config) { cfg.Metric = "manhattan" }},
		{name: "UnknownCompression", mutate: func(cfg *vecrag.Config) { cfg.Compression = "brotli" }},
		{name: "ThresholdTooHigh", mutate: func(cfg *vecrag.Config) { cfg.CompactionThreshold = 1.0 }},
		{name: "UnknownProvider", mutate: func(cfg *vecrag.Config) { cfg.Embedding.Provider = "anthropic" }},
		{name: "UnknownBackend", mutate: func(cfg *vecrag.Config) { cfg.Remote.Backend = "gcs" }},
		{name: "S3WithoutBucket", mutate: func(cfg *vecrag.Config) { cfg.Remote.Backend = "s3" }},
		{name: "MinioWithoutEndpoint", mutate: func(cfg *vecrag.Config) {
			cfg.Remote.Backend = "minio"
			cfg.Remote.Bucket = "vecrag"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			var ice *vecrag.ErrInvalidConfig
			require.ErrorAs(t, cfg.Validate(), &ice)
		})
	}
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("NilConfig", func(t *testing.T) {
		_, err := vecrag.OpenFromConfig(ctx, nil)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})

	t.Run("EmbedderOverride", func(t *testing.T) {
		cfg := &vecrag.Config{Metric: "cosine"}

		store, err := vecrag.OpenFromConfig(ctx, cfg,
			vecrag.WithEmbedder(testutil.NewFakeEmbedder(4)),
		)
		require.NoError(t, err)
		defer store.Close()

		assert.Equal(t, 4, store.Dimension())
	})

	t.Run("MissingAPIKeyEnv", func(t *testing.T) {
		t.Setenv("VECRAG_TEST_OPENAI_KEY", "")

		cfg := &vecrag.Config{
			Embedding: vecrag.EmbeddingConfig{
				Provider:  "openai",
				APIKeyEnv: "VECRAG_TEST_OPENAI_KEY",
			},
		}

		_, err := vecrag.OpenFromConfig(ctx, cfg)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
		assert.Contains(t, err.Error(), "VECRAG_TEST_OPENAI_KEY")
	})

	t.Run("OpenAIProviderFromEnv", func(t *testing.T) {
		t.Setenv("VECRAG_TEST_OPENAI_KEY", "sk-test")

		cfg := &vecrag.Config{
			Dimension: 64,
			Embedding: vecrag.EmbeddingConfig{
				Provider:  "openai",
				APIKeyEnv: "VECRAG_TEST_OPENAI_KEY",
			},
		}

		// Constructing the provider needs no network; only embedding
		// calls do.
		store, err := vecrag.OpenFromConfig(ctx, cfg)
		require.NoError(t, err)
		defer store.Close()

		assert.Equal(t, 64, store.Dimension())
	})
}
