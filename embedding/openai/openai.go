// Package openai embeds text with the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/taskhive/vecrag/embedding"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is used when Config.Dimension is zero.
	DefaultDimension = 1536
)

// Config configures the OpenAI embedding provider.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimension is the requested output dimensionality.
	Dimension int
}

// Provider embeds text through the OpenAI API.
type Provider struct {
	client openaisdk.Client
	model  string
	dim    int
}

var _ embedding.Provider = (*Provider)(nil)

// New creates an OpenAI embedding provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: missing api key")
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}

	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("openai: invalid dimension %d", cfg.Dimension)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: openaisdk.NewClient(opts...),
		model:  cfg.Model,
		dim:    cfg.Dimension,
	}, nil
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

// EmbedBatch implements embedding.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := embedding.ValidateInputs(texts); err != nil {
		return nil, err
	}

	resp, err := p.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input:          openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openaisdk.EmbeddingModel(p.model),
		Dimensions:     openaisdk.Int(int64(p.dim)),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, &embedding.Error{Provider: p.Name(), Err: err}
	}

	if len(resp.Data) != len(texts) {
		return nil, &embedding.Error{
			Provider: p.Name(),
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
		}
	}

	vectors := make([][]float32, len(texts))

	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(vectors)) {
			return nil, &embedding.Error{
				Provider: p.Name(),
				Err:      fmt.Errorf("embedding index %d out of range", item.Index),
			}
		}

		if len(item.Embedding) != p.dim {
			return nil, &embedding.Error{
				Provider: p.Name(),
				Err:      fmt.Errorf("embedding has dimension %d, want %d", len(item.Embedding), p.dim),
			}
		}

		vector := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vector[i] = float32(v)
		}

		vectors[item.Index] = vector
	}

	return vectors, nil
}

// Dimension implements embedding.Provider.
func (p *Provider) Dimension() int { return p.dim }

// Name implements embedding.Provider.
func (p *Provider) Name() string { return "openai" }
