// Package gemini embeds text with the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/taskhive/vecrag/embedding"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-embedding-001"

	// DefaultDimension is used when Config.Dimension is zero.
	DefaultDimension = 768
)

// Config configures the Gemini embedding provider.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimension is the requested output dimensionality.
	Dimension int
}

// Provider embeds text through the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	dim    int
}

var _ embedding.Provider = (*Provider)(nil)

// New creates a Gemini embedding provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: missing api key")
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}

	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("gemini: invalid dimension %d", cfg.Dimension)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Provider{
		client: client,
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

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(p.dim)),
	})
	if err != nil {
		return nil, &embedding.Error{Provider: p.Name(), Err: err}
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, &embedding.Error{
			Provider: p.Name(),
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(texts))

	for i, item := range resp.Embeddings {
		if item == nil || len(item.Values) != p.dim {
			return nil, &embedding.Error{
				Provider: p.Name(),
				Err:      fmt.Errorf("embedding %d has unexpected shape", i),
			}
		}

		vector := make([]float32, len(item.Values))
		copy(vector, item.Values)
		vectors[i] = vector
	}

	return vectors, nil
}

// Dimension implements embedding.Provider.
func (p *Provider) Dimension() int { return p.dim }

// Name implements embedding.Provider.
func (p *Provider) Name() string { return "gemini" }
