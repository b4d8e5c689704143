package embedder

import (
	"context"
	"fmt"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/54b3r/instqa-go/internal/rag"
)

// EinoEmbedder adapts an eino embedding component to rag.Embedder. The eino
// interface returns float64 vectors; they are narrowed to float32 for storage.
type EinoEmbedder struct {
	// inner is the eino embedding component.
	inner embedding.Embedder
	// identity is reported to the index.
	identity rag.ModelIdentity
}

// EinoOpenAIConfig holds the settings for the eino OpenAI-compatible embedder.
type EinoOpenAIConfig struct {
	// BaseURL is the OpenAI-compatible API base URL. Empty uses the SDK default.
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested vector width (0 = model default).
	Dimensions int
}

// NewEinoOpenAIEmbedder constructs an EinoEmbedder backed by the eino-ext
// OpenAI embedding component.
func NewEinoOpenAIEmbedder(ctx context.Context, cfg *EinoOpenAIConfig) (*EinoEmbedder, error) {
	ecfg := &openaiEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}
	if cfg.Dimensions > 0 {
		dims := cfg.Dimensions
		ecfg.Dimensions = &dims
	}
	inner, err := openaiEmbed.NewEmbedder(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	return NewEinoEmbedder(inner, rag.ModelIdentity{
		Backend:    "eino-openai",
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
	}), nil
}

// NewEinoEmbedder wraps any eino embedding component.
func NewEinoEmbedder(inner embedding.Embedder, identity rag.ModelIdentity) *EinoEmbedder {
	return &EinoEmbedder{inner: inner, identity: identity}
}

// Identity reports the model this embedder produces vectors with.
func (e *EinoEmbedder) Identity() rag.ModelIdentity { return e.identity }

// Embed converts a batch of texts into float32 embeddings.
func (e *EinoEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.inner.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("eino embedder: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("eino embedder: expected %d embeddings, got %d", len(texts), len(vectors))
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		row := make([]float32, len(v))
		for j, x := range v {
			row[j] = float32(x)
		}
		out[i] = row
	}
	return out, nil
}
