package embed

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/ibimina/kbengine/internal/kb"
)

// GenkitProvider bridges a Genkit ai.Embedder to the kb.Embedder batch
// contract, so Google AI (or any Genkit plugin) embedders plug into the
// pipeline unchanged.
type GenkitProvider struct {
	embedder ai.Embedder
}

// NewGenkitProvider wraps an ai.Embedder.
func NewGenkitProvider(embedder ai.Embedder) (*GenkitProvider, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &GenkitProvider{embedder: embedder}, nil
}

var _ kb.Embedder = (*GenkitProvider)(nil)

// Embed implements kb.Embedder.
func (p *GenkitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	input := make([]*ai.Document, len(texts))
	for i, text := range texts {
		input[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := p.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("genkit embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genkit returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range resp.Embeddings {
		if embedding == nil || len(embedding.Embedding) == 0 {
			return nil, fmt.Errorf("genkit returned empty embedding for input %d", i)
		}
		vec := make([]float32, len(embedding.Embedding))
		copy(vec, embedding.Embedding)
		vectors[i] = vec
	}
	return vectors, nil
}
