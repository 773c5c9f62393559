package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bilal-raza12/ShopEase/internal/ollama"
)

// Prefixes for nomic-style asymmetric embedding models.
const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

// Ollama embeds through a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
	dim    int
}

// NewOllama creates a provider for model. dim may be 0 when the size is
// not known up front; vectors are then accepted at any length.
func NewOllama(c *ollama.Client, model string, dim int) *Ollama {
	return &Ollama{client: c, model: model, dim: dim}
}

func (o *Ollama) Dimension() int { return o.dim }

func prefixed(text string, purpose Purpose) string {
	if purpose == PurposeQuery {
		return queryPrefix + text
	}
	return documentPrefix + text
}

func (o *Ollama) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	vec, err := o.client.Embed(ctx, o.model, prefixed(text, purpose))
	if err != nil {
		return nil, unavailable("ollama embed", err)
	}
	if err := checkDims("ollama embed", o.dim, [][]float32{vec}); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedMany embeds texts concurrently, at most four requests in flight.
func (o *Ollama) EmbedMany(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := o.Embed(gCtx, text, purpose)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
