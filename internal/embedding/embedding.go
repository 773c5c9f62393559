// Package embedding turns text into fixed-length vectors. Providers
// distinguish index-time from query-time encoding for asymmetric models.
package embedding

import (
	"context"
	"fmt"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
)

// Purpose selects the encoding mode.
type Purpose uint8

const (
	PurposeIndex Purpose = iota
	PurposeQuery
)

func (p Purpose) String() string {
	if p == PurposeQuery {
		return "query"
	}
	return "index"
}

// Provider converts text to vectors of Dimension() floats. EmbedMany
// returns one vector per input, in input order. Failures are reported as
// apperr.ProviderUnavailable and are never retried internally.
type Provider interface {
	Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
	Dimension() int
}

func unavailable(op string, err error) error {
	return apperr.E(apperr.ProviderUnavailable, op, err)
}

// checkDims rejects vectors whose length differs from the configured dimension.
// A dimension of 0 accepts any length.
func checkDims(op string, dim int, vecs [][]float32) error {
	if dim == 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dim {
			return unavailable(op, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dim))
		}
	}
	return nil
}
