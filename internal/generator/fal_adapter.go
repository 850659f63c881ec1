package generator

import (
	"context"
	"fmt"

	"github.com/maauso/contentcraft-pipeline/internal/fal"
)

// FalAdapter adapts the fal client to the Generator interface.
type FalAdapter struct {
	client fal.Client
}

// NewFalAdapter creates a new fal generator adapter.
func NewFalAdapter(client fal.Client) *FalAdapter {
	return &FalAdapter{client: client}
}

// Generate runs the model on fal.
func (a *FalAdapter) Generate(ctx context.Context, req Request) (Output, error) {
	res, err := a.client.Run(ctx, req.Model, req.Parameters)
	if err != nil {
		return Output{}, fmt.Errorf("%w: fal %s: %w", ErrGenerationFailed, req.Model, err)
	}
	return Output{URL: res.URL, Shape: string(res.Shape)}, nil
}

// Compile-time check that FalAdapter implements Generator.
var _ Generator = (*FalAdapter)(nil)
