// Package generator provides the common interface for media generation
// providers. The fal adapter implements it for both video and audio.
package generator

import (
	"context"
	"errors"
)

// ErrGenerationFailed wraps every provider failure: a non-success
// response, a timeout, or a response without a usable media URL.
var ErrGenerationFailed = errors.New("generation failed")

// Request describes one generation call.
type Request struct {
	Model      string         // Provider model identifier
	Parameters map[string]any // Model input, passed through as JSON
}

// Output is the result of a successful generation.
type Output struct {
	URL   string // Location of the generated media
	Shape string // Response layout the URL was found at, for diagnostics
}

// Generator defines the interface for media generation providers.
type Generator interface {
	// Generate runs the model synchronously and returns the media URL.
	// Errors wrap ErrGenerationFailed.
	Generate(ctx context.Context, req Request) (Output, error)
}
