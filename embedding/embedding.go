// Package embedding defines the embedding-provider contract the episode
// store depends on, plus an OpenAI-compatible HTTP implementation.
package embedding

import "context"

// Provider turns text into a dense vector. Implementations own their own
// timeout and retry behavior; the episode store passes failures through.
type Provider interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch embeds multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector width this provider produces.
	Dimensions() int

	// Name identifies the provider for logs and errors.
	Name() string
}
