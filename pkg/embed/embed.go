// Package embed defines the embedding collaborator brainy accepts when
// Add is called with text instead of a vector: a caller-supplied
// Embedder turns text into a []float32, and brainy never talks to an
// embedding provider itself.
package embed

import "context"

// Embedder generates vector embeddings from text. Implementations must
// be safe for concurrent use from multiple goroutines, since a search
// or add can call it from any partition's goroutine.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call,
	// letting providers batch the underlying request.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector width this Embedder
	// produces. Add does not call it; Add checks the length of each
	// returned vector against config.Config.Dimension.
	Dimensions() int

	// Model returns a human-readable model identifier for logging.
	Model() string
}
