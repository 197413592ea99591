// Package embeddings defines the Provider interface for text embedding backends.
//
// A provider maps short strings, such as a captured keystroke burst or a cat
// noise phrase, to dense float32 vectors. The noise index stores one vector per
// phrase and the matcher ranks phrases by cosine similarity against the vector
// of the captured text.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
)

// ErrUnavailable is wrapped by providers when the backend cannot produce an
// embedding: the service is unreachable, returns a malformed response, or the
// caller's context ended before a result arrived.
var ErrUnavailable = errors.New("embeddings: provider unavailable")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the same dimensionality. Vectors
// from different providers must not be compared unless both use the same model.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is passed
	// to the backend verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one call. The i-th result corresponds
	// to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector from this provider.
	Dimensions() int

	// ModelID returns the model identifier, e.g. "nomic-embed-text".
	ModelID() string
}
