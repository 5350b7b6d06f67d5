package embedder

import (
	"context"
	"errors"
)

// ErrEmptyInput indicates a request with no texts to embed.
var ErrEmptyInput = errors.New("no texts to embed")

// Client generates embeddings. Implementations return one vector per
// input text, in input order, all with Dimensions() entries.
type Client interface {
	// Embed generates embeddings for the given texts in a single request.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle is a convenience wrapper for one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the configured vector width.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}
