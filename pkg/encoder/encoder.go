// Package encoder declares the contract between the database core and
// the embedding-model collaborator that turns text (or any other raw
// input) into the float32 vectors the core stores and searches.
//
// Model inference itself is out of scope (spec.md's "Out of scope:
// embedding model inference... treated as a pluggable encoder
// returning a vector of declared dimension"); this package exists only
// so callers have a stable interface to implement against, shaped
// after the teacher's pkg/embed.Embedder.
package encoder

import "context"

// Encoder turns text into vectors of a fixed, declared dimension.
// Implementations must be safe for concurrent use.
type Encoder interface {
	// Encode returns the embedding for a single input.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch returns one embedding per input, in order.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the width of vectors this encoder produces;
	// it must match the database's configured Dimension.
	Dimensions() int
}
