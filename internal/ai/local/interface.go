// Package local provides the embedding capability consumed by the
// semantic matcher: a small interface plus an Ollama-backed
// implementation and a deterministic stub for tests.
package local

// Embedder is the interface for embedding generation.
type Embedder interface {
	// Embed generates an L2-normalized embedding vector for the text.
	Embed(text string) ([]float32, error)
	// Close cleans up resources.
	Close() error
}
