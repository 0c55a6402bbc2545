// Package embed defines the embedding collaborator the vectorization
// worker depends on. The engine treats embedding as an opaque
// text-to-vector call; only the mock implementation ships here, and
// deployments plug in their own Provider for a real model.
package embed

import "context"

// EmbedMode distinguishes the two asymmetric-embedding use cases some
// models care about.
type EmbedMode string

const (
	// EmbedModeQuery marks text that will be used to search (a user
	// question or a search phrase).
	EmbedModeQuery EmbedMode = "query"

	// EmbedModePassage marks text that will be searched over (code
	// chunks, docstrings, documentation).
	EmbedModePassage EmbedMode = "passage"
)

// Provider converts text into vectors. Implementations may call a remote
// API, run a local model, or fake it deterministically for tests.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)

	// Dimensions reports the width of every vector this provider emits.
	Dimensions() int

	// Close releases whatever the provider holds open (subprocesses,
	// connections). Safe to call more than once.
	Close() error
}
