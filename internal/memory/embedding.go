package memory

import "context"

// EmbeddingProvider is the embedding API client transport contract.
// Concrete provider wiring (HTTP client, auth, model selection) is an
// external collaborator per §1; only this interface is owned here, plus
// one concrete local implementation (Ollama) used in tests and local
// runs, per SPEC_FULL §11.
type EmbeddingProvider interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}
