// Package embed defines the boundary to the external embedding
// collaborator. The core never blocks on it longer than a bounded
// timeout; failures surface as ErrUnavailable so callers can degrade.
package embed

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the embedding collaborator timed out,
// failed, or is being skipped by the circuit breaker. Callers degrade:
// search serves cache-only or empty results, writes queue for retry.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder generates a vector embedding for a text. Implementations must
// respect ctx cancellation and bound their own request timeout.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimension() int
}
