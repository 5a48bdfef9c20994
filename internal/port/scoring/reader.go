// Package scoring defines the port to the external quality-scoring engine.
package scoring

import (
	"context"

	"github.com/promptdeck/promptdeck/internal/domain/scoring"
)

// Reader resolves quality score references recorded on experiment results.
// The scoring engine owns the scores; this subsystem only reads them.
type Reader interface {
	// GetScores resolves a batch of score IDs. Unknown IDs are absent from
	// the returned map rather than an error; the caller decides whether a
	// missing score invalidates the sample.
	GetScores(ctx context.Context, ids []string) (map[string]scoring.Score, error)
}
