package artifacts

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/curiohall/curio/internal/models"
)

// App serves catalog reads and the random draw used to pick each round's
// lots.
type App struct {
	source Source
}

// NewApp creates a new artifacts App.
func NewApp(source Source) *App {
	return &App{source: source}
}

// GetArtifact retrieves one catalog entry.
func (a *App) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return a.source.GetArtifact(ctx, id)
}

// ListArtifacts returns the full catalog.
func (a *App) ListArtifacts(ctx context.Context) ([]models.Artifact, error) {
	return a.source.ListArtifacts(ctx)
}

// Draw picks up to n distinct artifacts at random, skipping excluded ids
// (typically artifacts already on auction or already owned). Returns fewer
// than n when the pool runs short.
func (a *App) Draw(ctx context.Context, n int, exclude map[string]bool) ([]models.Artifact, error) {
	catalog, err := a.source.ListArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog for draw: %w", err)
	}

	pool := make([]models.Artifact, 0, len(catalog))
	for _, art := range catalog {
		if !exclude[art.ID] {
			pool = append(pool, art)
		}
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n], nil
}
