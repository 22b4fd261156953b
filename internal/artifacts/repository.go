package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/models"
)

// ErrArtifactNotFound is returned for reads of unknown artifact ids.
var ErrArtifactNotFound = errors.New("artifact not found")

// Repository reads the immutable artifact catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new artifacts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetArtifact retrieves one catalog entry.
func (r *Repository) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var a models.Artifact
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, category, era, base_value FROM artifacts WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Category, &a.Era, &a.BaseValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &a, nil
}

// ListArtifacts returns the full catalog.
func (r *Repository) ListArtifacts(ctx context.Context) ([]models.Artifact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, category, era, base_value FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.Name, &a.Category, &a.Era, &a.BaseValue); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts: %w", err)
	}
	return artifacts, nil
}
