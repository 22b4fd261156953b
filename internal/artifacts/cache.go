package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/models"
)

const catalogKey = "curio:artifacts:catalog"

// Source loads catalog entries from the backing store.
type Source interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifacts(ctx context.Context) ([]models.Artifact, error)
}

// Cache is a Redis read-through cache over the artifact catalog. The catalog
// is immutable, so entries only expire to pick up out-of-band reloads. Redis
// failures degrade to reading the store directly.
type Cache struct {
	client *redis.Client
	source Source
	ttl    time.Duration
}

// NewCache creates a read-through catalog cache.
func NewCache(client *redis.Client, source Source, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		source: source,
		ttl:    ttl,
	}
}

// ListArtifacts returns the full catalog, caching it as one JSON blob.
func (c *Cache) ListArtifacts(ctx context.Context) ([]models.Artifact, error) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if err == nil {
		var artifacts []models.Artifact
		if err := json.Unmarshal(raw, &artifacts); err == nil {
			return artifacts, nil
		}
		log.Warn().Msg("corrupt catalog cache entry, reloading from store")
	} else if err != redis.Nil {
		log.Warn().Err(err).Msg("catalog cache read failed, falling back to store")
	}

	artifacts, err := c.source.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(artifacts); err == nil {
		if err := c.client.Set(ctx, catalogKey, raw, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to populate catalog cache")
		}
	}
	return artifacts, nil
}

// GetArtifact returns one catalog entry, served from the cached catalog when
// possible.
func (c *Cache) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	artifacts, err := c.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range artifacts {
		if artifacts[i].ID == id {
			return &artifacts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
}
