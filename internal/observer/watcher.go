package observer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/models"
)

// ActiveLister reads a room's active auctions from the authoritative store.
type ActiveLister interface {
	ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error)
}

// SettleRequester queues a settlement attempt. Must be non-blocking; the
// watcher calls it from its tick loop.
type SettleRequester interface {
	Request(auctionID uuid.UUID)
}

// WatcherConfig tunes the per-room tick loop.
type WatcherConfig struct {
	TickInterval time.Duration
	ResyncEvery  int // full authoritative resync every N ticks
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		TickInterval: time.Second,
		ResyncEvery:  15,
	}
}

// Watcher drives one room's countdown. Each tick it derives remaining time
// for every cached auction and signals the settlement coordinator for the
// expired ones; it never settles anything itself. A periodic full resync
// rebuilds the cache from the store.
type Watcher struct {
	cache   *RoomCache
	gateway ActiveLister
	settle  SettleRequester
	clock   clockwork.Clock
	cfg     WatcherConfig
}

// NewWatcher creates a watcher over an existing room cache.
func NewWatcher(cache *RoomCache, gateway ActiveLister, settle SettleRequester, clock clockwork.Clock, cfg WatcherConfig) *Watcher {
	return &Watcher{
		cache:   cache,
		gateway: gateway,
		settle:  settle,
		clock:   clock,
		cfg:     cfg,
	}
}

// Run loops until ctx is cancelled. The tick body only signals and mutates
// the local cache; the lone I/O call is the bounded periodic resync.
func (w *Watcher) Run(ctx context.Context) {
	log.Info().
		Str("room_id", w.cache.RoomID().String()).
		Dur("tick", w.cfg.TickInterval).
		Msg("room watcher started")

	ticker := w.clock.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room_id", w.cache.RoomID().String()).Msg("room watcher stopped")
			return
		case <-ticker.Chan():
			w.Tick()
			ticks++
			if w.cfg.ResyncEvery > 0 && ticks%w.cfg.ResyncEvery == 0 {
				if err := w.Refresh(ctx); err != nil {
					log.Warn().Err(err).Str("room_id", w.cache.RoomID().String()).Msg("periodic resync failed, keeping last-known cache")
				}
			}
		}
	}
}

// Tick signals settlement for every cached auction whose derived remaining
// time reached zero. Multiple observers may signal the same auction in the
// same second; at most one attempt transitions it.
func (w *Watcher) Tick() {
	for _, id := range w.cache.Expired() {
		w.settle.Request(id)
	}
}

// Refresh rebuilds the cache from an authoritative read and immediately
// requests settlement for any auction the read shows as already expired,
// rather than waiting for the next tick.
func (w *Watcher) Refresh(ctx context.Context) error {
	fresh, err := w.gateway.ListActiveAuctions(ctx, w.cache.RoomID())
	if err != nil {
		return err
	}
	w.cache.Replace(fresh)

	now := w.clock.Now()
	for _, a := range fresh {
		if a.Expired(now) {
			w.settle.Request(a.ID)
		}
	}
	return nil
}
