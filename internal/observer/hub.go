package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Hub owns one watcher+reconciler pair per observed room. It implements the
// settlement coordinator's Locals interface so committed settlements drop out
// of caches immediately, ahead of the notification-driven resync.
type Hub struct {
	gateway ActiveLister
	settle  SettleRequester
	nc      *nats.Conn
	clock   clockwork.Clock
	cfg     WatcherConfig

	mu    sync.Mutex
	rooms map[uuid.UUID]*roomHandle
}

type roomHandle struct {
	cache  *RoomCache
	cancel context.CancelFunc
}

// NewHub creates an observer hub.
func NewHub(gateway ActiveLister, settle SettleRequester, nc *nats.Conn, clock clockwork.Clock, cfg WatcherConfig) *Hub {
	return &Hub{
		gateway: gateway,
		settle:  settle,
		nc:      nc,
		clock:   clock,
		cfg:     cfg,
		rooms:   make(map[uuid.UUID]*roomHandle),
	}
}

// Watch starts observing a room: primes the cache with an authoritative read,
// then runs the tick loop and the broadcast reconciler until Unwatch or ctx
// cancellation. Watching an already-watched room is a no-op.
func (h *Hub) Watch(ctx context.Context, roomID uuid.UUID) (*RoomCache, error) {
	h.mu.Lock()
	if handle, ok := h.rooms[roomID]; ok {
		h.mu.Unlock()
		return handle.cache, nil
	}

	cache := NewRoomCache(roomID, h.clock)
	watcher := NewWatcher(cache, h.gateway, h.settle, h.clock, h.cfg)
	roomCtx, cancel := context.WithCancel(ctx)
	h.rooms[roomID] = &roomHandle{cache: cache, cancel: cancel}
	h.mu.Unlock()

	if err := watcher.Refresh(roomCtx); err != nil {
		h.mu.Lock()
		delete(h.rooms, roomID)
		h.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("failed to prime room cache: %w", err)
	}

	go watcher.Run(roomCtx)

	reconciler := NewReconciler(h.nc, RoomSubject(roomID), watcher)
	go func() {
		if err := reconciler.Run(roomCtx); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("reconciler exited")
		}
	}()

	return cache, nil
}

// Cache returns the cache for a watched room.
func (h *Hub) Cache(roomID uuid.UUID) (*RoomCache, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	return handle.cache, true
}

// Unwatch stops observing a room and clears its cache.
func (h *Hub) Unwatch(roomID uuid.UUID) {
	h.mu.Lock()
	handle, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
	if ok {
		handle.cancel()
		log.Info().Str("room_id", roomID.String()).Msg("room unwatched")
	}
}

// ApplyBid folds an accepted bid into the room's cache, if watched. The
// cache only ever raises a price, so stale or out-of-order applications
// cannot lower what a fresher read already showed.
func (h *Hub) ApplyBid(roomID uuid.UUID, auctionID uuid.UUID, amount int64, bidder string) {
	h.mu.Lock()
	handle, ok := h.rooms[roomID]
	h.mu.Unlock()
	if ok {
		handle.cache.ApplyBid(auctionID, amount, bidder)
	}
}

// Drop removes a settled auction from the room's cache, if watched.
func (h *Hub) Drop(roomID uuid.UUID, auctionID uuid.UUID) {
	h.mu.Lock()
	handle, ok := h.rooms[roomID]
	h.mu.Unlock()
	if ok {
		handle.cache.Drop(auctionID)
	}
}

// RoomSubject is the NATS subject carrying a room's broadcast events.
func RoomSubject(roomID uuid.UUID) string {
	return fmt.Sprintf("curio.rooms.%s.>", roomID)
}
