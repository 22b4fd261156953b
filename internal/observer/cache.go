package observer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/curiohall/curio/internal/models"
)

// mergeGrace protects auctions this observer created moments ago from being
// discarded by a resync whose read raced the insert.
const mergeGrace = 2 * time.Second

// Snapshot is a cached auction tagged with the time it was fetched from the
// store.
type Snapshot struct {
	Auction   models.Auction
	FetchedAt time.Time
}

// RoomCache is one observer's in-memory mirror of a room's active auctions.
// It is a derived, time-bounded-stale view: reads serve countdown display and
// input validation, but it is never the source of truth and is rebuilt from
// authoritative reads on every resync.
type RoomCache struct {
	roomID uuid.UUID
	clock  clockwork.Clock

	mu      sync.RWMutex
	entries map[uuid.UUID]Snapshot
}

// NewRoomCache creates an empty cache for a room.
func NewRoomCache(roomID uuid.UUID, clock clockwork.Clock) *RoomCache {
	return &RoomCache{
		roomID:  roomID,
		clock:   clock,
		entries: make(map[uuid.UUID]Snapshot),
	}
}

// RoomID returns the room this cache mirrors.
func (c *RoomCache) RoomID() uuid.UUID {
	return c.roomID
}

// Put stores or refreshes a snapshot.
func (c *RoomCache) Put(a models.Auction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.ID] = Snapshot{Auction: a, FetchedAt: c.clock.Now()}
}

// Get returns the cached snapshot for an auction.
func (c *RoomCache) Get(id uuid.UUID) (models.Auction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[id]
	return snap.Auction, ok
}

// Drop removes an auction from the cache, e.g. right after settlement.
func (c *RoomCache) Drop(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Active returns all cached auctions.
func (c *RoomCache) Active() []models.Auction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Auction, 0, len(c.entries))
	for _, snap := range c.entries {
		out = append(out, snap.Auction)
	}
	return out
}

// Remaining derives the time left for a cached auction from its authoritative
// CreatedAt. Self-correcting for late joins and clock drift: any observer
// evaluating at the same instant computes the same value.
func (c *RoomCache) Remaining(id uuid.UUID) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	return snap.Auction.Remaining(c.clock.Now()), true
}

// Expired returns the ids of cached auctions whose clock has run out.
func (c *RoomCache) Expired() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.clock.Now()
	var ids []uuid.UUID
	for id, snap := range c.entries {
		if snap.Auction.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ApplyBid optimistically raises the cached highest bid after the store
// accepted it. Lower amounts are ignored; the next resync reconciles.
func (c *RoomCache) ApplyBid(id uuid.UUID, amount int64, bidder string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[id]
	if !ok || amount <= snap.Auction.HighestBid {
		return
	}
	snap.Auction.HighestBid = amount
	snap.Auction.HighestBidder = &bidder
	c.entries[id] = snap
}

// Replace rebuilds the cache from a fresh authoritative read. Entries not
// confirmed by the read are discarded so ghost auctions cannot accumulate
// after a race loss or remote settlement; entries fetched within the merge
// grace window survive one resync in case the read raced their creation.
func (c *RoomCache) Replace(fresh []models.Auction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	next := make(map[uuid.UUID]Snapshot, len(fresh))
	for _, a := range fresh {
		next[a.ID] = Snapshot{Auction: a, FetchedAt: now}
	}
	for id, snap := range c.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if now.Sub(snap.FetchedAt) < mergeGrace {
			next[id] = snap
		}
	}
	c.entries = next
}

// Len returns the number of cached auctions.
func (c *RoomCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
