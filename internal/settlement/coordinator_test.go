package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
)

// fakeGateway mirrors the store's settle semantics: the active->ended
// transition succeeds exactly once per auction.
type fakeGateway struct {
	mu          sync.Mutex
	auctions    map[uuid.UUID]*models.Auction
	transitions int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{auctions: make(map[uuid.UUID]*models.Auction)}
}

func (g *fakeGateway) add(a models.Auction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := a
	g.auctions[a.ID] = &cp
}

func (g *fakeGateway) SettleAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.auctions[auctionID]
	if !ok {
		return nil, auction.ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive {
		return nil, auction.ErrAlreadySettled
	}
	now := time.Now()
	a.Status = models.AuctionStatusEnded
	a.SettledAt = &now
	g.transitions++
	return &auction.Outcome{
		AuctionID:  a.ID,
		RoomID:     a.RoomID,
		ArtifactID: a.ArtifactID,
		WinnerID:   a.HighestBidder,
		WinningBid: a.HighestBid,
		SettledAt:  now,
	}, nil
}

func (g *fakeGateway) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.auctions[id]
	if !ok {
		return nil, auction.ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (g *fakeGateway) ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Auction
	for _, a := range g.auctions {
		if a.RoomID == roomID && a.Status == models.AuctionStatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (g *fakeGateway) transitionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitions
}

// fakeRecorder enforces write-once outcomes the way the history table's
// unique constraint does.
type fakeRecorder struct {
	mu       sync.Mutex
	recorded map[uuid.UUID]auction.Outcome
	failErr  error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{recorded: make(map[uuid.UUID]auction.Outcome)}
}

func (r *fakeRecorder) RecordOutcome(ctx context.Context, out auction.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	if _, ok := r.recorded[out.AuctionID]; ok {
		return ErrOutcomeRecorded
	}
	r.recorded[out.AuctionID] = out
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recorded)
}

// fakeHistory serves committed outcomes back from the recorder.
type fakeHistory struct {
	rec *fakeRecorder
}

func (h *fakeHistory) GetEntryByAuction(ctx context.Context, auctionID uuid.UUID) (*models.HistoryEntry, error) {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	out, ok := h.rec.recorded[auctionID]
	if !ok {
		return nil, auction.ErrAuctionNotFound
	}
	return &models.HistoryEntry{
		ID:         uuid.New(),
		AuctionID:  out.AuctionID,
		RoomID:     out.RoomID,
		ArtifactID: out.ArtifactID,
		WinnerID:   out.WinnerID,
		WinningBid: out.WinningBid,
		SettledAt:  out.SettledAt,
	}, nil
}

type dropRecorder struct {
	mu    sync.Mutex
	drops []uuid.UUID
}

func (d *dropRecorder) Drop(roomID uuid.UUID, auctionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, auctionID)
}

func settledTestAuction(roomID uuid.UUID, bidder string, bid int64) models.Auction {
	a := models.Auction{
		ID:          uuid.New(),
		RoomID:      roomID,
		ArtifactID:  "vase",
		Status:      models.AuctionStatusActive,
		HighestBid:  bid,
		DurationSec: 30,
		CreatedAt:   time.Now().Add(-time.Minute),
	}
	if bidder != "" {
		a.HighestBidder = &bidder
	}
	return a
}

func TestSettle_RecordsOutcomeOnce(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	locals := &dropRecorder{}
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, locals)

	roomID := uuid.New()
	a := settledTestAuction(roomID, "alice", 100)
	gw.add(a)

	res, err := coord.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadySettled)
	require.NotNil(t, res.Outcome.WinnerID)
	assert.Equal(t, "alice", *res.Outcome.WinnerID)
	assert.Equal(t, int64(100), res.Outcome.WinningBid)

	assert.Equal(t, 1, rec.count())
	locals.mu.Lock()
	assert.Equal(t, []uuid.UUID{a.ID}, locals.drops, "committed settlement must drop the cache entry")
	locals.mu.Unlock()
}

func TestSettle_NoSale(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	a := settledTestAuction(uuid.New(), "", 0)
	gw.add(a)

	res, err := coord.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Outcome.WinnerID)
	assert.Equal(t, int64(0), res.Outcome.WinningBid)
	assert.True(t, res.NoSale())
}

// TestSettle_RaceLoserGetsCommittedOutcome settles twice: the second attempt
// loses the transition race but still receives the same committed outcome,
// flagged as already settled, with no duplicate record.
func TestSettle_RaceLoserGetsCommittedOutcome(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	a := settledTestAuction(uuid.New(), "alice", 100)
	gw.add(a)
	ctx := context.Background()

	first, err := coord.Settle(ctx, a.ID)
	require.NoError(t, err)

	second, err := coord.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadySettled)
	assert.Equal(t, first.Outcome.WinnerID, second.Outcome.WinnerID)
	assert.Equal(t, first.Outcome.WinningBid, second.Outcome.WinningBid)

	assert.Equal(t, 1, gw.transitionCount())
	assert.Equal(t, 1, rec.count())
}

// TestSettle_ConcurrentAttempts exercises many settlement attempts at once.
// Exactly one transition and one recorded outcome must result.
func TestSettle_ConcurrentAttempts(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	a := settledTestAuction(uuid.New(), "alice", 100)
	gw.add(a)

	const attempts = 16
	var wg sync.WaitGroup
	winners := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := coord.Settle(context.Background(), a.ID)
			if err == nil {
				winners <- !res.AlreadySettled
			}
		}()
	}
	wg.Wait()
	close(winners)

	var firstHand int
	for won := range winners {
		if won {
			firstHand++
		}
	}
	assert.Equal(t, 1, firstHand, "exactly one attempt wins the transition")
	assert.Equal(t, 1, gw.transitionCount())
	assert.Equal(t, 1, rec.count())
}

func TestSettle_LosingRaceBeforeRecordFallsBackToRow(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	a := settledTestAuction(uuid.New(), "alice", 100)
	gw.add(a)
	ctx := context.Background()

	// Transition directly through the gateway so no outcome is recorded yet,
	// as when the winner's recorder is still in flight.
	_, err := gw.SettleAuction(ctx, a.ID)
	require.NoError(t, err)

	res, err := coord.Settle(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadySettled)
	require.NotNil(t, res.Outcome.WinnerID)
	assert.Equal(t, "alice", *res.Outcome.WinnerID, "fallback must read the terminal auction row")
}

func TestRequest_DeduplicatesInFlight(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	id := uuid.New()
	coord.Request(id)
	coord.Request(id)
	coord.Request(id)

	assert.Equal(t, 1, len(coord.workCh), "duplicate requests must collapse into one queued attempt")
}

func TestSettleRoom_ForceSettlesAll(t *testing.T) {
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)

	roomID := uuid.New()
	a1 := settledTestAuction(roomID, "alice", 100)
	a2 := settledTestAuction(roomID, "bob", 50)
	other := settledTestAuction(uuid.New(), "carol", 75)
	gw.add(a1)
	gw.add(a2)
	gw.add(other)

	require.NoError(t, coord.SettleRoom(context.Background(), roomID))

	assert.Equal(t, 2, rec.count())
	left, err := gw.ListActiveAuctions(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, left)

	// The other room's auction is untouched.
	got, err := gw.GetAuction(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
}
