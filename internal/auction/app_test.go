package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohall/curio/internal/models"
)

// fakeRepo mirrors the store's conditional-write semantics in memory: bids
// are accepted only against an active row with a strictly lower highest bid,
// settlement transitions active to ended at most once.
type fakeRepo struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]models.Bid
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
	}
}

func (r *fakeRepo) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.auctions {
		if a.RoomID == req.RoomID && a.ArtifactID == req.ArtifactID && a.Status == models.AuctionStatusActive {
			return nil, ErrDuplicateAuction
		}
	}
	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	a := &models.Auction{
		ID:          id,
		RoomID:      req.RoomID,
		ArtifactID:  req.ArtifactID,
		Status:      models.AuctionStatusActive,
		DurationSec: req.DurationSec,
		CreatedAt:   time.Now(),
	}
	r.auctions[id] = a
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Auction
	for _, a := range r.auctions {
		if a.RoomID == roomID && a.Status == models.AuctionStatusActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) RecordBid(ctx context.Context, auctionID uuid.UUID, playerID string, amount int64) (*models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive {
		return nil, ErrAuctionNotActive
	}
	if amount <= a.HighestBid {
		return nil, ErrBidTooLow
	}
	a.HighestBid = amount
	a.HighestBidder = &playerID
	bid := models.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		PlayerID:  playerID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	r.bids[auctionID] = append(r.bids[auctionID], bid)
	return &bid, nil
}

func (r *fakeRepo) SettleAuction(ctx context.Context, auctionID uuid.UUID) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive {
		return nil, ErrAlreadySettled
	}
	now := time.Now()
	a.Status = models.AuctionStatusEnded
	a.SettledAt = &now
	return &Outcome{
		AuctionID:  a.ID,
		RoomID:     a.RoomID,
		ArtifactID: a.ArtifactID,
		WinnerID:   a.HighestBidder,
		WinningBid: a.HighestBid,
		SettledAt:  now,
	}, nil
}

func (r *fakeRepo) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Bid(nil), r.bids[auctionID]...), nil
}

// fakePrefilter records observed prices and optionally rejects everything.
type fakePrefilter struct {
	mu       sync.Mutex
	reject   error
	observed []int64
}

func (f *fakePrefilter) Prefilter(ctx context.Context, auctionID uuid.UUID, amount int64) error {
	return f.reject
}

func (f *fakePrefilter) ObserveAccepted(ctx context.Context, auctionID uuid.UUID, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, amount)
}

func (f *fakePrefilter) lastObserved() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.observed) == 0 {
		return 0, false
	}
	return f.observed[len(f.observed)-1], true
}

type fakeOutbox struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeOutbox) InsertAuctionBidUpdate(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestApp(t *testing.T) (*App, *fakeRepo, *fakePrefilter, *fakeOutbox) {
	t.Helper()
	repo := newFakeRepo()
	pf := &fakePrefilter{}
	ob := &fakeOutbox{}
	return NewApp(repo, repo, pf, ob), repo, pf, ob
}

func startTestAuction(t *testing.T, app *App, roomID uuid.UUID, artifactID string) *models.Auction {
	t.Helper()
	a, err := app.StartAuction(context.Background(), CreateAuctionRequest{
		RoomID:      roomID,
		ArtifactID:  artifactID,
		DurationSec: 30,
	})
	require.NoError(t, err)
	return a
}

func TestStartAuction_Validation(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	ctx := context.Background()

	_, err := app.StartAuction(ctx, CreateAuctionRequest{RoomID: uuid.New(), DurationSec: 30})
	assert.Error(t, err, "missing artifact id should fail")

	_, err = app.StartAuction(ctx, CreateAuctionRequest{RoomID: uuid.New(), ArtifactID: "vase", DurationSec: 0})
	assert.Error(t, err, "non-positive duration should fail")
}

func TestStartAuction_DuplicateArtifact(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	roomID := uuid.New()

	startTestAuction(t, app, roomID, "vase")

	_, err := app.StartAuction(context.Background(), CreateAuctionRequest{
		RoomID:      roomID,
		ArtifactID:  "vase",
		DurationSec: 30,
	})
	assert.ErrorIs(t, err, ErrDuplicateAuction)
}

func TestStartAuction_ClientProposedID(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	id := uuid.New()

	a, err := app.StartAuction(context.Background(), CreateAuctionRequest{
		ID:          &id,
		RoomID:      uuid.New(),
		ArtifactID:  "vase",
		DurationSec: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
}

func TestPlaceBid_AcceptsHigherBid(t *testing.T) {
	app, _, pf, ob := newTestApp(t)
	roomID := uuid.New()
	a := startTestAuction(t, app, roomID, "vase")
	ctx := context.Background()

	bid, err := app.PlaceBid(ctx, a.ID, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bid.Amount)

	current, err := app.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), current.HighestBid)
	require.NotNil(t, current.HighestBidder)
	assert.Equal(t, "alice", *current.HighestBidder)

	last, ok := pf.lastObserved()
	require.True(t, ok, "accepted bid should update the price cache")
	assert.Equal(t, int64(100), last)

	ob.mu.Lock()
	defer ob.mu.Unlock()
	assert.Len(t, ob.payloads, 1, "accepted bid should stage a bid update hint")
}

func TestPlaceBid_RejectsEqualAndLower(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	a := startTestAuction(t, app, uuid.New(), "vase")
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, a.ID, "alice", 100)
	require.NoError(t, err)

	_, err = app.PlaceBid(ctx, a.ID, "bob", 100)
	assert.ErrorIs(t, err, ErrBidTooLow, "equal bid must lose")

	_, err = app.PlaceBid(ctx, a.ID, "bob", 50)
	assert.ErrorIs(t, err, ErrBidTooLow)

	current, err := app.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", *current.HighestBidder, "rejected bids must not change state")
}

func TestPlaceBid_RejectionResyncsPrice(t *testing.T) {
	app, _, pf, _ := newTestApp(t)
	a := startTestAuction(t, app, uuid.New(), "vase")
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, a.ID, "alice", 100)
	require.NoError(t, err)

	_, err = app.PlaceBid(ctx, a.ID, "bob", 40)
	require.ErrorIs(t, err, ErrBidTooLow)

	last, ok := pf.lastObserved()
	require.True(t, ok)
	assert.Equal(t, int64(100), last, "rejection should refresh the cache from the authoritative row")
}

func TestPlaceBid_SettledAuction(t *testing.T) {
	app, repo, _, _ := newTestApp(t)
	a := startTestAuction(t, app, uuid.New(), "vase")
	ctx := context.Background()

	_, err := repo.SettleAuction(ctx, a.ID)
	require.NoError(t, err)

	_, err = app.PlaceBid(ctx, a.ID, "alice", 100)
	assert.ErrorIs(t, err, ErrAuctionNotActive)
}

func TestPlaceBid_InvalidInput(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	a := startTestAuction(t, app, uuid.New(), "vase")
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, a.ID, "", 100)
	assert.Error(t, err, "empty player id should fail")

	_, err = app.PlaceBid(ctx, a.ID, "alice", 0)
	assert.ErrorIs(t, err, ErrBidTooLow)

	_, err = app.PlaceBid(ctx, uuid.New(), "alice", 100)
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

// TestPlaceBid_ConcurrentBidsStayMonotonic drives many concurrent bidders at
// one auction and verifies the accepted sequence is strictly increasing and
// the final state reflects the highest accepted bid.
func TestPlaceBid_ConcurrentBidsStayMonotonic(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	a := startTestAuction(t, app, uuid.New(), "vase")
	ctx := context.Background()

	const bidders = 32
	var wg sync.WaitGroup
	var acceptedMu sync.Mutex
	var accepted []int64

	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			amount := int64(10 * (n + 1))
			if bid, err := app.PlaceBid(ctx, a.ID, "player", amount); err == nil {
				acceptedMu.Lock()
				accepted = append(accepted, bid.Amount)
				acceptedMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, accepted, "at least the first processed bid must be accepted")

	ledger, err := app.ListBids(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, ledger, len(accepted), "ledger must contain exactly the accepted bids")
	for i := 1; i < len(ledger); i++ {
		assert.Greater(t, ledger[i].Amount, ledger[i-1].Amount, "accepted sequence must be strictly increasing")
	}

	var max int64
	for _, amt := range accepted {
		if amt > max {
			max = amt
		}
	}
	current, err := app.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, max, current.HighestBid)
}

func TestPlaceBid_PrefilterShortCircuits(t *testing.T) {
	repo := newFakeRepo()
	pf := &fakePrefilter{reject: ErrBidTooLow}
	app := NewApp(repo, repo, pf, nil)
	a, err := app.StartAuction(context.Background(), CreateAuctionRequest{
		RoomID:      uuid.New(),
		ArtifactID:  "vase",
		DurationSec: 30,
	})
	require.NoError(t, err)

	_, err = app.PlaceBid(context.Background(), a.ID, "alice", 100)
	assert.ErrorIs(t, err, ErrBidTooLow)

	ledger, err := app.ListBids(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, ledger, "prefiltered bid must never reach the ledger")
}

type appliedBid struct {
	roomID    uuid.UUID
	auctionID uuid.UUID
	amount    int64
	bidder    string
}

type fakeLocals struct {
	mu      sync.Mutex
	applied []appliedBid
}

func (f *fakeLocals) ApplyBid(roomID uuid.UUID, auctionID uuid.UUID, amount int64, bidder string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, appliedBid{roomID: roomID, auctionID: auctionID, amount: amount, bidder: bidder})
}

func TestPlaceBid_FeedsLocalObserverCache(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	locals := &fakeLocals{}
	app.SetLocalObserver(locals)

	roomID := uuid.New()
	a := startTestAuction(t, app, roomID, "vase")

	_, err := app.PlaceBid(context.Background(), a.ID, "alice", 100)
	require.NoError(t, err)

	require.Len(t, locals.applied, 1)
	got := locals.applied[0]
	assert.Equal(t, roomID, got.roomID)
	assert.Equal(t, a.ID, got.auctionID)
	assert.Equal(t, int64(100), got.amount)
	assert.Equal(t, "alice", got.bidder)
}

func TestPlaceBid_RejectedBidSkipsLocalObserver(t *testing.T) {
	app, _, _, _ := newTestApp(t)
	locals := &fakeLocals{}
	app.SetLocalObserver(locals)

	a := startTestAuction(t, app, uuid.New(), "vase")
	_, err := app.PlaceBid(context.Background(), a.ID, "alice", 100)
	require.NoError(t, err)
	_, err = app.PlaceBid(context.Background(), a.ID, "bob", 50)
	assert.ErrorIs(t, err, ErrBidTooLow)

	require.Len(t, locals.applied, 1, "only the accepted bid reaches the local cache")
}
