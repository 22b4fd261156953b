package rounds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/rooms"
)

type fakeRoomRepo struct {
	room   *models.Room
	endErr error
	ended  bool
}

func (r *fakeRoomRepo) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	if r.room == nil || r.room.ID != id {
		return nil, rooms.ErrRoomNotFound
	}
	cp := *r.room
	return &cp, nil
}

func (r *fakeRoomRepo) StartGame(ctx context.Context, id uuid.UUID, roundTotal int) (*models.Room, error) {
	if r.room.Status != models.RoomStatusWaiting {
		return nil, rooms.ErrInvalidTransition
	}
	r.room.Status = models.RoomStatusPlaying
	r.room.RoundTotal = roundTotal
	cp := *r.room
	return &cp, nil
}

func (r *fakeRoomRepo) AdvanceRound(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	if r.room.Status != models.RoomStatusPlaying || r.room.RoundCurrent >= r.room.RoundTotal {
		return nil, rooms.ErrInvalidTransition
	}
	r.room.RoundCurrent++
	cp := *r.room
	return &cp, nil
}

func (r *fakeRoomRepo) EndRoom(ctx context.Context, id uuid.UUID) error {
	if r.endErr != nil {
		return r.endErr
	}
	if r.room.Status == models.RoomStatusEnded {
		return rooms.ErrInvalidTransition
	}
	r.room.Status = models.RoomStatusEnded
	r.ended = true
	return nil
}

type fakeArtifactSource struct {
	pool        []models.Artifact
	lastExclude map[string]bool
}

func (s *fakeArtifactSource) Draw(ctx context.Context, n int, exclude map[string]bool) ([]models.Artifact, error) {
	s.lastExclude = exclude
	var out []models.Artifact
	for _, a := range s.pool {
		if len(out) == n {
			break
		}
		if !exclude[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeStarter struct {
	active    []models.Auction
	started   []auction.CreateAuctionRequest
	duplicate map[string]bool
}

func (s *fakeStarter) StartAuction(ctx context.Context, req auction.CreateAuctionRequest) (*models.Auction, error) {
	if s.duplicate[req.ArtifactID] {
		return nil, auction.ErrDuplicateAuction
	}
	s.started = append(s.started, req)
	return &models.Auction{
		ID:          uuid.New(),
		RoomID:      req.RoomID,
		ArtifactID:  req.ArtifactID,
		Status:      models.AuctionStatusActive,
		DurationSec: req.DurationSec,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *fakeStarter) ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error) {
	return s.active, nil
}

type fakeTeardown struct {
	settledRooms []uuid.UUID
}

func (t *fakeTeardown) SettleRoom(ctx context.Context, roomID uuid.UUID) error {
	t.settledRooms = append(t.settledRooms, roomID)
	return nil
}

type fakeOwnership struct {
	owned []string
}

func (o *fakeOwnership) ListOwnedArtifactIDs(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	return o.owned, nil
}

type fakeOutbox struct {
	types []string
}

func (o *fakeOutbox) record(typ string) func(context.Context, uuid.UUID, []byte) error {
	return func(ctx context.Context, roomID uuid.UUID, payload []byte) error {
		o.types = append(o.types, typ)
		return nil
	}
}

func (o *fakeOutbox) InsertGameStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return o.record("game_started")(ctx, roomID, payload)
}

func (o *fakeOutbox) InsertAuctionStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return o.record("auction_started")(ctx, roomID, payload)
}

func (o *fakeOutbox) InsertRoundUpdated(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return o.record("round_updated")(ctx, roomID, payload)
}

func (o *fakeOutbox) InsertGameEnded(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return o.record("game_ended")(ctx, roomID, payload)
}

type fixture struct {
	app       *App
	roomRepo  *fakeRoomRepo
	artifacts *fakeArtifactSource
	starter   *fakeStarter
	ownership *fakeOwnership
	teardown  *fakeTeardown
	outbox    *fakeOutbox
	roomID    uuid.UUID
}

func newFixture(t *testing.T, status models.RoomStatus) *fixture {
	t.Helper()
	roomID := uuid.New()
	f := &fixture{
		roomRepo: &fakeRoomRepo{room: &models.Room{
			ID:      roomID,
			Status:  status,
			OwnerID: "owner",
		}},
		artifacts: &fakeArtifactSource{pool: []models.Artifact{
			{ID: "vase", Name: "Ming Vase"},
			{ID: "urn", Name: "Etruscan Urn"},
			{ID: "mask", Name: "Ceremonial Mask"},
		}},
		starter:   &fakeStarter{duplicate: map[string]bool{}},
		ownership: &fakeOwnership{},
		teardown:  &fakeTeardown{},
		outbox:    &fakeOutbox{},
		roomID:    roomID,
	}
	if status == models.RoomStatusPlaying {
		f.roomRepo.room.RoundTotal = 3
	}
	f.app = NewApp(f.roomRepo, f.artifacts, f.starter, f.ownership, f.teardown, f.outbox, Config{
		RoundTotal:         3,
		ArtifactsPerRound:  2,
		AuctionDurationSec: 30,
	})
	return f
}

func TestStartGame_OwnerOnly(t *testing.T) {
	f := newFixture(t, models.RoomStatusWaiting)

	_, err := f.app.StartGame(context.Background(), f.roomID, "stranger")
	assert.ErrorIs(t, err, ErrNotOwner)

	room, err := f.app.StartGame(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusPlaying, room.Status)
	assert.Equal(t, 3, room.RoundTotal)
	assert.Contains(t, f.outbox.types, "game_started")
}

func TestStartGame_AlreadyPlaying(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	_, err := f.app.StartGame(context.Background(), f.roomID, "owner")
	assert.ErrorIs(t, err, ErrRoomNotPlaying)
}

// TestAdvanceRound_StartsConfiguredAuctions checks that a round puts the
// configured number of artifacts up for auction with the configured clock.
func TestAdvanceRound_StartsConfiguredAuctions(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	started, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	require.Len(t, started, 2)
	for _, a := range started {
		assert.Equal(t, f.roomID, a.RoomID)
		assert.Equal(t, 30, a.DurationSec)
	}
	assert.Equal(t, 1, f.roomRepo.room.RoundCurrent)
	assert.Contains(t, f.outbox.types, "auction_started")
	assert.Contains(t, f.outbox.types, "round_updated")
}

// TestAdvanceRound_ExcludesActiveArtifacts keeps artifacts already on auction
// out of the draw.
func TestAdvanceRound_ExcludesActiveArtifacts(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.starter.active = []models.Auction{{ArtifactID: "vase", Status: models.AuctionStatusActive}}

	started, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	assert.True(t, f.artifacts.lastExclude["vase"])
	for _, a := range started {
		assert.NotEqual(t, "vase", a.ArtifactID)
	}
}

// TestAdvanceRound_ExcludesOwnedArtifacts keeps artifacts already won out of
// the draw. Re-auctioning one would collide with its ownership record when
// the new auction settles.
func TestAdvanceRound_ExcludesOwnedArtifacts(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.ownership.owned = []string{"vase"}

	started, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	assert.True(t, f.artifacts.lastExclude["vase"])
	for _, a := range started {
		assert.NotEqual(t, "vase", a.ArtifactID)
	}
}

// TestAdvanceRound_ToleratesDuplicateAuction continues when a concurrent
// advance created the same lot first.
func TestAdvanceRound_ToleratesDuplicateAuction(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.starter.duplicate["vase"] = true

	started, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "urn", started[0].ArtifactID)
}

func TestAdvanceRound_OwnerOnly(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	_, err := f.app.AdvanceRound(context.Background(), f.roomID, "stranger")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAdvanceRound_RoundLimit(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.roomRepo.room.RoundCurrent = 3

	_, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	assert.ErrorIs(t, err, ErrRoundLimit)
}

// TestAdvanceRound_FinalRoundEndsGameWithoutSettling verifies the last
// round's auctions keep running: the room closes but nothing is
// force-settled.
func TestAdvanceRound_FinalRoundEndsGameWithoutSettling(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.roomRepo.room.RoundCurrent = 2

	started, err := f.app.AdvanceRound(context.Background(), f.roomID, "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, started)
	assert.Equal(t, models.RoomStatusEnded, f.roomRepo.room.Status)
	assert.Empty(t, f.teardown.settledRooms, "final-round auctions must run out their clocks")
	assert.Contains(t, f.outbox.types, "game_ended")
}

// TestEndGame_SettlesActiveAuctions force-settles everything on an early end.
func TestEndGame_SettlesActiveAuctions(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	err := f.app.EndGame(context.Background(), f.roomID, "owner", "owner_ended")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.roomID}, f.teardown.settledRooms)
	assert.Equal(t, models.RoomStatusEnded, f.roomRepo.room.Status)
	assert.Contains(t, f.outbox.types, "game_ended")
}

func TestEndGame_OwnerOnly(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	err := f.app.EndGame(context.Background(), f.roomID, "stranger", "owner_ended")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Empty(t, f.teardown.settledRooms)
}

// TestTeardownRoom_NoOwnerCheck settles and closes a vacated room without an
// actor.
func TestTeardownRoom_NoOwnerCheck(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)

	err := f.app.TeardownRoom(context.Background(), f.roomID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.roomID}, f.teardown.settledRooms)
	assert.Equal(t, models.RoomStatusEnded, f.roomRepo.room.Status)
}

// TestTeardownRoom_AlreadyEnded is idempotent: ending an ended room is fine.
func TestTeardownRoom_AlreadyEnded(t *testing.T) {
	f := newFixture(t, models.RoomStatusPlaying)
	f.roomRepo.room.Status = models.RoomStatusEnded

	err := f.app.TeardownRoom(context.Background(), f.roomID)
	assert.NoError(t, err)
}
