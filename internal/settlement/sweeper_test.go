package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
)

// fakeSweepSource feeds the sweeper fixed batches.
type fakeSweepSource struct {
	mu         sync.Mutex
	expired    []models.Auction
	unrecorded []models.Auction
}

func (s *fakeSweepSource) ListExpiredActive(ctx context.Context, limit int32) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired, nil
}

func (s *fakeSweepSource) ListEndedUnrecorded(ctx context.Context, limit int32) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unrecorded, nil
}

func newSweepFixture(t *testing.T) (*fakeSweepSource, *fakeRecorder, *Coordinator, *clockwork.FakeClock) {
	t.Helper()
	gw := newFakeGateway()
	rec := newFakeRecorder()
	coord := NewCoordinator(gw, rec, &fakeHistory{rec: rec}, nil)
	return &fakeSweepSource{}, rec, coord, clockwork.NewFakeClock()
}

func outcomeFor(a models.Auction, winner *string, bid int64) auction.Outcome {
	out := auction.Outcome{
		AuctionID:  a.ID,
		RoomID:     a.RoomID,
		ArtifactID: a.ArtifactID,
		WinnerID:   winner,
		WinningBid: bid,
	}
	if a.SettledAt != nil {
		out.SettledAt = *a.SettledAt
	}
	return out
}

func endedAuction(settledAgo time.Duration, now time.Time) models.Auction {
	settled := now.Add(-settledAgo)
	return models.Auction{
		ID:          uuid.New(),
		RoomID:      uuid.New(),
		ArtifactID:  "urn",
		Status:      models.AuctionStatusEnded,
		DurationSec: 30,
		CreatedAt:   settled.Add(-time.Minute),
		SettledAt:   &settled,
	}
}

// TestSweep_RequestsExpiredAuctions verifies that expired active auctions are
// queued for settlement even with no observer attached.
func TestSweep_RequestsExpiredAuctions(t *testing.T) {
	source, _, coord, clock := newSweepFixture(t)
	sweeper := NewSweeper(source, coord, coord.recorder, clock, DefaultSweeperConfig())

	a1 := settledTestAuction(uuid.New(), "alice", 10)
	a2 := settledTestAuction(uuid.New(), "bob", 20)
	source.expired = []models.Auction{a1, a2}

	sweeper.Sweep(context.Background())

	assert.Equal(t, 2, len(coord.workCh))
}

// TestSweep_RepairSkipsWithinGrace leaves a freshly ended auction alone so a
// live settlement's recorder can finish first.
func TestSweep_RepairSkipsWithinGrace(t *testing.T) {
	source, rec, coord, clock := newSweepFixture(t)
	cfg := DefaultSweeperConfig()
	sweeper := NewSweeper(source, coord, rec, clock, cfg)

	source.unrecorded = []models.Auction{endedAuction(cfg.RepairGrace/2, clock.Now())}

	sweeper.Sweep(context.Background())

	assert.Equal(t, 0, rec.count())
}

// TestSweep_RepairRecordsNoSale resolves an ended auction with no outcome as
// a no-sale once the grace period has passed.
func TestSweep_RepairRecordsNoSale(t *testing.T) {
	source, rec, coord, clock := newSweepFixture(t)
	cfg := DefaultSweeperConfig()
	sweeper := NewSweeper(source, coord, rec, clock, cfg)

	stale := endedAuction(cfg.RepairGrace+time.Second, clock.Now())
	source.unrecorded = []models.Auction{stale}

	sweeper.Sweep(context.Background())

	require.Equal(t, 1, rec.count())
	out := rec.recorded[stale.ID]
	assert.Nil(t, out.WinnerID)
	assert.Equal(t, int64(0), out.WinningBid)
	assert.Equal(t, *stale.SettledAt, out.SettledAt)
}

// TestSweep_RepairToleratesRecordedOutcome treats a lost race against a live
// recorder as completion rather than failure.
func TestSweep_RepairToleratesRecordedOutcome(t *testing.T) {
	source, rec, coord, clock := newSweepFixture(t)
	cfg := DefaultSweeperConfig()
	sweeper := NewSweeper(source, coord, rec, clock, cfg)

	stale := endedAuction(cfg.RepairGrace+time.Second, clock.Now())
	source.unrecorded = []models.Auction{stale}

	// The live path committed an outcome between the list and the repair.
	winner := "alice"
	require.NoError(t, rec.RecordOutcome(context.Background(), outcomeFor(stale, &winner, 40)))

	sweeper.Sweep(context.Background())

	require.Equal(t, 1, rec.count())
	out := rec.recorded[stale.ID]
	require.NotNil(t, out.WinnerID)
	assert.Equal(t, "alice", *out.WinnerID, "the committed outcome must not be overwritten")
}

// TestSweep_RepairFallsBackToCreatedAt handles rows whose settled timestamp
// never landed.
func TestSweep_RepairFallsBackToCreatedAt(t *testing.T) {
	source, rec, coord, clock := newSweepFixture(t)
	cfg := DefaultSweeperConfig()
	sweeper := NewSweeper(source, coord, rec, clock, cfg)

	stale := endedAuction(cfg.RepairGrace+time.Minute, clock.Now())
	stale.SettledAt = nil
	source.unrecorded = []models.Auction{stale}

	sweeper.Sweep(context.Background())

	require.Equal(t, 1, rec.count())
	assert.Equal(t, stale.CreatedAt, rec.recorded[stale.ID].SettledAt)
}
