package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
)

// SweepSource defines what the sweeper needs from the auction repository.
type SweepSource interface {
	ListExpiredActive(ctx context.Context, limit int32) ([]models.Auction, error)
	ListEndedUnrecorded(ctx context.Context, limit int32) ([]models.Auction, error)
}

// SweeperConfig tunes the periodic reconciliation pass.
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int32
	RepairGrace time.Duration // leave freshly settled auctions to their live recorder
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:    5 * time.Second,
		BatchSize:   50,
		RepairGrace: 30 * time.Second,
	}
}

// Sweeper is the safety net behind the tick-driven settlement path. It
// settles expired auctions nobody is watching, and repairs ended auctions
// whose outcome write failed by resolving them as no-sale.
type Sweeper struct {
	source   SweepSource
	coord    *Coordinator
	recorder OutcomeRecorder
	clock    clockwork.Clock
	cfg      SweeperConfig
}

// NewSweeper creates a new settlement sweeper.
func NewSweeper(source SweepSource, coord *Coordinator, recorder OutcomeRecorder, clock clockwork.Clock, cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		source:   source,
		coord:    coord,
		recorder: recorder,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run loops until ctx is cancelled, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.cfg.Interval).Msg("settlement sweeper started")
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("settlement sweeper stopped")
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Both halves are idempotent; failures are logged
// and retried on the next interval.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.settleExpired(ctx)
	s.repairUnrecorded(ctx)
}

// settleExpired requests settlement for active auctions whose clock ran out,
// guaranteeing settlement within a bounded delay even with no client attached.
func (s *Sweeper) settleExpired(ctx context.Context) {
	expired, err := s.source.ListExpiredActive(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed to list expired auctions")
		return
	}
	for _, a := range expired {
		s.coord.Request(a.ID)
	}
	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("sweep requested settlement of expired auctions")
	}
}

// repairUnrecorded resolves ended auctions that have no history entry as
// no-sale. The grace period keeps the sweep from racing a live settlement
// whose recorder has not committed yet; the unique history constraint covers
// the residual race.
func (s *Sweeper) repairUnrecorded(ctx context.Context) {
	stale, err := s.source.ListEndedUnrecorded(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed to list unrecorded auctions")
		return
	}

	now := s.clock.Now()
	for _, a := range stale {
		settledAt := a.CreatedAt
		if a.SettledAt != nil {
			settledAt = *a.SettledAt
		}
		if now.Sub(settledAt) < s.cfg.RepairGrace {
			continue
		}

		out := auction.Outcome{
			AuctionID:  a.ID,
			RoomID:     a.RoomID,
			ArtifactID: a.ArtifactID,
			WinnerID:   nil, // artifact returns to the unclaimed pool
			WinningBid: 0,
			SettledAt:  settledAt,
		}
		err := s.recorder.RecordOutcome(ctx, out)
		if err != nil && !errors.Is(err, ErrOutcomeRecorded) {
			log.Error().Err(err).Str("auction_id", a.ID.String()).Msg("sweep failed to repair unrecorded auction")
			continue
		}
		log.Warn().
			Str("auction_id", a.ID.String()).
			Str("artifact_id", a.ArtifactID).
			Msg("repaired ended auction without outcome as no-sale")
	}
}
