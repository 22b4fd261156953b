package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
)

// Gateway defines what the coordinator needs from the authoritative auction
// store.
type Gateway interface {
	SettleAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Outcome, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error)
}

// OutcomeRecorder durably persists a captured outcome.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, out auction.Outcome) error
}

// HistoryReader looks up the committed outcome of a settled auction.
type HistoryReader interface {
	GetEntryByAuction(ctx context.Context, auctionID uuid.UUID) (*models.HistoryEntry, error)
}

// Locals drops an auction from per-observer caches as soon as settlement
// commits, ahead of the broadcast-driven resync. Optional.
type Locals interface {
	Drop(roomID uuid.UUID, auctionID uuid.UUID)
}

// Coordinator executes the end-of-auction transition. Any number of callers
// may request settlement of the same auction; the store's conditional update
// guarantees at most one wins, and everyone receives the same committed
// outcome.
type Coordinator struct {
	gateway  Gateway
	recorder OutcomeRecorder
	history  HistoryReader
	locals   Locals

	numWorkers int
	workCh     chan uuid.UUID

	// Track in-flight work so duplicate signals collapse into one attempt.
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewCoordinator creates a settlement coordinator with a small worker pool
// for asynchronous requests.
func NewCoordinator(gateway Gateway, recorder OutcomeRecorder, history HistoryReader, locals Locals) *Coordinator {
	numWorkers := 4
	return &Coordinator{
		gateway:    gateway,
		recorder:   recorder,
		history:    history,
		locals:     locals,
		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*4),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// SetLocals wires the cache dropper after construction. The observer hub
// needs the coordinator to exist first, so this breaks the cycle. Must be
// called before Run.
func (c *Coordinator) SetLocals(locals Locals) {
	c.locals = locals
}

// Request queues an asynchronous settlement attempt. Safe to call from timer
// callbacks: it never blocks and never performs I/O. Duplicate requests for
// an auction already being settled are dropped.
func (c *Coordinator) Request(auctionID uuid.UUID) {
	c.inFlightMu.Lock()
	if c.inFlight[auctionID] {
		c.inFlightMu.Unlock()
		return
	}
	c.inFlight[auctionID] = true
	c.inFlightMu.Unlock()

	select {
	case c.workCh <- auctionID:
	default:
		// Queue full; give the slot back. The next tick or sweep re-requests.
		c.inFlightMu.Lock()
		delete(c.inFlight, auctionID)
		c.inFlightMu.Unlock()
		log.Warn().Str("auction_id", auctionID.String()).Msg("settlement queue full, request dropped")
	}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().Int("workers", c.numWorkers).Msg("settlement coordinator started")

	var wg sync.WaitGroup
	for i := 0; i < c.numWorkers; i++ {
		wg.Add(1)
		go c.worker(ctx, &wg, i)
	}
	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("settlement coordinator stopped")
}

func (c *Coordinator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case auctionID := <-c.workCh:
			if _, err := c.Settle(ctx, auctionID); err != nil {
				log.Error().
					Err(err).
					Str("auction_id", auctionID.String()).
					Int("worker_id", workerID).
					Msg("settlement attempt failed")
			}
			c.inFlightMu.Lock()
			delete(c.inFlight, auctionID)
			c.inFlightMu.Unlock()
		}
	}
}

// Settle attempts the exactly-once termination of an auction and returns the
// committed outcome. Losing the race to another attempt is not an error: the
// already-committed result is fetched and returned with AlreadySettled set.
func (c *Coordinator) Settle(ctx context.Context, auctionID uuid.UUID) (*Result, error) {
	out, err := c.gateway.SettleAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, auction.ErrAlreadySettled) {
			// Race lost. Silent by design of the protocol: log for
			// diagnostics only and report the committed outcome.
			log.Debug().Str("auction_id", auctionID.String()).Msg("auction already settled by another attempt")
			return c.committedResult(ctx, auctionID)
		}
		return nil, fmt.Errorf("failed to settle auction: %w", err)
	}

	// The transition committed; the auction is terminal no matter what
	// happens below. A failed outcome write is left for the repair sweep and
	// must not re-trigger settlement.
	if err := c.recorder.RecordOutcome(ctx, *out); err != nil && !errors.Is(err, ErrOutcomeRecorded) {
		return nil, fmt.Errorf("auction %s ended but outcome not recorded: %w", auctionID, err)
	}

	if c.locals != nil {
		c.locals.Drop(out.RoomID, out.AuctionID)
	}

	res := &Result{Outcome: *out}
	winner := "none"
	if !res.NoSale() {
		winner = *out.WinnerID
	}
	log.Info().
		Str("auction_id", auctionID.String()).
		Str("winner", winner).
		Int64("winning_bid", out.WinningBid).
		Msg("auction settled")

	return res, nil
}

// committedResult reconstructs the outcome of an auction settled by someone
// else, preferring the history entry and falling back to the terminal auction
// row while the winner's recorder is still in flight.
func (c *Coordinator) committedResult(ctx context.Context, auctionID uuid.UUID) (*Result, error) {
	if entry, err := c.history.GetEntryByAuction(ctx, auctionID); err == nil {
		return &Result{
			Outcome: auction.Outcome{
				AuctionID:  entry.AuctionID,
				RoomID:     entry.RoomID,
				ArtifactID: entry.ArtifactID,
				WinnerID:   entry.WinnerID,
				WinningBid: entry.WinningBid,
				SettledAt:  entry.SettledAt,
			},
			AlreadySettled: true,
		}, nil
	}

	a, err := c.gateway.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read settled auction: %w", err)
	}
	out := auction.Outcome{
		AuctionID:  a.ID,
		RoomID:     a.RoomID,
		ArtifactID: a.ArtifactID,
		WinnerID:   a.HighestBidder,
		WinningBid: a.HighestBid,
	}
	if a.SettledAt != nil {
		out.SettledAt = *a.SettledAt
	}
	return &Result{Outcome: out, AlreadySettled: true}, nil
}

// SettleRoom force-settles every active auction in a room, used on room
// teardown. Individual race losses are ignored; genuine failures are
// collected.
func (c *Coordinator) SettleRoom(ctx context.Context, roomID uuid.UUID) error {
	active, err := c.gateway.ListActiveAuctions(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to list active auctions for teardown: %w", err)
	}

	var errs []error
	for _, a := range active {
		if _, err := c.Settle(ctx, a.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("room teardown settled with %d failures: %w", len(errs), errors.Join(errs...))
	}

	log.Info().Str("room_id", roomID.String()).Int("count", len(active)).Msg("room auctions force-settled")
	return nil
}
