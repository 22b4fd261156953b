package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/events"
	"github.com/curiohall/curio/internal/models"
)

// AuctionRepository defines what the app layer needs from the repository
type AuctionRepository interface {
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error)
	RecordBid(ctx context.Context, auctionID uuid.UUID, playerID string, amount int64) (*models.Bid, error)
	SettleAuction(ctx context.Context, auctionID uuid.UUID) (*Outcome, error)
}

// BidPrefilter rejects obviously-stale bids before they reach the store. It
// is advisory: the store re-validates against authoritative state, so a
// proposal that passes here may still lose to a concurrent bid.
type BidPrefilter interface {
	Prefilter(ctx context.Context, auctionID uuid.UUID, amount int64) error
	ObserveAccepted(ctx context.Context, auctionID uuid.UUID, amount int64)
}

// LedgerReader exposes the append-only bid history.
type LedgerReader interface {
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
}

// OutboxApp defines what the auction app needs from the outbox
type OutboxApp interface {
	InsertAuctionBidUpdate(ctx context.Context, roomID uuid.UUID, payload []byte) error
}

// LocalObserver applies accepted bids to in-process room caches, ahead of
// the broadcast-driven resync. Optional.
type LocalObserver interface {
	ApplyBid(roomID uuid.UUID, auctionID uuid.UUID, amount int64, bidder string)
}

// App handles auction business logic on top of the authoritative repository.
type App struct {
	repo      AuctionRepository
	ledger    LedgerReader
	prefilter BidPrefilter
	outbox    OutboxApp
	locals    LocalObserver
}

// NewApp creates a new auction App.
func NewApp(repo AuctionRepository, ledger LedgerReader, prefilter BidPrefilter, outbox OutboxApp) *App {
	return &App{
		repo:      repo,
		ledger:    ledger,
		prefilter: prefilter,
		outbox:    outbox,
	}
}

// SetLocalObserver wires the observer hub after construction; the hub needs
// this app's repository first. Must be called before serving traffic.
func (a *App) SetLocalObserver(locals LocalObserver) {
	a.locals = locals
}

// StartAuction creates a new active auction for an artifact. The stored
// CreatedAt is authoritative and may differ from anything the caller computed.
func (a *App) StartAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	if req.ArtifactID == "" {
		return nil, fmt.Errorf("validation failed: artifact id is required")
	}
	if req.DurationSec <= 0 {
		return nil, fmt.Errorf("validation failed: duration must be positive, got %d", req.DurationSec)
	}

	auction, err := a.repo.CreateAuction(ctx, req)
	if err != nil {
		if errors.Is(err, ErrDuplicateAuction) {
			return nil, ErrDuplicateAuction
		}
		return nil, fmt.Errorf("failed to start auction: %w", err)
	}

	log.Info().
		Str("auction_id", auction.ID.String()).
		Str("room_id", auction.RoomID.String()).
		Str("artifact_id", auction.ArtifactID).
		Int("duration_sec", auction.DurationSec).
		Msg("auction started")

	return auction, nil
}

// PlaceBid validates and records a bid. The prefilter gives fast rejection
// against cached state; acceptance is decided solely by the store's
// serialized conditional write. On rejection the hot-price cache is refreshed
// from the authoritative row so the caller's next read shows current state.
func (a *App) PlaceBid(ctx context.Context, auctionID uuid.UUID, playerID string, amount int64) (*models.Bid, error) {
	if playerID == "" {
		return nil, fmt.Errorf("validation failed: player id is required")
	}
	if amount <= 0 {
		return nil, ErrBidTooLow
	}

	if a.prefilter != nil {
		if err := a.prefilter.Prefilter(ctx, auctionID, amount); err != nil {
			return nil, err
		}
	}

	bid, err := a.repo.RecordBid(ctx, auctionID, playerID, amount)
	if err != nil {
		if errors.Is(err, ErrBidTooLow) || errors.Is(err, ErrAuctionNotActive) {
			a.resyncPrice(ctx, auctionID)
			return nil, err
		}
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}

	if a.prefilter != nil {
		a.prefilter.ObserveAccepted(ctx, auctionID, amount)
	}

	a.propagateBid(ctx, bid)

	log.Info().
		Str("auction_id", auctionID.String()).
		Str("player_id", playerID).
		Int64("amount", amount).
		Msg("bid accepted")

	return bid, nil
}

// GetAuction retrieves an auction by id.
func (a *App) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.repo.GetAuction(ctx, id)
}

// ListActiveAuctions returns the active auctions for a room.
func (a *App) ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error) {
	return a.repo.ListActiveAuctions(ctx, roomID)
}

// ListBids returns the append-only bid ledger for an auction.
func (a *App) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	bids, err := a.ledger.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// resyncPrice refreshes the hot-price cache from the authoritative row after
// a rejected bid, so stale local state self-corrects instead of repeating the
// same rejection.
func (a *App) resyncPrice(ctx context.Context, auctionID uuid.UUID) {
	if a.prefilter == nil {
		return
	}
	current, err := a.repo.GetAuction(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("failed to resync price after rejected bid")
		return
	}
	a.prefilter.ObserveAccepted(ctx, auctionID, current.HighestBid)
}

// propagateBid fans an accepted bid out: into the local observer cache and
// as a best-effort auction_bid_update hint to the outbox. Failure is logged,
// never surfaced: observers reconcile from the store on their next resync
// regardless.
func (a *App) propagateBid(ctx context.Context, bid *models.Bid) {
	if a.outbox == nil && a.locals == nil {
		return
	}
	current, err := a.repo.GetAuction(ctx, bid.AuctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", bid.AuctionID.String()).Msg("failed to read auction for bid update event")
		return
	}

	bidder := ""
	if current.HighestBidder != nil {
		bidder = *current.HighestBidder
	}

	if a.locals != nil {
		a.locals.ApplyBid(current.RoomID, bid.AuctionID, current.HighestBid, bidder)
	}
	if a.outbox == nil {
		return
	}

	payload, err := json.Marshal(events.AuctionBidUpdatePayload{
		AuctionID:     bid.AuctionID.String(),
		HighestBid:    current.HighestBid,
		HighestBidder: bidder,
		BidAt:         bid.CreatedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bid update payload")
		return
	}
	if err := a.outbox.InsertAuctionBidUpdate(ctx, current.RoomID, payload); err != nil {
		log.Error().Err(err).Str("auction_id", bid.AuctionID.String()).Msg("failed to insert bid update event")
	}
}
