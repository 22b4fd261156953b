package bids

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
)

// PriceSource is the cache the validator consults for fast rejection.
type PriceSource interface {
	Get(ctx context.Context, auctionID uuid.UUID) (int64, bool, error)
	Set(ctx context.Context, auctionID uuid.UUID, amount int64) error
}

// AuctionReader reads authoritative auction state, used to double-check a
// cache-based rejection before surfacing it.
type AuctionReader interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
}

// ValidateProposal checks a proposed bid against a cached auction snapshot.
// Advisory only: the store re-validates against authoritative state, so a
// proposal that passes here may still be rejected if another bid landed first.
func ValidateProposal(cached *models.Auction, amount int64) error {
	if cached.Status != models.AuctionStatusActive {
		return auction.ErrAuctionNotActive
	}
	if amount <= cached.HighestBid {
		return auction.ErrBidTooLow
	}
	return nil
}

// Validator pre-filters bids against the hot-price cache. A bid that looks
// too low based on cache is verified against the store before rejection, so
// stale cache entries never refuse a valid bid.
type Validator struct {
	prices PriceSource
	store  AuctionReader
}

// NewValidator creates a new bid validator.
func NewValidator(prices PriceSource, store AuctionReader) *Validator {
	return &Validator{
		prices: prices,
		store:  store,
	}
}

// Prefilter returns ErrBidTooLow when the proposed amount cannot beat the
// verified current highest bid, or ErrAuctionNotActive when the verified row
// shows the auction ended. Cache errors degrade to letting the store decide
// rather than blocking the bid.
func (v *Validator) Prefilter(ctx context.Context, auctionID uuid.UUID, amount int64) error {
	cached, ok, err := v.prices.Get(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("price cache read failed, skipping prefilter")
		return nil
	}
	if !ok || amount > cached {
		return nil
	}

	// Cache says too low; confirm against the authoritative row in case the
	// cache is stale.
	current, err := v.store.GetAuction(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("auction re-read failed, skipping prefilter")
		return nil
	}
	if current.HighestBid != cached {
		if err := v.prices.Set(ctx, auctionID, current.HighestBid); err != nil {
			log.Warn().Err(err).Msg("failed to refresh stale price cache entry")
		}
	}
	return ValidateProposal(current, amount)
}

// ObserveAccepted records a new highest bid in the cache after the store
// accepted it (or after a forced resync).
func (v *Validator) ObserveAccepted(ctx context.Context, auctionID uuid.UUID, amount int64) {
	if err := v.prices.Set(ctx, auctionID, amount); err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("failed to update price cache")
	}
}
