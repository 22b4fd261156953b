package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus defines the status of an auction.
type AuctionStatus string

const (
	AuctionStatusActive AuctionStatus = "active"
	AuctionStatusEnded  AuctionStatus = "ended"
)

// Auction represents one timed sale of an artifact within a room.
//
// CreatedAt is the authoritative creation timestamp set by the store; remaining
// time is always derived from it rather than counted down locally.
type Auction struct {
	ID            uuid.UUID     `json:"id"`
	RoomID        uuid.UUID     `json:"room_id"`
	ArtifactID    string        `json:"artifact_id"`
	Status        AuctionStatus `json:"status"`
	HighestBid    int64         `json:"highest_bid"`
	HighestBidder *string       `json:"highest_bidder,omitempty"` // player id, nil until first bid
	DurationSec   int           `json:"duration_sec"`
	CreatedAt     time.Time     `json:"created_at"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

// Remaining derives the time left on the auction clock at the given instant.
// Negative values clamp to zero. Two observers evaluating this at the same
// instant agree regardless of when each of them first saw the auction.
func (a *Auction) Remaining(now time.Time) time.Duration {
	rem := time.Duration(a.DurationSec)*time.Second - now.Sub(a.CreatedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the auction clock has run out at the given instant.
func (a *Auction) Expired(now time.Time) bool {
	return a.Remaining(now) <= 0
}

// Bid is a single accepted bid. Immutable once recorded.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	PlayerID  string    `json:"player_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
