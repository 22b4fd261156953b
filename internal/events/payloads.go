package events

import (
	"time"

	"github.com/curiohall/curio/internal/models"
)

// Event payload types shared between the domain packages, the outbox relay
// and the websocket gateway.
//
// Payloads are hints, never ground truth: consumers re-read authoritative
// state from the store rather than applying these fields directly.

// Event type names as they appear on the wire.
const (
	TypeGameStarted      = "game_started"
	TypeAuctionStarted   = "auction_started"
	TypeAuctionBidUpdate = "auction_bid_update"
	TypeAuctionEnded     = "auction_ended"
	TypeRoundUpdated     = "round_updated"
	TypeGameEnded        = "game_ended"
)

// GameStartedPayload is emitted when the room owner starts the game.
type GameStartedPayload struct {
	RoomID    string    `json:"room_id"`
	StartedAt time.Time `json:"started_at"`
}

// AuctionStartedPayload announces a new batch of auctions for a round.
type AuctionStartedPayload struct {
	RoomID    string            `json:"room_id"`
	Artifacts []models.Artifact `json:"artifacts"`
	Duration  int               `json:"duration"`
	StartedAt time.Time         `json:"started_at"`
}

// AuctionBidUpdatePayload is emitted after an accepted bid.
type AuctionBidUpdatePayload struct {
	AuctionID     string    `json:"auction_id"`
	HighestBid    int64     `json:"highest_bid"`
	HighestBidder string    `json:"highest_bidder"`
	BidAt         time.Time `json:"bid_at"`
}

// AuctionEndedPayload signals that an auction settled. It deliberately carries
// no outcome fields; recipients re-fetch from the store.
type AuctionEndedPayload struct {
	AuctionID string    `json:"auction_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// RoundUpdatedPayload is emitted when the round counter advances.
type RoundUpdatedPayload struct {
	Round int `json:"round"`
	Total int `json:"total"`
}

// GameEndedPayload is emitted when the room reaches its round limit or is
// torn down.
type GameEndedPayload struct {
	Reason  string    `json:"reason"`
	EndedAt time.Time `json:"ended_at"`
}
