package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is the write-once record of a settled auction. WinnerID is nil
// for a no-sale.
type HistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	AuctionID  uuid.UUID `json:"auction_id"`
	RoomID     uuid.UUID `json:"room_id"`
	ArtifactID string    `json:"artifact_id"`
	WinnerID   *string   `json:"winner_id,omitempty"`
	WinningBid int64     `json:"winning_bid"`
	SettledAt  time.Time `json:"settled_at"`
}

// OwnershipRecord maps an artifact to the player holding it within a room.
// Created exactly once per settled auction with a winner.
type OwnershipRecord struct {
	RoomID     uuid.UUID `json:"room_id"`
	ArtifactID string    `json:"artifact_id"`
	OwnerID    string    `json:"owner_id"`
	WonAt      time.Time `json:"won_at"`
}
