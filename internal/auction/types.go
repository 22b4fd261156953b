package auction

import (
	"time"

	"github.com/google/uuid"
)

// CreateAuctionRequest holds parameters for creating an auction. ID may be
// proposed by the client; a nil ID lets the store mint one. CreatedAt is
// always set by the store regardless of what the caller observed locally.
type CreateAuctionRequest struct {
	ID          *uuid.UUID
	RoomID      uuid.UUID
	ArtifactID  string
	DurationSec int
}

// Outcome is the final state of an auction captured at the moment of the
// active->ended transition. WinnerID is nil when the auction closed with no
// accepted bids.
type Outcome struct {
	AuctionID  uuid.UUID
	RoomID     uuid.UUID
	ArtifactID string
	WinnerID   *string
	WinningBid int64
	SettledAt  time.Time
}
