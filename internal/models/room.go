package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the status of a room.
type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusPlaying RoomStatus = "playing"
	RoomStatusEnded   RoomStatus = "ended"
)

// Room is the slice of room state the auction engine reads. Membership and
// seating live with the room/seat manager and are not mirrored here.
type Room struct {
	ID           uuid.UUID  `json:"id"`
	Status       RoomStatus `json:"status"`
	RoundCurrent int        `json:"round_current"`
	RoundTotal   int        `json:"round_total"`
	OwnerID      string     `json:"owner_id"`
	CreatedAt    time.Time  `json:"created_at"`
}
