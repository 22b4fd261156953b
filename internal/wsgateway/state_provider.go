package wsgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/rooms"
)

// StateProvider interface defines methods for retrieving room state
type StateProvider interface {
	GetRoomState(ctx context.Context, roomID uuid.UUID) (*RoomStateResponse, error)
}

// RoomStateResponse represents the complete state of a room. It is the
// authoritative snapshot clients fetch after any event hint.
type RoomStateResponse struct {
	RoomID         string              `json:"room_id"`
	Status         string              `json:"status"`
	RoundCurrent   int                 `json:"round_current"`
	RoundTotal     int                 `json:"round_total"`
	ActiveAuctions []ActiveAuctionInfo `json:"active_auctions"`
	History        []HistoryInfo       `json:"history"`
}

// ActiveAuctionInfo represents one running auction with its derived clock.
type ActiveAuctionInfo struct {
	AuctionID     string  `json:"auction_id"`
	ArtifactID    string  `json:"artifact_id"`
	HighestBid    int64   `json:"highest_bid"`
	HighestBidder *string `json:"highest_bidder,omitempty"`
	RemainingSec  int     `json:"remaining_sec"`
	DurationSec   int     `json:"duration_sec"`
}

// HistoryInfo represents a settled auction outcome.
type HistoryInfo struct {
	AuctionID  string    `json:"auction_id"`
	ArtifactID string    `json:"artifact_id"`
	WinnerID   *string   `json:"winner_id,omitempty"`
	WinningBid int64     `json:"winning_bid"`
	SettledAt  time.Time `json:"settled_at"`
}

// RoomReader is what the state provider needs from the room store.
type RoomReader interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// AuctionReader is what the state provider needs from the auction store.
type AuctionReader interface {
	ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error)
}

// HistoryReader is what the state provider needs from the history store.
type HistoryReader interface {
	ListHistory(ctx context.Context, roomID uuid.UUID) ([]models.HistoryEntry, error)
}

// RoomStateProvider builds snapshots straight from the stores, so the
// response is always ground truth regardless of what events a client saw.
type RoomStateProvider struct {
	roomStore    RoomReader
	auctionStore AuctionReader
	historyStore HistoryReader
}

// NewRoomStateProvider creates a new room state provider
func NewRoomStateProvider(roomStore RoomReader, auctionStore AuctionReader, historyStore HistoryReader) *RoomStateProvider {
	return &RoomStateProvider{
		roomStore:    roomStore,
		auctionStore: auctionStore,
		historyStore: historyStore,
	}
}

// GetRoomState retrieves the complete state of a room
func (p *RoomStateProvider) GetRoomState(ctx context.Context, roomID uuid.UUID) (*RoomStateResponse, error) {
	room, err := p.roomStore.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	response := &RoomStateResponse{
		RoomID:         roomID.String(),
		Status:         string(room.Status),
		RoundCurrent:   room.RoundCurrent,
		RoundTotal:     room.RoundTotal,
		ActiveAuctions: []ActiveAuctionInfo{},
		History:        []HistoryInfo{},
	}

	active, err := p.auctionStore.ListActiveAuctions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	now := time.Now()
	for _, a := range active {
		remaining := int(a.Remaining(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		response.ActiveAuctions = append(response.ActiveAuctions, ActiveAuctionInfo{
			AuctionID:     a.ID.String(),
			ArtifactID:    a.ArtifactID,
			HighestBid:    a.HighestBid,
			HighestBidder: a.HighestBidder,
			RemainingSec:  remaining,
			DurationSec:   a.DurationSec,
		})
	}

	entries, err := p.historyStore.ListHistory(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	for _, h := range entries {
		response.History = append(response.History, HistoryInfo{
			AuctionID:  h.AuctionID.String(),
			ArtifactID: h.ArtifactID,
			WinnerID:   h.WinnerID,
			WinningBid: h.WinningBid,
			SettledAt:  h.SettledAt,
		})
	}

	return response, nil
}

var _ StateProvider = (*RoomStateProvider)(nil)
var _ RoomReader = (*rooms.Repository)(nil)
