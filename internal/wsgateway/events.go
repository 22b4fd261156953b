package wsgateway

import (
	"encoding/json"
	"time"

	"github.com/curiohall/curio/internal/events"
)

// RoomEvent is the frame pushed to connected clients. Data carries the
// outbox payload untouched; clients treat it as a hint and re-fetch state.
type RoomEvent struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    string          `json:"room_id"`   // Room UUID
	Type      string          `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *RoomEvent) (interface{}, error) {
	switch event.Type {
	case events.TypeGameStarted:
		var payload events.GameStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionStarted:
		var payload events.AuctionStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionBidUpdate:
		var payload events.AuctionBidUpdatePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionEnded:
		var payload events.AuctionEndedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeRoundUpdated:
		var payload events.RoundUpdatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeGameEnded:
		var payload events.GameEndedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
