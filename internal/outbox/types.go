package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one room broadcast hint staged in the outbox table. Rows are
// written in the same transaction as the state change they announce and
// relayed to the broadcast channel asynchronously.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	RoomID    uuid.UUID       `json:"room_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}
