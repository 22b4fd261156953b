package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and drains outbox events. A trigger on the table sends
// a NOTIFY so the relay wakes without polling; fetching and marking stay
// separate so a crashed relay redelivers rather than losing events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new outbox repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertSQL = `
	INSERT INTO outbox_events (id, room_id, event_type, payload)
	VALUES ($1, $2, $3, $4)`

// Insert stages an event outside any caller transaction.
func (r *Repository) Insert(ctx context.Context, roomID uuid.UUID, eventType string, payload []byte) error {
	if _, err := r.pool.Exec(ctx, insertSQL, uuid.New(), roomID, eventType, payload); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// InsertTx stages an event inside the caller's transaction so the hint
// commits atomically with the state change it announces.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, insertSQL, uuid.New(), roomID, eventType, payload); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// FetchUnsent returns unsent events oldest-first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, event_type, payload, created_at, sent_at
		FROM outbox_events
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RoomID, &e.EventType, &e.Payload, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return events, nil
}

// FetchByID loads one event. Used by the relay when a notification names it.
func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (Event, error) {
	var e Event
	err := r.pool.QueryRow(ctx, `
		SELECT id, room_id, event_type, payload, created_at, sent_at
		FROM outbox_events
		WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.RoomID, &e.EventType, &e.Payload, &e.CreatedAt, &e.SentAt)
	if err != nil {
		return Event{}, fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	return e, nil
}

// MarkSent stamps an event as relayed.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET sent_at = now() WHERE id = $1 AND sent_at IS NULL`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}
