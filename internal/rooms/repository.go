package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/models"
)

var (
	// ErrRoomNotFound is returned for reads of unknown room ids.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidTransition is returned when a conditional status or round
	// update matched no row, i.e. the room was not in the expected state.
	ErrInvalidTransition = errors.New("room not in expected state")
)

// Repository reads and transitions the slice of room state the auction engine
// needs. Membership, seating and lobby CRUD live with the room manager and
// are not handled here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roomColumns = `id, status, round_current, round_total, owner_id, created_at`

// GetRoom retrieves a room by id.
func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id).
		Scan(&room.ID, &room.Status, &room.RoundCurrent, &room.RoundTotal, &room.OwnerID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// StartGame transitions a room waiting->playing. Conditional on the current
// status so two concurrent starts cannot both succeed.
func (r *Repository) StartGame(ctx context.Context, id uuid.UUID, roundTotal int) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx, `
		UPDATE rooms
		SET status = 'playing', round_current = 0, round_total = $2
		WHERE id = $1 AND status = 'waiting'
		RETURNING `+roomColumns,
		id, roundTotal,
	).Scan(&room.ID, &room.Status, &room.RoundCurrent, &room.RoundTotal, &room.OwnerID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to start game: %w", err)
	}
	return &room, nil
}

// AdvanceRound bumps the round counter by one, guarded on the room still
// playing and the counter not yet at its total. Returns the updated room.
func (r *Repository) AdvanceRound(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx, `
		UPDATE rooms
		SET round_current = round_current + 1
		WHERE id = $1 AND status = 'playing' AND round_current < round_total
		RETURNING `+roomColumns,
		id,
	).Scan(&room.ID, &room.Status, &room.RoundCurrent, &room.RoundTotal, &room.OwnerID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to advance round: %w", err)
	}
	return &room, nil
}

// EndRoom transitions a room playing->ended.
func (r *Repository) EndRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET status = 'ended' WHERE id = $1 AND status = 'playing'`, id)
	if err != nil {
		return fmt.Errorf("failed to end room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}
