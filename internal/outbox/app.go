package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/events"
)

// OutboxRepository defines what the app layer needs from the repository
type OutboxRepository interface {
	Insert(ctx context.Context, roomID uuid.UUID, eventType string, payload []byte) error
	InsertTx(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, eventType string, payload []byte) error
	FetchUnsent(ctx context.Context, limit int32) ([]Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
}

// App handles outbox business logic: typed insert helpers per event, all
// funnelling into the same staged table.
type App struct {
	repo OutboxRepository
}

// NewApp creates a new outbox App.
func NewApp(repo OutboxRepository) *App {
	return &App{repo: repo}
}

// InsertGameStarted stages a game_started event.
func (a *App) InsertGameStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return a.insert(ctx, roomID, events.TypeGameStarted, payload)
}

// InsertAuctionStarted stages an auction_started event.
func (a *App) InsertAuctionStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return a.insert(ctx, roomID, events.TypeAuctionStarted, payload)
}

// InsertAuctionBidUpdate stages an auction_bid_update event.
func (a *App) InsertAuctionBidUpdate(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return a.insert(ctx, roomID, events.TypeAuctionBidUpdate, payload)
}

// InsertAuctionEndedTx stages an auction_ended event inside the settlement
// transaction.
func (a *App) InsertAuctionEndedTx(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, payload []byte) error {
	if err := a.validatePayload(payload); err != nil {
		return fmt.Errorf("invalid auction_ended payload: %w", err)
	}
	return a.repo.InsertTx(ctx, tx, roomID, events.TypeAuctionEnded, payload)
}

// InsertRoundUpdated stages a round_updated event.
func (a *App) InsertRoundUpdated(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return a.insert(ctx, roomID, events.TypeRoundUpdated, payload)
}

// InsertGameEnded stages a game_ended event.
func (a *App) InsertGameEnded(ctx context.Context, roomID uuid.UUID, payload []byte) error {
	return a.insert(ctx, roomID, events.TypeGameEnded, payload)
}

func (a *App) insert(ctx context.Context, roomID uuid.UUID, eventType string, payload []byte) error {
	if err := a.validatePayload(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	if err := a.repo.Insert(ctx, roomID, eventType, payload); err != nil {
		return err
	}
	log.Debug().
		Str("room_id", roomID.String()).
		Str("event_type", eventType).
		Msg("outbox event inserted")
	return nil
}

func (a *App) validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}
