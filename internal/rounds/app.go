package rounds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/events"
	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/rooms"
)

var (
	// ErrNotOwner is returned when a non-owner tries an owner-gated action.
	ErrNotOwner = errors.New("only the room owner may do this")

	// ErrRoomNotPlaying is returned when the room is not in the playing state.
	ErrRoomNotPlaying = errors.New("room is not playing")

	// ErrRoundLimit is returned when the round counter already reached its
	// total.
	ErrRoundLimit = errors.New("round limit reached")
)

// RoomRepository defines what the round engine needs from the rooms store.
type RoomRepository interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	StartGame(ctx context.Context, id uuid.UUID, roundTotal int) (*models.Room, error)
	AdvanceRound(ctx context.Context, id uuid.UUID) (*models.Room, error)
	EndRoom(ctx context.Context, id uuid.UUID) error
}

// ArtifactSource draws the lots for a round.
type ArtifactSource interface {
	Draw(ctx context.Context, n int, exclude map[string]bool) ([]models.Artifact, error)
}

// AuctionStarter creates and lists auctions through the authoritative store.
type AuctionStarter interface {
	StartAuction(ctx context.Context, req auction.CreateAuctionRequest) (*models.Auction, error)
	ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error)
}

// OwnershipSource lists artifacts already won in a room. A settled artifact
// never goes back on the block.
type OwnershipSource interface {
	ListOwnedArtifactIDs(ctx context.Context, roomID uuid.UUID) ([]string, error)
}

// Teardown force-settles a room's remaining auctions.
type Teardown interface {
	SettleRoom(ctx context.Context, roomID uuid.UUID) error
}

// OutboxApp defines what the round engine needs from the outbox
type OutboxApp interface {
	InsertGameStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error
	InsertAuctionStarted(ctx context.Context, roomID uuid.UUID, payload []byte) error
	InsertRoundUpdated(ctx context.Context, roomID uuid.UUID, payload []byte) error
	InsertGameEnded(ctx context.Context, roomID uuid.UUID, payload []byte) error
}

// Config tunes the game flow.
type Config struct {
	RoundTotal         int `yaml:"round_total"`
	ArtifactsPerRound  int `yaml:"artifacts_per_round"`
	AuctionDurationSec int `yaml:"auction_duration_sec"`
}

// DefaultConfig returns the standard six-round, two-lot, 30-second game.
func DefaultConfig() Config {
	return Config{
		RoundTotal:         6,
		ArtifactsPerRound:  2,
		AuctionDurationSec: 30,
	}
}

// App drives the game flow: starting the game, advancing rounds (which puts a
// new batch of artifacts up for auction) and ending the game. All three are
// owner-gated.
type App struct {
	roomRepo  RoomRepository
	artifacts ArtifactSource
	auctions  AuctionStarter
	ownership OwnershipSource
	teardown  Teardown
	outbox    OutboxApp
	cfg       Config
}

// NewApp creates a new round engine.
func NewApp(roomRepo RoomRepository, artifacts ArtifactSource, auctions AuctionStarter, ownership OwnershipSource, teardown Teardown, outbox OutboxApp, cfg Config) *App {
	return &App{
		roomRepo:  roomRepo,
		artifacts: artifacts,
		auctions:  auctions,
		ownership: ownership,
		teardown:  teardown,
		outbox:    outbox,
		cfg:       cfg,
	}
}

// StartGame transitions the room into play. Seat readiness is the room
// manager's concern; here only ownership and the waiting status are checked.
func (a *App) StartGame(ctx context.Context, roomID uuid.UUID, actorID string) (*models.Room, error) {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return nil, err
	}

	room, err := a.roomRepo.StartGame(ctx, roomID, a.cfg.RoundTotal)
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidTransition) {
			return nil, ErrRoomNotPlaying
		}
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	a.emit(ctx, roomID, events.TypeGameStarted, func() ([]byte, error) {
		return json.Marshal(events.GameStartedPayload{
			RoomID:    roomID.String(),
			StartedAt: room.CreatedAt,
		})
	}, a.outbox.InsertGameStarted)

	log.Info().Str("room_id", roomID.String()).Int("round_total", room.RoundTotal).Msg("game started")
	return room, nil
}

// AdvanceRound bumps the round counter and puts a fresh batch of artifacts up
// for auction. Artifacts already on auction or already owned in the room are
// excluded from the draw, and a
// concurrent advance that created the same lot first is tolerated. When the
// advanced round reaches the total, the room is marked ended; the final
// round's auctions still run out their clocks and settle normally.
func (a *App) AdvanceRound(ctx context.Context, roomID uuid.UUID, actorID string) ([]models.Auction, error) {
	room, err := a.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.OwnerID != actorID {
		return nil, ErrNotOwner
	}
	if room.Status != models.RoomStatusPlaying {
		return nil, ErrRoomNotPlaying
	}

	room, err = a.roomRepo.AdvanceRound(ctx, roomID)
	if err != nil {
		if errors.Is(err, rooms.ErrInvalidTransition) {
			return nil, ErrRoundLimit
		}
		return nil, fmt.Errorf("failed to advance round: %w", err)
	}

	active, err := a.auctions.ListActiveAuctions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions before draw: %w", err)
	}
	exclude := make(map[string]bool, len(active))
	for _, act := range active {
		exclude[act.ArtifactID] = true
	}

	// Settled artifacts stay with their winners; drawing one again would
	// collide with its ownership record at the next settlement.
	owned, err := a.ownership.ListOwnedArtifactIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned artifacts before draw: %w", err)
	}
	for _, id := range owned {
		exclude[id] = true
	}

	picks, err := a.artifacts.Draw(ctx, a.cfg.ArtifactsPerRound, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to draw artifacts: %w", err)
	}

	var started []models.Auction
	var startedArtifacts []models.Artifact
	for _, art := range picks {
		created, err := a.auctions.StartAuction(ctx, auction.CreateAuctionRequest{
			RoomID:      roomID,
			ArtifactID:  art.ID,
			DurationSec: a.cfg.AuctionDurationSec,
		})
		if err != nil {
			if errors.Is(err, auction.ErrDuplicateAuction) {
				log.Debug().Str("artifact_id", art.ID).Msg("artifact already on auction, skipping")
				continue
			}
			return nil, fmt.Errorf("failed to start auction for artifact %s: %w", art.ID, err)
		}
		started = append(started, *created)
		startedArtifacts = append(startedArtifacts, art)
	}

	a.emit(ctx, roomID, events.TypeAuctionStarted, func() ([]byte, error) {
		return json.Marshal(events.AuctionStartedPayload{
			RoomID:    roomID.String(),
			Artifacts: startedArtifacts,
			Duration:  a.cfg.AuctionDurationSec,
			StartedAt: now(started),
		})
	}, a.outbox.InsertAuctionStarted)
	a.emit(ctx, roomID, events.TypeRoundUpdated, func() ([]byte, error) {
		return json.Marshal(events.RoundUpdatedPayload{
			Round: room.RoundCurrent,
			Total: room.RoundTotal,
		})
	}, a.outbox.InsertRoundUpdated)

	log.Info().
		Str("room_id", roomID.String()).
		Int("round", room.RoundCurrent).
		Int("total", room.RoundTotal).
		Int("auctions", len(started)).
		Msg("round advanced")

	if room.RoundCurrent >= room.RoundTotal {
		if err := a.endGame(ctx, roomID, "round_limit", false); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to end game at round limit")
		}
	}

	return started, nil
}

// EndGame terminates the game early: force-settles every active auction and
// marks the room ended.
func (a *App) EndGame(ctx context.Context, roomID uuid.UUID, actorID, reason string) error {
	if err := a.requireOwner(ctx, roomID, actorID); err != nil {
		return err
	}
	return a.endGame(ctx, roomID, reason, true)
}

// TeardownRoom handles a vacated room: no owner check, settle everything,
// close the room if still playing.
func (a *App) TeardownRoom(ctx context.Context, roomID uuid.UUID) error {
	return a.endGame(ctx, roomID, "room_vacated", true)
}

func (a *App) endGame(ctx context.Context, roomID uuid.UUID, reason string, settleActives bool) error {
	if settleActives {
		if err := a.teardown.SettleRoom(ctx, roomID); err != nil {
			return fmt.Errorf("failed to settle auctions on game end: %w", err)
		}
	}

	if err := a.roomRepo.EndRoom(ctx, roomID); err != nil && !errors.Is(err, rooms.ErrInvalidTransition) {
		return fmt.Errorf("failed to close room: %w", err)
	}

	a.emit(ctx, roomID, events.TypeGameEnded, func() ([]byte, error) {
		return json.Marshal(events.GameEndedPayload{
			Reason:  reason,
			EndedAt: timeNow(),
		})
	}, a.outbox.InsertGameEnded)

	log.Info().Str("room_id", roomID.String()).Str("reason", reason).Msg("game ended")
	return nil
}

func (a *App) requireOwner(ctx context.Context, roomID uuid.UUID, actorID string) error {
	room, err := a.roomRepo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != actorID {
		return ErrNotOwner
	}
	return nil
}

// emit marshals and inserts a broadcast hint, logging rather than failing:
// observers reconcile from the store regardless of whether the hint lands.
func (a *App) emit(ctx context.Context, roomID uuid.UUID, eventType string, build func() ([]byte, error), insert func(context.Context, uuid.UUID, []byte) error) {
	payload, err := build()
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		return
	}
	if err := insert(ctx, roomID, payload); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Str("room_id", roomID.String()).Msg("failed to insert outbox event")
	}
}

func now(started []models.Auction) time.Time {
	if len(started) > 0 {
		return started[0].CreatedAt
	}
	return timeNow()
}

// timeNow is replaceable in tests.
var timeNow = time.Now
