package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/events"
	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/sqlutil"
)

const (
	uniqueViolation = "23505"

	// Postgres default names for the two constraints the settlement write
	// can trip. Only the history one means "already recorded".
	historyUniqueConstraint = "auction_history_auction_id_key"
	ownershipPKConstraint   = "room_artifacts_pkey"
)

// HistoryWriter defines what the recorder needs from the history repository.
type HistoryWriter interface {
	InsertEntryTx(ctx context.Context, tx pgx.Tx, entry models.HistoryEntry) error
	InsertOwnershipTx(ctx context.Context, tx pgx.Tx, rec models.OwnershipRecord) error
}

// OutboxWriter defines what the recorder needs from the outbox repository.
type OutboxWriter interface {
	InsertAuctionEndedTx(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, payload []byte) error
}

// Recorder durably writes a settlement outcome: one history entry, one
// ownership record when a winner exists, and the auction_ended hint, all in
// a single transaction, so observers can never see one without the others.
type Recorder struct {
	pool    *pgxpool.Pool
	history HistoryWriter
	outbox  OutboxWriter
}

// NewRecorder creates a new settlement recorder.
func NewRecorder(pool *pgxpool.Pool, history HistoryWriter, outbox OutboxWriter) *Recorder {
	return &Recorder{
		pool:    pool,
		history: history,
		outbox:  outbox,
	}
}

// RecordOutcome persists the outcome captured by the store's settle
// transition. The unique constraint on auction_history(auction_id) makes this
// idempotent: a second write for the same auction fails with
// ErrOutcomeRecorded and changes nothing.
func (r *Recorder) RecordOutcome(ctx context.Context, out auction.Outcome) error {
	entry := models.HistoryEntry{
		ID:         uuid.New(),
		AuctionID:  out.AuctionID,
		RoomID:     out.RoomID,
		ArtifactID: out.ArtifactID,
		WinnerID:   out.WinnerID,
		WinningBid: out.WinningBid,
		SettledAt:  out.SettledAt,
	}

	payload, err := json.Marshal(events.AuctionEndedPayload{
		AuctionID: out.AuctionID.String(),
		EndedAt:   out.SettledAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal auction ended payload: %w", err)
	}

	err = sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.history.InsertEntryTx(ctx, tx, entry); err != nil {
			return err
		}
		if out.WinnerID != nil {
			rec := models.OwnershipRecord{
				RoomID:     out.RoomID,
				ArtifactID: out.ArtifactID,
				OwnerID:    *out.WinnerID,
				WonAt:      out.SettledAt,
			}
			if err := r.history.InsertOwnershipTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return r.outbox.InsertAuctionEndedTx(ctx, tx, out.RoomID, payload)
	})
	if err != nil {
		return classifyRecordError(err, out)
	}
	return nil
}

// classifyRecordError separates the benign history-unique collision (another
// attempt recorded the same outcome first) from an ownership collision, which
// means the artifact was re-auctioned and the outcome cannot be kept.
func classifyRecordError(err error, out auction.Outcome) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == ownershipPKConstraint {
			return fmt.Errorf("artifact %s already owned in room %s, outcome for auction %s rejected: %w",
				out.ArtifactID, out.RoomID, out.AuctionID, err)
		}
		if pgErr.ConstraintName == historyUniqueConstraint || pgErr.ConstraintName == "" {
			return ErrOutcomeRecorded
		}
	}
	return fmt.Errorf("failed to record settlement outcome: %w", err)
}
