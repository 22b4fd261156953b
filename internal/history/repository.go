package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/models"
)

// Repository holds the write-once settlement records: auction history entries
// and ownership rows. Inserts only; no update-in-place exists.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new history repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEntryTx appends a history entry within the caller's transaction.
func (r *Repository) InsertEntryTx(ctx context.Context, tx pgx.Tx, entry models.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auction_history (id, auction_id, room_id, artifact_id, winner_id, winning_bid, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.AuctionID, entry.RoomID, entry.ArtifactID,
		entry.WinnerID, entry.WinningBid, entry.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// InsertOwnershipTx appends an ownership record within the caller's
// transaction.
func (r *Repository) InsertOwnershipTx(ctx context.Context, tx pgx.Tx, rec models.OwnershipRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO room_artifacts (room_id, artifact_id, owner_id, won_at)
		VALUES ($1, $2, $3, $4)`,
		rec.RoomID, rec.ArtifactID, rec.OwnerID, rec.WonAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ownership record: %w", err)
	}
	return nil
}

// ListHistory returns the settled-auction records for a room, oldest first.
func (r *Repository) ListHistory(ctx context.Context, roomID uuid.UUID) ([]models.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, auction_id, room_id, artifact_id, winner_id, winning_bid, settled_at
		FROM auction_history
		WHERE room_id = $1
		ORDER BY settled_at`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query auction history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.AuctionID, &e.RoomID, &e.ArtifactID, &e.WinnerID, &e.WinningBid, &e.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history entries: %w", err)
	}
	return entries, nil
}

// ListOwnership returns the artifacts a player holds in a room.
func (r *Repository) ListOwnership(ctx context.Context, roomID uuid.UUID, ownerID string) ([]models.OwnershipRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id, artifact_id, owner_id, won_at
		FROM room_artifacts
		WHERE room_id = $1 AND owner_id = $2
		ORDER BY won_at`,
		roomID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ownership records: %w", err)
	}
	defer rows.Close()

	var records []models.OwnershipRecord
	for rows.Next() {
		var rec models.OwnershipRecord
		if err := rows.Scan(&rec.RoomID, &rec.ArtifactID, &rec.OwnerID, &rec.WonAt); err != nil {
			return nil, fmt.Errorf("failed to scan ownership record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ownership records: %w", err)
	}
	return records, nil
}

// ListOwnedArtifactIDs returns the ids of every artifact already won in a
// room, regardless of owner.
func (r *Repository) ListOwnedArtifactIDs(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT artifact_id
		FROM room_artifacts
		WHERE room_id = $1`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned artifacts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owned artifact id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate owned artifact ids: %w", err)
	}
	return ids, nil
}

// GetEntryByAuction returns the history entry for a settled auction, or
// pgx.ErrNoRows wrapped if none was recorded yet.
func (r *Repository) GetEntryByAuction(ctx context.Context, auctionID uuid.UUID) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, auction_id, room_id, artifact_id, winner_id, winning_bid, settled_at
		FROM auction_history
		WHERE auction_id = $1`,
		auctionID,
	).Scan(&e.ID, &e.AuctionID, &e.RoomID, &e.ArtifactID, &e.WinnerID, &e.WinningBid, &e.SettledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return &e, nil
}
