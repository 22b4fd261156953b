package bids

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/models"
)

// Ledger is the append-only bid history. Rows are inserted inside the auction
// repository's acceptance transaction and never updated.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a new bid ledger.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// AppendTx appends an accepted bid within the caller's transaction.
func (l *Ledger) AppendTx(ctx context.Context, tx pgx.Tx, bid models.Bid) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, player_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		bid.ID, bid.AuctionID, bid.PlayerID, bid.Amount, bid.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append bid: %w", err)
	}
	return nil
}

// ListBids returns the bids for an auction in acceptance order.
func (l *Ledger) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, auction_id, player_id, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY created_at, amount`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.PlayerID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", err)
	}
	return bids, nil
}
