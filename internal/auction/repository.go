package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/sqlutil"
)

// uniqueViolation is the Postgres error code raised when the partial unique
// index on (room_id, artifact_id) WHERE status='active' rejects an insert.
const uniqueViolation = "23505"

// BidLedger defines what the repository needs to append accepted bids. The
// append runs inside the same transaction as the highest-bid update so the
// ledger can never disagree with the auction row.
type BidLedger interface {
	AppendTx(ctx context.Context, tx pgx.Tx, bid models.Bid) error
}

// Repository is the sole authority for auction existence, bid amounts and
// settlement. All mutations are conditional writes; the loser of any race
// re-reads and reports a sentinel error instead of overwriting state.
type Repository struct {
	pool   *pgxpool.Pool
	ledger BidLedger
}

// NewRepository creates a new auction repository.
func NewRepository(pool *pgxpool.Pool, ledger BidLedger) *Repository {
	return &Repository{
		pool:   pool,
		ledger: ledger,
	}
}

const auctionColumns = `id, room_id, artifact_id, status, highest_bid, highest_bidder, duration_sec, created_at, settled_at`

// CreateAuction persists a new active auction. The partial unique index on
// active (room, artifact) pairs makes the existence check and the insert a
// single atomic step; a conflicting insert surfaces as ErrDuplicateAuction.
func (r *Repository) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO auctions (id, room_id, artifact_id, status, highest_bid, duration_sec, created_at)
		VALUES ($1, $2, $3, 'active', 0, $4, now())
		RETURNING `+auctionColumns,
		id, req.RoomID, req.ArtifactID, req.DurationSec,
	)

	auction, err := scanAuction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateAuction
		}
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return auction, nil
}

// GetAuction retrieves an auction by id.
func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	auction, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// ListActiveAuctions returns all active auctions for a room.
func (r *Repository) ListActiveAuctions(ctx context.Context, roomID uuid.UUID) ([]models.Auction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE room_id = $1 AND status = 'active'
		ORDER BY created_at`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// RecordBid atomically accepts a bid if it strictly exceeds the current
// highest bid on a still-active auction, and appends it to the ledger in the
// same transaction. A bid that loses a concurrent race re-reads the row and
// fails with ErrBidTooLow or ErrAuctionNotActive.
func (r *Repository) RecordBid(ctx context.Context, auctionID uuid.UUID, playerID string, amount int64) (*models.Bid, error) {
	bid := models.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		PlayerID:  playerID,
		Amount:    amount,
	}

	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		var acceptedAt time.Time
		err := tx.QueryRow(ctx, `
			UPDATE auctions
			SET highest_bid = $2, highest_bidder = $3
			WHERE id = $1 AND status = 'active' AND highest_bid < $2
			RETURNING now()`,
			auctionID, amount, playerID,
		).Scan(&acceptedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.classifyRejectedBid(ctx, tx, auctionID, amount)
			}
			return fmt.Errorf("failed to update highest bid: %w", err)
		}

		bid.CreatedAt = acceptedAt
		if err := r.ledger.AppendTx(ctx, tx, bid); err != nil {
			return fmt.Errorf("failed to append bid to ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

// classifyRejectedBid re-reads the auction row to turn a failed conditional
// update into the right sentinel for the caller.
func (r *Repository) classifyRejectedBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, amount int64) error {
	var status models.AuctionStatus
	var highest int64
	err := tx.QueryRow(ctx,
		`SELECT status, highest_bid FROM auctions WHERE id = $1`,
		auctionID,
	).Scan(&status, &highest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAuctionNotFound
		}
		return fmt.Errorf("failed to re-read auction after rejected bid: %w", err)
	}
	if status != models.AuctionStatusActive {
		return ErrAuctionNotActive
	}
	if amount <= highest {
		return ErrBidTooLow
	}
	return fmt.Errorf("bid of %d rejected with highest bid %d", amount, highest)
}

// SettleAuction performs the single conditional active->ended transition and
// returns the final highest bid and bidder captured at that moment. The
// status predicate is the only thing preventing double settlement: exactly
// one caller observes a row, everyone else gets ErrAlreadySettled.
func (r *Repository) SettleAuction(ctx context.Context, auctionID uuid.UUID) (*Outcome, error) {
	var out Outcome
	err := r.pool.QueryRow(ctx, `
		UPDATE auctions
		SET status = 'ended', settled_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING id, room_id, artifact_id, highest_bidder, highest_bid, settled_at`,
		auctionID,
	).Scan(&out.AuctionID, &out.RoomID, &out.ArtifactID, &out.WinnerID, &out.WinningBid, &out.SettledAt)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to settle auction: %w", err)
	}

	// No row transitioned: either it never existed or someone settled first.
	var status models.AuctionStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM auctions WHERE id = $1`, auctionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to re-read auction after settle attempt: %w", err)
	}
	return nil, ErrAlreadySettled
}

// ListExpiredActive returns active auctions whose clock has run out. Used by
// the settlement sweep so a room nobody is watching still settles within a
// bounded delay.
func (r *Repository) ListExpiredActive(ctx context.Context, limit int32) ([]models.Auction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE status = 'active'
		  AND created_at + make_interval(secs => duration_sec) <= now()
		ORDER BY created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

// ListEndedUnrecorded returns ended auctions with no history entry, i.e. the
// leftovers of a settlement that failed between the status transition and the
// durable outcome write.
func (r *Repository) ListEndedUnrecorded(ctx context.Context, limit int32) ([]models.Auction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixedAuctionColumns("a")+`
		FROM auctions a
		LEFT JOIN auction_history h ON h.auction_id = a.id
		WHERE a.status = 'ended' AND h.id IS NULL
		ORDER BY a.settled_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrecorded auctions: %w", err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func prefixedAuctionColumns(alias string) string {
	return alias + ".id, " + alias + ".room_id, " + alias + ".artifact_id, " +
		alias + ".status, " + alias + ".highest_bid, " + alias + ".highest_bidder, " +
		alias + ".duration_sec, " + alias + ".created_at, " + alias + ".settled_at"
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var a models.Auction
	err := row.Scan(
		&a.ID, &a.RoomID, &a.ArtifactID, &a.Status,
		&a.HighestBid, &a.HighestBidder, &a.DurationSec,
		&a.CreatedAt, &a.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAuctions(rows pgx.Rows) ([]models.Auction, error) {
	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}
	return auctions, nil
}
