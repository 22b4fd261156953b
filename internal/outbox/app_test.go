package outbox

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curiohall/curio/internal/events"
)

type stagedEvent struct {
	roomID    uuid.UUID
	eventType string
	payload   []byte
	inTx      bool
}

type fakeOutboxRepo struct {
	staged []stagedEvent
}

func (r *fakeOutboxRepo) Insert(ctx context.Context, roomID uuid.UUID, eventType string, payload []byte) error {
	r.staged = append(r.staged, stagedEvent{roomID: roomID, eventType: eventType, payload: payload})
	return nil
}

func (r *fakeOutboxRepo) InsertTx(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, eventType string, payload []byte) error {
	r.staged = append(r.staged, stagedEvent{roomID: roomID, eventType: eventType, payload: payload, inTx: true})
	return nil
}

func (r *fakeOutboxRepo) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	return nil
}

// TestTypedInserts_StageCorrectEventType checks each helper stages its event
// under the right type.
func TestTypedInserts_StageCorrectEventType(t *testing.T) {
	repo := &fakeOutboxRepo{}
	app := NewApp(repo)
	roomID := uuid.New()
	payload := []byte(`{"ok":true}`)
	ctx := context.Background()

	require.NoError(t, app.InsertGameStarted(ctx, roomID, payload))
	require.NoError(t, app.InsertAuctionStarted(ctx, roomID, payload))
	require.NoError(t, app.InsertAuctionBidUpdate(ctx, roomID, payload))
	require.NoError(t, app.InsertRoundUpdated(ctx, roomID, payload))
	require.NoError(t, app.InsertGameEnded(ctx, roomID, payload))

	require.Len(t, repo.staged, 5)
	got := make([]string, 0, len(repo.staged))
	for _, e := range repo.staged {
		assert.Equal(t, roomID, e.roomID)
		assert.False(t, e.inTx)
		got = append(got, e.eventType)
	}
	assert.Equal(t, []string{
		events.TypeGameStarted,
		events.TypeAuctionStarted,
		events.TypeAuctionBidUpdate,
		events.TypeRoundUpdated,
		events.TypeGameEnded,
	}, got)
}

// TestInsertAuctionEndedTx_UsesTransaction stages the settlement event through
// the transactional path so it commits or rolls back with the outcome.
func TestInsertAuctionEndedTx_UsesTransaction(t *testing.T) {
	repo := &fakeOutboxRepo{}
	app := NewApp(repo)
	roomID := uuid.New()

	err := app.InsertAuctionEndedTx(context.Background(), nil, roomID, []byte(`{"winner":"alice"}`))
	require.NoError(t, err)
	require.Len(t, repo.staged, 1)
	assert.Equal(t, events.TypeAuctionEnded, repo.staged[0].eventType)
	assert.True(t, repo.staged[0].inTx)
}

// TestInserts_RejectInvalidPayloads verifies malformed payloads never reach
// the staged table.
func TestInserts_RejectInvalidPayloads(t *testing.T) {
	repo := &fakeOutboxRepo{}
	app := NewApp(repo)
	roomID := uuid.New()
	ctx := context.Background()

	assert.Error(t, app.InsertGameStarted(ctx, roomID, nil))
	assert.Error(t, app.InsertGameStarted(ctx, roomID, []byte("")))
	assert.Error(t, app.InsertGameStarted(ctx, roomID, []byte("{not json")))
	assert.Error(t, app.InsertAuctionEndedTx(ctx, nil, roomID, []byte("{")))
	assert.Empty(t, repo.staged)
}
