package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/api"
	"github.com/curiohall/curio/internal/artifacts"
	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/bids"
	"github.com/curiohall/curio/internal/history"
	"github.com/curiohall/curio/internal/observer"
	"github.com/curiohall/curio/internal/outbox"
	"github.com/curiohall/curio/internal/rooms"
	"github.com/curiohall/curio/internal/rounds"
	"github.com/curiohall/curio/internal/settlement"
	"github.com/curiohall/curio/internal/wsgateway"
)

type Services struct {
	Auctions    *auction.App
	Rounds      *rounds.App
	Artifacts   *artifacts.App
	History     *history.Repository
	Rooms       *rooms.Repository
	OutboxRepo  *outbox.Repository
	Coordinator *settlement.Coordinator
	Sweeper     *settlement.Sweeper
	Hub         *observer.Hub
	API         *api.Handler
}

func setupServices(ctx context.Context, pool *pgxpool.Pool, redisClient *redis.Client, nc *nats.Conn, gameCfg rounds.Config) *Services {
	// Wire up dependency injection chain
	// Store layer → Repository layer → App layer → HTTP layer
	clock := clockwork.NewRealClock()

	// Bids: append-only ledger plus the Redis price cache used for
	// advisory prefiltering
	ledger := bids.NewLedger(pool)
	prices := bids.NewPriceCache(redisClient, time.Minute)

	// Auctions: the authoritative store gateway
	auctionRepo := auction.NewRepository(pool, ledger)
	validator := bids.NewValidator(prices, auctionRepo)

	// Outbox: staged event hints
	outboxRepo := outbox.NewRepository(pool)
	outboxApp := outbox.NewApp(outboxRepo)

	auctionApp := auction.NewApp(auctionRepo, ledger, validator, outboxApp)

	// Settlement: coordinator + recorder + sweeper
	historyRepo := history.NewRepository(pool)
	recorder := settlement.NewRecorder(pool, historyRepo, outboxApp)
	coordinator := settlement.NewCoordinator(auctionRepo, recorder, historyRepo, nil)
	hub := observer.NewHub(auctionRepo, coordinator, nc, clock, observer.DefaultWatcherConfig())
	coordinator.SetLocals(hub)
	auctionApp.SetLocalObserver(hub)
	sweeper := settlement.NewSweeper(auctionRepo, coordinator, recorder, clock, settlement.DefaultSweeperConfig())

	// Artifacts: catalog behind a Redis read-through cache
	artifactRepo := artifacts.NewRepository(pool)
	artifactCache := artifacts.NewCache(redisClient, artifactRepo, time.Hour)
	artifactApp := artifacts.NewApp(artifactCache)

	// Rounds: the game flow engine
	roomRepo := rooms.NewRepository(pool)
	roundsApp := rounds.NewApp(roomRepo, artifactApp, auctionApp, historyRepo, coordinator, outboxApp, gameCfg)

	apiHandler := api.NewHandler(roundsApp, auctionApp, artifactApp, historyRepo, roomRepo, coordinator, &hubWatcher{hub: hub, ctx: ctx})

	return &Services{
		Auctions:    auctionApp,
		Rounds:      roundsApp,
		Artifacts:   artifactApp,
		History:     historyRepo,
		Rooms:       roomRepo,
		OutboxRepo:  outboxRepo,
		Coordinator: coordinator,
		Sweeper:     sweeper,
		Hub:         hub,
		API:         apiHandler,
	}
}

// setupGateway builds the WebSocket gateway over the same stores, and wires
// room teardown for rooms whose last socket disconnects.
func setupGateway(services *Services) (*wsgateway.Service, error) {
	stateProvider := wsgateway.NewRoomStateProvider(services.Rooms, services.Auctions, services.History)

	cfg := wsgateway.DefaultConfig()
	cfg.JetStreamConfig.URL = getEnv("NATS_URL", nats.DefaultURL)

	gw, err := wsgateway.NewService(cfg, stateProvider)
	if err != nil {
		return nil, err
	}

	gw.OnRoomEmpty(func(roomID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := services.Rounds.TeardownRoom(ctx, roomID); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to tear down vacated room")
		}
		services.Hub.Unwatch(roomID)
	})

	return gw, nil
}

// hubWatcher adapts the observer hub to the API handler's watcher hook,
// binding room observation to the process lifetime instead of the request.
type hubWatcher struct {
	hub *observer.Hub
	ctx context.Context
}

func (w *hubWatcher) Watch(roomID uuid.UUID) {
	if _, err := w.hub.Watch(w.ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to watch room")
	}
}

func (w *hubWatcher) Unwatch(roomID uuid.UUID) {
	w.hub.Unwatch(roomID)
}
