package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/curiohall/curio/internal/artifacts"
	"github.com/curiohall/curio/internal/auction"
	"github.com/curiohall/curio/internal/models"
	"github.com/curiohall/curio/internal/rooms"
	"github.com/curiohall/curio/internal/rounds"
	"github.com/curiohall/curio/internal/settlement"
)

// HistoryStore is what the handler needs from the history repository.
type HistoryStore interface {
	ListHistory(ctx context.Context, roomID uuid.UUID) ([]models.HistoryEntry, error)
	ListOwnership(ctx context.Context, roomID uuid.UUID, ownerID string) ([]models.OwnershipRecord, error)
}

// RoomWatcher keeps a server-side observer loop running for rooms in play.
type RoomWatcher interface {
	Watch(roomID uuid.UUID)
	Unwatch(roomID uuid.UUID)
}

// Settler runs the end-of-auction transition. Callers losing the settlement
// race still get the committed result.
type Settler interface {
	Settle(ctx context.Context, auctionID uuid.UUID) (*settlement.Result, error)
}

// RoomStore is what the handler needs from the room repository.
type RoomStore interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
}

// Handler exposes the game surface over JSON HTTP. WebSocket delivery is
// best effort, so every mutation here is answered with authoritative state.
type Handler struct {
	rounds    *rounds.App
	auctions  *auction.App
	artifacts *artifacts.App
	history   HistoryStore
	roomStore RoomStore
	settler   Settler
	watcher   RoomWatcher // optional
}

// NewHandler creates the API handler.
func NewHandler(roundsApp *rounds.App, auctionApp *auction.App, artifactApp *artifacts.App, history HistoryStore, roomStore RoomStore, settler Settler, watcher RoomWatcher) *Handler {
	return &Handler{
		rounds:    roundsApp,
		auctions:  auctionApp,
		artifacts: artifactApp,
		history:   history,
		roomStore: roomStore,
		settler:   settler,
		watcher:   watcher,
	}
}

// RegisterRoutes registers the game API routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games/start", h.handleStartGame)
	mux.HandleFunc("/api/games/advance", h.handleAdvanceRound)
	mux.HandleFunc("/api/games/end", h.handleEndGame)
	mux.HandleFunc("/api/auctions/bid", h.handlePlaceBid)
	mux.HandleFunc("/api/auctions/settle", h.handleSettleAuction)
	mux.HandleFunc("/api/auctions/active", h.handleActiveAuctions)
	mux.HandleFunc("/api/auctions/", h.handleAuctionByID)
	mux.HandleFunc("/api/artifacts", h.handleListArtifacts)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/ownership", h.handleOwnership)
	log.Info().Msg("game API routes registered")
}

type gameRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason,omitempty"`
}

func (h *Handler) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	roomID, ok := h.decodeGameRequest(w, r, &req)
	if !ok {
		return
	}

	room, err := h.rounds.StartGame(r.Context(), roomID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.watcher != nil {
		h.watcher.Watch(roomID)
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	roomID, ok := h.decodeGameRequest(w, r, &req)
	if !ok {
		return
	}

	auctions, err := h.rounds.AdvanceRound(r.Context(), roomID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auctions": auctions})
}

func (h *Handler) handleEndGame(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	roomID, ok := h.decodeGameRequest(w, r, &req)
	if !ok {
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "owner_ended"
	}
	if err := h.rounds.EndGame(r.Context(), roomID, req.PlayerID, reason); err != nil {
		writeError(w, err)
		return
	}
	if h.watcher != nil {
		h.watcher.Unwatch(roomID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type bidRequest struct {
	AuctionID string `json:"auction_id"`
	PlayerID  string `json:"player_id"`
	Amount    int64  `json:"amount"`
}

func (h *Handler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(req.AuctionID)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}

	bid, err := h.auctions.PlaceBid(r.Context(), auctionID, req.PlayerID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

type settleRequest struct {
	AuctionID string `json:"auction_id"`
	PlayerID  string `json:"player_id"`
}

// handleSettleAuction proposes settlement. Anyone may settle an auction whose
// clock ran out; before expiry only the room owner can cut it short. Losing
// the race to another observer is not an error: the committed outcome comes
// back either way, with already_settled marking who won the transition.
func (h *Handler) handleSettleAuction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(req.AuctionID)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}

	a, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !a.Expired(time.Now()) {
		room, err := h.roomStore.GetRoom(r.Context(), a.RoomID)
		if err != nil {
			writeError(w, err)
			return
		}
		if req.PlayerID != room.OwnerID {
			writeError(w, rounds.ErrNotOwner)
			return
		}
	}

	result, err := h.settler.Settle(r.Context(), auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleActiveAuctions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID, ok := parseUUIDParam(w, r, "room_id")
	if !ok {
		return
	}

	auctions, err := h.auctions.ListActiveAuctions(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if auctions == nil {
		auctions = []models.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

// handleAuctionByID serves GET /api/auctions/{id} and /api/auctions/{id}/bids.
func (h *Handler) handleAuctionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/auctions/")
	wantBids := false
	if strings.HasSuffix(rest, "/bids") {
		rest = strings.TrimSuffix(rest, "/bids")
		wantBids = true
	}
	auctionID, err := uuid.Parse(rest)
	if err != nil {
		http.Error(w, "invalid auction ID format", http.StatusBadRequest)
		return
	}

	if wantBids {
		bids, err := h.auctions.ListBids(r.Context(), auctionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if bids == nil {
			bids = []models.Bid{}
		}
		writeJSON(w, http.StatusOK, bids)
		return
	}

	a, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	catalog, err := h.artifacts.ListArtifacts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID, ok := parseUUIDParam(w, r, "room_id")
	if !ok {
		return
	}

	entries, err := h.history.ListHistory(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleOwnership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roomID, ok := parseUUIDParam(w, r, "room_id")
	if !ok {
		return
	}
	ownerID := r.URL.Query().Get("owner_id")

	records, err := h.history.ListOwnership(r.Context(), roomID, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []models.OwnershipRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// decodeGameRequest handles the shared POST body shape of the game endpoints.
func (h *Handler) decodeGameRequest(w http.ResponseWriter, r *http.Request, req *gameRequest) (uuid.UUID, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return uuid.Nil, false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return uuid.Nil, false
	}
	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		http.Error(w, "invalid room_id format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	if req.PlayerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return roomID, true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid "+name+" format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors onto HTTP statuses. The error text itself is
// safe to surface; none of the sentinels carry internal detail.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, artifacts.ErrArtifactNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrAuctionNotActive),
		errors.Is(err, auction.ErrAlreadySettled),
		errors.Is(err, auction.ErrDuplicateAuction),
		errors.Is(err, rounds.ErrRoomNotPlaying),
		errors.Is(err, rounds.ErrRoundLimit),
		errors.Is(err, rooms.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, rounds.ErrNotOwner):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
