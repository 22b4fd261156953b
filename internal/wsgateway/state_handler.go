package wsgateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StateHandler handles HTTP requests for room state snapshots
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomIDStr := extractRoomIDFromPath(r.URL.Path)
	if roomIDStr == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		http.Error(w, "Invalid room ID format", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetRoomState(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractRoomIDFromPath extracts the room ID from a path like /api/rooms/{id}/state
func extractRoomIDFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}
