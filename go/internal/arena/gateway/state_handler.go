package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/rs/zerolog/log"
)

// StateProvider answers read-only room queries
type StateProvider interface {
	Snapshot(ctx context.Context, roomID string) (*events.RoomSnapshot, error)
	ListRooms(ctx context.Context) ([]events.RoomSummary, error)
}

// StateHandler handles HTTP requests for room state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetRoomState handles GET /api/rooms/{roomId}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.Snapshot(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, state)
}

// HandleListRooms handles GET /api/rooms
func (h *StateHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.stateProvider.ListRooms(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list rooms")
		http.Error(w, "Failed to list rooms", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, rooms)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.HandleListRooms)
	mux.HandleFunc("GET /api/rooms/{roomId}/state", h.HandleGetRoomState)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
