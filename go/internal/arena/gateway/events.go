package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// ArenaEvent is the envelope for every message sent to a client
type ArenaEvent struct {
	ID        string          `json:"id"`                // Event UUID
	RoomID    string          `json:"room_id,omitempty"` // Empty for connection-level notices outside a room
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewArenaEvent marshals payload into a fresh envelope
func NewArenaEvent(roomID, eventType string, payload any, now time.Time) (*ArenaEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &ArenaEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: now.UTC(),
		Data:      data,
	}, nil
}

// ClientMessage is the envelope for every message received from a client
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinRoomRequest is the join-room payload. Username is accepted as an alias
// of DisplayName.
type JoinRoomRequest struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username,omitempty"`
	Token       string `json:"token,omitempty"`
}

// StartContestRequest is the start-contest payload. Clients send either the
// bare room id string or {"roomId": ...}.
type StartContestRequest struct {
	RoomID string `json:"roomId"`
}

// ProblemSolvedRequest is the problem-solved payload
type ProblemSolvedRequest struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username,omitempty"`
	Points      int    `json:"points"`
}

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMissingRoom    = errors.New("roomId is required")
	ErrMissingName    = errors.New("displayName is required")
)

func pickName(displayName, username string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	return strings.TrimSpace(username)
}

// ParseClientMessage decodes the payload for msg.Type into its request struct
func ParseClientMessage(msg *ClientMessage) (any, error) {
	switch msg.Type {
	case events.JoinRoom:
		var req JoinRoomRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		req.RoomID = strings.TrimSpace(req.RoomID)
		req.DisplayName = pickName(req.DisplayName, req.Username)
		if req.RoomID == "" {
			return nil, ErrMissingRoom
		}
		if req.DisplayName == "" {
			return nil, ErrMissingName
		}
		return req, nil

	case events.StartContest:
		var req StartContestRequest
		var bare string
		if err := json.Unmarshal(msg.Data, &bare); err == nil {
			req.RoomID = bare
		} else if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		req.RoomID = strings.TrimSpace(req.RoomID)
		if req.RoomID == "" {
			return nil, ErrMissingRoom
		}
		return req, nil

	case events.ProblemSolved:
		var req ProblemSolvedRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		req.RoomID = strings.TrimSpace(req.RoomID)
		req.DisplayName = pickName(req.DisplayName, req.Username)
		if req.RoomID == "" {
			return nil, ErrMissingRoom
		}
		if req.DisplayName == "" {
			return nil, ErrMissingName
		}
		return req, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
