package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/identity"
	"github.com/mcdev12/codearena/go/internal/arena/orchestrator"
	"github.com/rs/zerolog/log"
)

// Commands is the coordinator surface driven by client messages
type Commands interface {
	Join(connectionID, roomID, displayName string) error
	Start(connectionID, roomID string) error
	Solved(connectionID, roomID, displayName string, points int) error
	Disconnect(connectionID string) error
}

// Notifier sends a message to a single connection
type Notifier interface {
	ToConnection(connectionID, event string, payload any)
}

// MessageRouter decodes client messages and forwards them to the coordinator.
// Identity resolution happens here so coordinator handlers never wait on it.
type MessageRouter struct {
	commands       Commands
	resolver       identity.Resolver
	notifier       Notifier
	resolveTimeout time.Duration
}

// NewMessageRouter creates a router. A nil resolver trusts claimed names.
func NewMessageRouter(commands Commands, resolver identity.Resolver, notifier Notifier) *MessageRouter {
	if resolver == nil {
		resolver = identity.TrustingResolver{}
	}
	return &MessageRouter{
		commands:       commands,
		resolver:       resolver,
		notifier:       notifier,
		resolveTimeout: 5 * time.Second,
	}
}

func (mr *MessageRouter) HandleMessage(connectionID string, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", connectionID).Msg("dropping malformed client message")
		return
	}

	req, err := ParseClientMessage(&msg)
	if err != nil {
		if errors.Is(err, ErrMissingRoom) || errors.Is(err, ErrMissingName) {
			mr.notifier.ToConnection(connectionID, events.ErrorNotice, err.Error())
			return
		}
		log.Debug().Err(err).Str("connection_id", connectionID).Str("type", msg.Type).Msg("dropping client message")
		return
	}

	switch r := req.(type) {
	case JoinRoomRequest:
		ctx, cancel := context.WithTimeout(context.Background(), mr.resolveTimeout)
		name, err := mr.resolver.Resolve(ctx, r.DisplayName, r.Token)
		cancel()
		if err != nil {
			log.Info().Err(err).Str("connection_id", connectionID).Str("room_id", r.RoomID).Msg("join rejected by identity resolver")
			mr.notifier.ToConnection(connectionID, events.ErrorNotice, "Could not verify identity")
			return
		}
		err = mr.commands.Join(connectionID, r.RoomID, name)
		mr.reportSubmit(connectionID, msg.Type, err)

	case StartContestRequest:
		mr.reportSubmit(connectionID, msg.Type, mr.commands.Start(connectionID, r.RoomID))

	case ProblemSolvedRequest:
		mr.reportSubmit(connectionID, msg.Type, mr.commands.Solved(connectionID, r.RoomID, r.DisplayName, r.Points))
	}
}

func (mr *MessageRouter) HandleDisconnect(connectionID string) {
	if err := mr.commands.Disconnect(connectionID); err != nil {
		log.Debug().Err(err).Str("connection_id", connectionID).Msg("disconnect not delivered")
	}
}

func (mr *MessageRouter) reportSubmit(connectionID, msgType string, err error) {
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("connection_id", connectionID).Str("type", msgType).Msg("client message not accepted")
	if errors.Is(err, orchestrator.ErrInboxFull) {
		mr.notifier.ToConnection(connectionID, events.ErrorNotice, "Server is busy, please try again")
	}
}
