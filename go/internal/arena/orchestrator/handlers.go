package orchestrator

import (
	"errors"
	"fmt"

	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/rs/zerolog/log"
)

// Handlers below run only on the coordinator loop.

func (c *Coordinator) handleJoin(connectionID, roomID, displayName string) {
	now := c.clock.Now()
	r := c.registry.GetOrCreate(roomID, now)
	r.Touch(now)

	c.dispatcher.Subscribe(connectionID, roomID)
	c.presence[connectionID] = roomID

	if p := r.Roster.FindByName(displayName); p != nil {
		r.Roster.Rebind(p, connectionID)
		log.Info().
			Str("room_id", roomID).
			Str("connection_id", connectionID).
			Str("display_name", displayName).
			Msg("participant reconnected")
	} else {
		if _, err := r.Roster.Add(connectionID, displayName); err != nil {
			if errors.Is(err, room.ErrRoomFull) {
				log.Info().
					Str("room_id", roomID).
					Str("display_name", displayName).
					Int("capacity", r.Roster.Capacity()).
					Msg("join rejected, room full")
				c.dispatcher.ToConnection(connectionID, events.ErrorNotice,
					fmt.Sprintf("Room is full (max %d players)", r.Roster.Capacity()))
				return
			}
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to add participant")
			return
		}

		log.Info().
			Str("room_id", roomID).
			Str("connection_id", connectionID).
			Str("display_name", displayName).
			Int("participants", r.Roster.Len()).
			Msg("participant joined")
		c.dispatcher.ToRoom(roomID, events.JoinNotice, fmt.Sprintf("%s joined the arena!", displayName))
	}

	c.dispatcher.ToRoom(roomID, events.RosterUpdated, r.Roster.Views())

	if r.Phase == room.PhaseContestActive {
		remaining := c.contestClock.RemainingContestTime(r, now)
		if remaining < 0 {
			remaining = 0
		}
		c.dispatcher.ToConnection(connectionID, events.ContestStarted, events.ContestStartedPayload{
			RemainingTime: remaining.Milliseconds(),
			Roster:        r.Roster.Views(),
		})
	}
}

func (c *Coordinator) canStart(phase room.Phase) bool {
	switch phase {
	case room.PhaseWaiting:
		return true
	case room.PhaseContestEnded:
		return c.config.AllowRestartAfterEnd
	default:
		return false
	}
}

func (c *Coordinator) handleStart(connectionID, roomID string) {
	r := c.registry.Get(roomID)
	if r == nil {
		log.Debug().Str("room_id", roomID).Str("connection_id", connectionID).Msg("start for unknown room ignored")
		return
	}
	r.Touch(c.clock.Now())

	if r.Roster.Len() < c.config.MinPlayers {
		c.dispatcher.ToRoom(roomID, events.ErrorNotice,
			fmt.Sprintf("Need at least %d players to start!", c.config.MinPlayers))
		return
	}

	if !c.canStart(r.Phase) {
		log.Debug().Str("room_id", roomID).Str("phase", string(r.Phase)).Msg("duplicate start ignored")
		return
	}

	r.Roster.ResetForNewContest()
	c.dispatcher.ToRoom(roomID, events.InstructionPhase, true)

	r.Phase = room.PhaseCountdownActive
	log.Info().
		Str("room_id", roomID).
		Str("started_by", connectionID).
		Int("participants", r.Roster.Len()).
		Msg("countdown started")

	c.contestClock.BeginCountdown(r,
		func(secondsLeft int) {
			c.dispatcher.ToRoom(roomID, events.CountdownTick, secondsLeft)
		},
		func() {
			c.beginContest(r)
		},
	)
}

func (c *Coordinator) beginContest(r *room.Room) {
	now := c.clock.Now()
	r.Phase = room.PhaseContestActive
	r.ContestStartedAt = now
	r.Touch(now)

	c.dispatcher.ToRoom(r.ID, events.ContestStarted, events.ContestStartedPayload{
		RemainingTime: c.contestClock.ContestDuration().Milliseconds(),
		Roster:        r.Roster.Views(),
	})
	log.Info().Str("room_id", r.ID).Dur("duration", c.contestClock.ContestDuration()).Msg("contest started")

	c.contestClock.BeginContestTimer(r, func() {
		r.Phase = room.PhaseContestEnded
		r.Touch(c.clock.Now())
		c.dispatcher.ToRoom(r.ID, events.ContestEnded, r.Roster.Views())
		log.Info().Str("room_id", r.ID).Msg("contest ended")
	})
}

func (c *Coordinator) handleSolved(connectionID, roomID, displayName string, points int) {
	r := c.registry.Get(roomID)
	if r == nil {
		log.Debug().Str("room_id", roomID).Msg("solve for unknown room ignored")
		return
	}

	p, err := r.RecordSolved(displayName, points)
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_id", roomID).
			Str("connection_id", connectionID).
			Str("display_name", displayName).
			Int("points", points).
			Msg("solve ignored")
		return
	}
	r.Touch(c.clock.Now())

	log.Info().
		Str("room_id", roomID).
		Str("display_name", p.DisplayName).
		Int("score", p.Score).
		Int("problem_index", p.ProblemIndex).
		Msg("problem solved")

	c.dispatcher.ToRoom(roomID, events.RosterUpdated, r.Roster.Views())
	c.dispatcher.ToRoom(roomID, events.SolveNotice,
		fmt.Sprintf("%s solved their problem and moved ahead!", p.DisplayName))
}

// handleDisconnect drops presence only. The participant stays in the roster
// so the client can reconnect under the same name.
func (c *Coordinator) handleDisconnect(connectionID string) {
	roomID, ok := c.presence[connectionID]
	delete(c.presence, connectionID)
	if !ok {
		return
	}

	ev := log.Debug().Str("connection_id", connectionID).Str("room_id", roomID)
	if r := c.registry.Get(roomID); r != nil {
		if p := r.Roster.LookupByConnection(connectionID); p != nil {
			ev = ev.Str("display_name", p.DisplayName)
		}
	}
	ev.Msg("connection left room")
}
