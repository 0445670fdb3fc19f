package room

import (
	"fmt"
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// Phase is a room's position in the contest lifecycle.
//
//	Waiting -> CountdownActive -> ContestActive -> ContestEnded
type Phase string

const (
	PhaseWaiting         Phase = "WAITING"
	PhaseCountdownActive Phase = "COUNTDOWN_ACTIVE"
	PhaseContestActive   Phase = "CONTEST_ACTIVE"
	PhaseContestEnded    Phase = "CONTEST_ENDED"
)

// Timer is a cancellable scheduled callback owned by a room.
// Stop must be idempotent.
type Timer interface {
	Stop()
}

// Room is the full state of one contest session.
//
// A Room is not safe for concurrent use; it is owned by the coordinator loop.
type Room struct {
	ID     string
	Roster *Roster
	Phase  Phase

	// ContestStartedAt is set when Phase becomes PhaseContestActive
	ContestStartedAt time.Time

	// At most one of each is live; both are cleared when they fire or are cancelled
	CountdownTimer Timer
	ExpiryTimer    Timer

	CreatedAt    time.Time
	LastActivity time.Time
}

// NewRoom creates an empty room in PhaseWaiting
func NewRoom(id string, capacity int, now time.Time) *Room {
	return &Room{
		ID:           id,
		Roster:       NewRoster(capacity),
		Phase:        PhaseWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch records activity for idle eviction
func (r *Room) Touch(now time.Time) {
	r.LastActivity = now
}

// HasLiveTimers reports whether either timer slot is occupied
func (r *Room) HasLiveTimers() bool {
	return r.CountdownTimer != nil || r.ExpiryTimer != nil
}

// RecordSolved applies a solve only while the contest is running
func (r *Room) RecordSolved(name string, points int) (*Participant, error) {
	if r.Phase != PhaseContestActive {
		return nil, fmt.Errorf("record solve in phase %s: %w", r.Phase, ErrWrongPhase)
	}
	return r.Roster.RecordSolved(name, points)
}

// Snapshot returns a copy of the room state for read-only consumers
func (r *Room) Snapshot(now time.Time, contestDuration time.Duration) events.RoomSnapshot {
	snap := events.RoomSnapshot{
		RoomID: r.ID,
		Phase:  string(r.Phase),
		Roster: r.Roster.Views(),
	}

	if r.Phase == PhaseContestActive {
		startedAt := r.ContestStartedAt
		remaining := contestDuration - now.Sub(startedAt)
		if remaining < 0 {
			remaining = 0
		}
		ms := remaining.Milliseconds()
		snap.ContestStartedAt = &startedAt
		snap.RemainingTimeMs = &ms
	}

	return snap
}

// Summary returns a compact listing entry
func (r *Room) Summary() events.RoomSummary {
	return events.RoomSummary{
		RoomID:       r.ID,
		Phase:        string(r.Phase),
		Participants: r.Roster.Len(),
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
}
