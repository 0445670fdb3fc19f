package room

import (
	"fmt"
	"math"

	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// Roster is the ordered set of participants in one room, in join order.
// Participants are never removed so that a dropped client can reconnect
// under the same display name and keep its score.
type Roster struct {
	capacity     int
	participants []*Participant
}

// NewRoster creates an empty roster bounded by capacity
func NewRoster(capacity int) *Roster {
	return &Roster{
		capacity:     capacity,
		participants: make([]*Participant, 0, capacity),
	}
}

// Len returns the number of participants
func (r *Roster) Len() int {
	return len(r.participants)
}

// Capacity returns the maximum number of participants
func (r *Roster) Capacity() int {
	return r.capacity
}

// FindByName returns the participant with the given display name, or nil.
// The match is case-sensitive.
func (r *Roster) FindByName(name string) *Participant {
	for _, p := range r.participants {
		if p.DisplayName == name {
			return p
		}
	}
	return nil
}

// LookupByConnection returns the participant currently bound to connectionID, or nil.
// It never mutates the roster.
func (r *Roster) LookupByConnection(connectionID string) *Participant {
	for _, p := range r.participants {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

// Add appends a new participant with zero score and progress
func (r *Roster) Add(connectionID, name string) (*Participant, error) {
	if len(r.participants) >= r.capacity {
		return nil, fmt.Errorf("add %q: %w", name, ErrRoomFull)
	}

	p := &Participant{
		ConnectionID: connectionID,
		DisplayName:  name,
	}
	r.participants = append(r.participants, p)
	return p, nil
}

// Rebind moves a participant onto a new connection, keeping score and progress
func (r *Roster) Rebind(p *Participant, connectionID string) {
	p.ConnectionID = connectionID
}

// ResetForNewContest zeroes every participant's score and progress
func (r *Roster) ResetForNewContest() {
	for _, p := range r.participants {
		p.Score = 0
		p.ProblemIndex = 0
	}
}

// RecordSolved credits points to name and advances its problem cursor
func (r *Roster) RecordSolved(name string, points int) (*Participant, error) {
	if points < 0 {
		return nil, fmt.Errorf("record solve for %q: %w", name, ErrInvalidPoints)
	}

	p := r.FindByName(name)
	if p == nil {
		return nil, fmt.Errorf("record solve for %q: %w", name, ErrParticipantNotFound)
	}
	if points > math.MaxInt-p.Score {
		return nil, fmt.Errorf("record solve for %q: score overflow: %w", name, ErrInvalidPoints)
	}

	p.Score += points
	p.ProblemIndex++
	return p, nil
}

// Views returns the roster in join order as wire payloads
func (r *Roster) Views() []events.ParticipantView {
	views := make([]events.ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, p.View())
	}
	return views
}
