package room

import "github.com/mcdev12/codearena/go/internal/arena/events"

// Participant is a named contestant in a room. DisplayName is the identity
// key; ConnectionID is whichever live connection last claimed that name.
type Participant struct {
	ConnectionID string
	DisplayName  string
	Score        int
	ProblemIndex int
}

// View returns the wire representation of the participant
func (p *Participant) View() events.ParticipantView {
	return events.ParticipantView{
		DisplayName:  p.DisplayName,
		Score:        p.Score,
		ProblemIndex: p.ProblemIndex,
	}
}
