package events

import "time"

// Event names and payload types shared between the orchestrator and gateway packages

// Inbound event names (client -> coordinator)
const (
	JoinRoom      = "join-room"
	StartContest  = "start-contest"
	ProblemSolved = "problem-solved"
)

// Outbound event names (coordinator -> clients)
const (
	RosterUpdated    = "roster-updated"
	ErrorNotice      = "error-notice"
	InstructionPhase = "instruction-phase"
	CountdownTick    = "countdown-tick"
	ContestStarted   = "contest-started"
	ContestEnded     = "contest-ended"
	SolveNotice      = "solve-notice"
	JoinNotice       = "join-notice"
)

// ParticipantView is the wire shape of one roster entry
type ParticipantView struct {
	DisplayName  string `json:"displayName"`
	Score        int    `json:"score"`
	ProblemIndex int    `json:"problemIndex"`
}

// ContestStartedPayload is sent to the room when the contest begins and to
// single connections that join while it is running
type ContestStartedPayload struct {
	RemainingTime int64             `json:"remainingTime"` // milliseconds
	Roster        []ParticipantView `json:"roster"`
}

// RoomSnapshot is the point-in-time state of a room served over REST
type RoomSnapshot struct {
	RoomID           string            `json:"room_id"`
	Phase            string            `json:"phase"`
	Roster           []ParticipantView `json:"roster"`
	ContestStartedAt *time.Time        `json:"contest_started_at,omitempty"`
	RemainingTimeMs  *int64            `json:"remaining_time_ms,omitempty"`
}

// RoomSummary is a compact listing entry for all rooms
type RoomSummary struct {
	RoomID       string    `json:"room_id"`
	Phase        string    `json:"phase"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
