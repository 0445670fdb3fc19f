package room

import "errors"

// ErrRoomFull is returned when a new participant would exceed the room capacity
var ErrRoomFull = errors.New("room is full")

// ErrParticipantNotFound is returned when no roster entry has the given display name
var ErrParticipantNotFound = errors.New("participant not found")

// ErrWrongPhase is returned when an operation is not allowed in the room's current phase
var ErrWrongPhase = errors.New("operation not allowed in current phase")

// ErrInvalidPoints is returned for a negative solve award
var ErrInvalidPoints = errors.New("points must not be negative")

// ErrRoomNotFound is returned when a room identifier is not in the registry
var ErrRoomNotFound = errors.New("room not found")
