package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInboxFull is returned when the coordinator cannot accept another event
	ErrInboxFull = errors.New("coordinator inbox full")
	// ErrCoordinatorStopped is returned once Run has exited
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

// Dispatcher delivers outbound events to connected clients. Calls must not
// block on a peer.
type Dispatcher interface {
	ToRoom(roomID, event string, payload any)
	ToConnection(connectionID, event string, payload any)
	Subscribe(connectionID, roomID string)
}

// Config holds the contest rules and loop sizing
type Config struct {
	MaxPlayers       int
	MinPlayers       int
	CountdownSeconds int
	ContestDuration  time.Duration

	// AllowRestartAfterEnd lets start-contest run again once a contest has ended
	AllowRestartAfterEnd bool

	// RoomIdleTTL enables idle eviction when > 0
	RoomIdleTTL   time.Duration
	SweepInterval time.Duration

	InboxSize int
}

// DefaultConfig returns the standard arena rules
func DefaultConfig() Config {
	return Config{
		MaxPlayers:           3,
		MinPlayers:           2,
		CountdownSeconds:     10,
		ContestDuration:      45 * time.Minute,
		AllowRestartAfterEnd: true,
		SweepInterval:        time.Minute,
		InboxSize:            1024,
	}
}

// Coordinator is the single writer for all room state. Inbound client events
// and timer callbacks are queued on one inbox and run to completion, one at a
// time, by Run.
type Coordinator struct {
	registry     room.Registry
	dispatcher   Dispatcher
	clock        Clock
	contestClock *ContestClock
	config       Config

	inbox chan func()
	done  chan struct{}

	// connectionID -> roomID for connections that joined a room; owned by the loop
	presence map[string]string
}

// NewCoordinator creates a coordinator. Call Run to start processing.
// A zero SweepInterval or InboxSize takes the DefaultConfig value.
func NewCoordinator(registry room.Registry, dispatcher Dispatcher, clock Clock, config Config) *Coordinator {
	defaults := DefaultConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.InboxSize <= 0 {
		config.InboxSize = defaults.InboxSize
	}

	c := &Coordinator{
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clock,
		config:     config,
		inbox:      make(chan func(), config.InboxSize),
		done:       make(chan struct{}),
		presence:   make(map[string]string),
	}
	c.contestClock = NewContestClock(clock, config.CountdownSeconds, config.ContestDuration, c.schedule)
	return c
}

// Run processes queued events until ctx is cancelled. All live room timers
// are cancelled on exit.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().
		Int("max_players", c.config.MaxPlayers).
		Int("countdown_sec", c.config.CountdownSeconds).
		Dur("contest_duration", c.config.ContestDuration).
		Bool("restart_after_end", c.config.AllowRestartAfterEnd).
		Msg("coordinator started")

	var sweepCh <-chan time.Time
	if c.config.RoomIdleTTL > 0 {
		ticker := c.clock.NewTicker(c.config.SweepInterval)
		defer ticker.Stop()
		sweepCh = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case fn := <-c.inbox:
			fn()
		case <-sweepCh:
			c.sweep()
		}
	}
}

func (c *Coordinator) shutdown() {
	close(c.done)
	for _, r := range c.registry.Rooms() {
		c.contestClock.CancelAll(r)
	}
	log.Info().Msg("coordinator stopped")
}

// submit queues fn without blocking
func (c *Coordinator) submit(fn func()) error {
	select {
	case <-c.done:
		return ErrCoordinatorStopped
	default:
	}

	select {
	case c.inbox <- fn:
		return nil
	default:
		log.Warn().Int("inbox_size", cap(c.inbox)).Msg("coordinator inbox full, dropping event")
		return ErrInboxFull
	}
}

// schedule queues a timer callback, waiting for room in the inbox. It is only
// called from timer goroutines, never from the loop.
func (c *Coordinator) schedule(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// Join queues a join-room event for connectionID
func (c *Coordinator) Join(connectionID, roomID, displayName string) error {
	return c.submit(func() { c.handleJoin(connectionID, roomID, displayName) })
}

// Start queues a start-contest event
func (c *Coordinator) Start(connectionID, roomID string) error {
	return c.submit(func() { c.handleStart(connectionID, roomID) })
}

// Solved queues a problem-solved event
func (c *Coordinator) Solved(connectionID, roomID, displayName string, points int) error {
	return c.submit(func() { c.handleSolved(connectionID, roomID, displayName, points) })
}

// Disconnect queues the transport's disconnect notification
func (c *Coordinator) Disconnect(connectionID string) error {
	return c.submit(func() { c.handleDisconnect(connectionID) })
}

// Snapshot returns the current state of roomID as seen by the loop
func (c *Coordinator) Snapshot(ctx context.Context, roomID string) (*events.RoomSnapshot, error) {
	reply := make(chan *events.RoomSnapshot, 1)
	err := c.submit(func() {
		r := c.registry.Get(roomID)
		if r == nil {
			reply <- nil
			return
		}
		snap := r.Snapshot(c.clock.Now(), c.config.ContestDuration)
		reply <- &snap
	})
	if err != nil {
		return nil, err
	}

	select {
	case snap := <-reply:
		if snap == nil {
			return nil, room.ErrRoomNotFound
		}
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrCoordinatorStopped
	}
}

// ListRooms returns a summary of every room in the registry
func (c *Coordinator) ListRooms(ctx context.Context) ([]events.RoomSummary, error) {
	reply := make(chan []events.RoomSummary, 1)
	err := c.submit(func() {
		rooms := c.registry.Rooms()
		summaries := make([]events.RoomSummary, 0, len(rooms))
		for _, r := range rooms {
			summaries = append(summaries, r.Summary())
		}
		reply <- summaries
	})
	if err != nil {
		return nil, err
	}

	select {
	case summaries := <-reply:
		return summaries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrCoordinatorStopped
	}
}

func (c *Coordinator) liveConnections(roomID string) int {
	n := 0
	for _, id := range c.presence {
		if id == roomID {
			n++
		}
	}
	return n
}

func (c *Coordinator) sweep() {
	evicted := c.registry.Sweep(c.clock.Now(), c.liveConnections)
	for _, id := range evicted {
		log.Debug().Str("room_id", id).Msg("room evicted")
	}
}
