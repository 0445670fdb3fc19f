package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/orchestrator"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_FullContest(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	h.join("c-b", "r1", "B")

	rosters := h.disp.named(events.RosterUpdated)
	require.Len(t, rosters, 2)
	last := rosters[1].Payload.([]events.ParticipantView)
	assert.Equal(t, []events.ParticipantView{
		{DisplayName: "A"},
		{DisplayName: "B"},
	}, last)
	assert.Equal(t, "r1", h.disp.subscription("c-a"))

	require.NoError(t, h.coord.Start("c-a", "r1"))
	h.sync()

	instr := h.disp.named(events.InstructionPhase)
	require.Len(t, instr, 1)
	assert.Equal(t, true, instr[0].Payload)
	assert.Equal(t, string(room.PhaseCountdownActive), h.snapshot("r1").Phase)

	h.runCountdown()

	ticks := h.disp.named(events.CountdownTick)
	require.Len(t, ticks, 11)
	for i, tick := range ticks {
		assert.Equal(t, 10-i, tick.Payload)
	}

	// contest-started comes after the last tick
	all := h.disp.all()
	lastTick, started := -1, -1
	for i, s := range all {
		switch s.Event {
		case events.CountdownTick:
			lastTick = i
		case events.ContestStarted:
			started = i
		}
	}
	assert.Greater(t, started, lastTick)

	startedMsgs := h.disp.named(events.ContestStarted)
	require.Len(t, startedMsgs, 1)
	payload := startedMsgs[0].Payload.(events.ContestStartedPayload)
	assert.Equal(t, int64(2_700_000), payload.RemainingTime)
	assert.Equal(t, "r1", startedMsgs[0].Room)
	assert.Len(t, payload.Roster, 2)

	snap := h.snapshot("r1")
	assert.Equal(t, string(room.PhaseContestActive), snap.Phase)
	require.NotNil(t, snap.RemainingTimeMs)
	assert.Equal(t, int64(2_700_000), *snap.RemainingTimeMs)

	require.NoError(t, h.coord.Solved("c-a", "r1", "A", 20))
	h.sync()

	scores := byName(h.snapshot("r1").Roster)
	assert.Equal(t, 20, scores["A"].Score)
	assert.Equal(t, 1, scores["A"].ProblemIndex)

	notices := h.disp.named(events.SolveNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, "A solved their problem and moved ahead!", notices[0].Payload)

	h.expireContest()

	ended := h.disp.named(events.ContestEnded)
	require.Len(t, ended, 1)
	final := byName(ended[0].Payload.([]events.ParticipantView))
	assert.Equal(t, 20, final["A"].Score)
	assert.Equal(t, 0, final["B"].Score)
	assert.Equal(t, string(room.PhaseContestEnded), h.snapshot("r1").Phase)
}

func TestCoordinator_StartNeedsTwoPlayers(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r2", "A")
	require.NoError(t, h.coord.Start("c-a", "r2"))
	h.sync()

	notices := h.disp.named(events.ErrorNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, "r2", notices[0].Room)
	assert.Equal(t, "Need at least 2 players to start!", notices[0].Payload)

	snap := h.snapshot("r2")
	assert.Equal(t, string(room.PhaseWaiting), snap.Phase)
	assert.Len(t, snap.Roster, 1)
	assert.Zero(t, h.disp.count(events.InstructionPhase))
}

func TestCoordinator_JoinNotice(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	h.join("c-a2", "r1", "A")

	notices := h.disp.named(events.JoinNotice)
	require.Len(t, notices, 1, "reconnect must not announce again")
	assert.Equal(t, "A joined the arena!", notices[0].Payload)
}

func TestCoordinator_RoomFull(t *testing.T) {
	h := newHarness(t)

	for i, name := range []string{"A", "B", "C"} {
		h.join(fmt.Sprintf("c-%d", i), "r1", name)
	}
	rostersBefore := h.disp.count(events.RosterUpdated)

	h.join("c-3", "r1", "D")

	notices := h.disp.named(events.ErrorNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, "c-3", notices[0].Connection)
	assert.Empty(t, notices[0].Room)
	assert.Equal(t, "Room is full (max 3 players)", notices[0].Payload)

	assert.Equal(t, rostersBefore, h.disp.count(events.RosterUpdated))
	assert.Len(t, h.snapshot("r1").Roster, 3)
	assert.Equal(t, "r1", h.disp.subscription("c-3"))
}

func TestCoordinator_ReconnectKeepsProgress(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	h.join("c-b", "r1", "B")
	require.NoError(t, h.coord.Start("c-a", "r1"))
	h.sync()
	h.runCountdown()

	require.NoError(t, h.coord.Solved("c-a", "r1", "A", 15))
	h.sync()

	h.join("c-a-new", "r1", "A")

	snap := h.snapshot("r1")
	require.Len(t, snap.Roster, 2)
	assert.Equal(t, 15, byName(snap.Roster)["A"].Score)

	r := h.reg.Get("r1")
	require.NotNil(t, r)
	p := r.Roster.LookupByConnection("c-a-new")
	require.NotNil(t, p)
	assert.Equal(t, "A", p.DisplayName)
	assert.Nil(t, r.Roster.LookupByConnection("c-a"))
}

func TestCoordinator_DuplicateStartIgnored(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	h.join("c-b", "r1", "B")
	require.NoError(t, h.coord.Start("c-a", "r1"))
	require.NoError(t, h.coord.Start("c-b", "r1"))
	h.sync()

	assert.Equal(t, 1, h.disp.count(events.InstructionPhase))

	h.runCountdown()
	assert.Equal(t, 11, h.disp.count(events.CountdownTick))

	require.NoError(t, h.coord.Start("c-b", "r1"))
	h.sync()

	assert.Equal(t, 1, h.disp.count(events.InstructionPhase))
	assert.Equal(t, 1, h.disp.count(events.ContestStarted))
	assert.Equal(t, string(room.PhaseContestActive), h.snapshot("r1").Phase)

	// no second ticker is live
	h.clock.Advance(time.Second)
	h.sync()
	assert.Equal(t, 11, h.disp.count(events.CountdownTick))
}

func TestCoordinator_LateJoinerReceivesRemainingTime(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	h.join("c-b", "r1", "B")
	require.NoError(t, h.coord.Start("c-a", "r1"))
	h.sync()
	h.runCountdown()

	h.clock.Advance(5 * time.Minute)
	h.join("c-c", "r1", "C")

	var private []events.ContestStartedPayload
	for _, s := range h.disp.named(events.ContestStarted) {
		if s.Connection == "c-c" {
			private = append(private, s.Payload.(events.ContestStartedPayload))
		}
	}
	require.Len(t, private, 1)
	assert.Equal(t, (40 * time.Minute).Milliseconds(), private[0].RemainingTime)
	assert.Len(t, private[0].Roster, 3)
}

func TestCoordinator_SolvedIgnored(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		player  string
		points  int
		started bool
	}{
		{name: "before contest", roomID: "r1", player: "A", points: 10},
		{name: "unknown room", roomID: "missing", player: "A", points: 10, started: true},
		{name: "unknown participant", roomID: "r1", player: "Z", points: 10, started: true},
		{name: "negative points", roomID: "r1", player: "A", points: -5, started: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.join("c-a", "r1", "A")
			h.join("c-b", "r1", "B")
			if tt.started {
				require.NoError(t, h.coord.Start("c-a", "r1"))
				h.sync()
				h.runCountdown()
			}
			rostersBefore := h.disp.count(events.RosterUpdated)

			require.NoError(t, h.coord.Solved("c-a", tt.roomID, tt.player, tt.points))
			h.sync()

			assert.Equal(t, rostersBefore, h.disp.count(events.RosterUpdated))
			assert.Zero(t, h.disp.count(events.SolveNotice))
			for _, p := range h.snapshot("r1").Roster {
				assert.Zero(t, p.Score)
				assert.Zero(t, p.ProblemIndex)
			}
		})
	}
}

func TestCoordinator_StartUnknownRoom(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.coord.Start("c-a", "nowhere"))
	h.sync()

	assert.Empty(t, h.disp.all())
	_, err := h.coord.Snapshot(h.ctx, "nowhere")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestCoordinator_RestartAfterEnd(t *testing.T) {
	tests := []struct {
		name      string
		allow     bool
		wantPhase room.Phase
		wantInstr int
	}{
		{name: "allowed", allow: true, wantPhase: room.PhaseCountdownActive, wantInstr: 2},
		{name: "disallowed", allow: false, wantPhase: room.PhaseContestEnded, wantInstr: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *orchestrator.Config) { c.AllowRestartAfterEnd = tt.allow })

			h.join("c-a", "r1", "A")
			h.join("c-b", "r1", "B")
			require.NoError(t, h.coord.Start("c-a", "r1"))
			h.sync()
			h.runCountdown()
			require.NoError(t, h.coord.Solved("c-a", "r1", "A", 30))
			h.sync()
			h.expireContest()

			require.NoError(t, h.coord.Start("c-b", "r1"))
			h.sync()

			snap := h.snapshot("r1")
			assert.Equal(t, string(tt.wantPhase), snap.Phase)
			assert.Equal(t, tt.wantInstr, h.disp.count(events.InstructionPhase))

			wantScore := 30
			if tt.allow {
				wantScore = 0
			}
			assert.Equal(t, wantScore, byName(snap.Roster)["A"].Score)
		})
	}
}

func TestCoordinator_DisconnectKeepsParticipant(t *testing.T) {
	h := newHarness(t)

	h.join("c-a", "r1", "A")
	require.NoError(t, h.coord.Disconnect("c-a"))
	require.NoError(t, h.coord.Disconnect("never-joined"))
	h.sync()

	snap := h.snapshot("r1")
	require.Len(t, snap.Roster, 1)
	assert.Equal(t, "A", snap.Roster[0].DisplayName)
	assert.Equal(t, 1, h.disp.count(events.RosterUpdated))

	// the binding is kept until the name is claimed again
	p := h.reg.Get("r1").Roster.LookupByConnection("c-a")
	require.NotNil(t, p)
	assert.Equal(t, "A", p.DisplayName)
}

func TestCoordinator_IdleRoomsEvicted(t *testing.T) {
	h := newHarness(t, func(c *orchestrator.Config) {
		c.RoomIdleTTL = time.Minute
		c.SweepInterval = 30 * time.Second
	})

	// sweep ticker
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))

	h.join("c-a", "idle", "A")
	h.join("c-b", "busy", "B")
	require.NoError(t, h.coord.Disconnect("c-a"))
	h.sync()

	require.Eventually(t, func() bool {
		h.clock.Advance(h.cfg.SweepInterval)
		rooms, err := h.coord.ListRooms(h.ctx)
		return err == nil && len(rooms) == 1
	}, time.Second, 10*time.Millisecond)

	rooms, err := h.coord.ListRooms(h.ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "busy", rooms[0].RoomID)
}

func TestCoordinator_ListRooms(t *testing.T) {
	h := newHarness(t)

	t0 := h.clock.Now()
	h.join("c-1", "b", "A")
	h.clock.Advance(time.Minute)
	h.join("c-2", "a", "A")
	h.clock.Advance(time.Minute)
	h.join("c-3", "a", "B")

	rooms, err := h.coord.ListRooms(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []events.RoomSummary{
		{RoomID: "a", Phase: string(room.PhaseWaiting), Participants: 2, CreatedAt: t0.Add(time.Minute), LastActivity: t0.Add(2 * time.Minute)},
		{RoomID: "b", Phase: string(room.PhaseWaiting), Participants: 1, CreatedAt: t0, LastActivity: t0},
	}, rooms)
}

func TestCoordinator_SubmitErrors(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.InboxSize = 1
	coord := orchestrator.NewCoordinator(room.NewMemoryRegistry(cfg.MaxPlayers, nil), newRecordingDispatcher(), clockwork.NewFakeClock(), cfg)

	require.NoError(t, coord.Join("c-a", "r1", "A"))
	assert.ErrorIs(t, coord.Join("c-b", "r1", "B"), orchestrator.ErrInboxFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, coord.Run(ctx))

	assert.ErrorIs(t, coord.Start("c-a", "r1"), orchestrator.ErrCoordinatorStopped)
	_, err := coord.Snapshot(context.Background(), "r1")
	assert.ErrorIs(t, err, orchestrator.ErrCoordinatorStopped)
}

func TestCoordinator_ZeroSizingUsesDefaults(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.InboxSize = 0
	cfg.SweepInterval = 0
	coord := orchestrator.NewCoordinator(room.NewMemoryRegistry(cfg.MaxPlayers, nil), newRecordingDispatcher(), clockwork.NewFakeClock(), cfg)

	for i := 0; i < 10; i++ {
		assert.NoError(t, coord.Join(fmt.Sprintf("c-%d", i), "r1", fmt.Sprintf("P%d", i)))
	}
}

func TestCoordinator_IdleSweepWithZeroInterval(t *testing.T) {
	h := newHarness(t, func(c *orchestrator.Config) {
		c.RoomIdleTTL = time.Minute
		c.SweepInterval = 0
	})

	// Run must start the sweep ticker on the default interval instead of panicking
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))

	h.join("c-a", "idle", "A")
	require.NoError(t, h.coord.Disconnect("c-a"))
	h.sync()

	require.Eventually(t, func() bool {
		h.clock.Advance(orchestrator.DefaultConfig().SweepInterval)
		rooms, err := h.coord.ListRooms(h.ctx)
		return err == nil && len(rooms) == 0
	}, time.Second, 10*time.Millisecond)
}
