package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codearena/go/internal/arena/events"
	"github.com/mcdev12/codearena/go/internal/arena/orchestrator"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/stretchr/testify/require"
)

type sent struct {
	Room       string
	Connection string
	Event      string
	Payload    any
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sent
	subs map[string]string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{subs: make(map[string]string)}
}

func (d *recordingDispatcher) ToRoom(roomID, event string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{Room: roomID, Event: event, Payload: payload})
}

func (d *recordingDispatcher) ToConnection(connectionID, event string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{Connection: connectionID, Event: event, Payload: payload})
}

func (d *recordingDispatcher) Subscribe(connectionID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[connectionID] = roomID
}

func (d *recordingDispatcher) named(event string) []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []sent
	for _, s := range d.sent {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (d *recordingDispatcher) count(event string) int {
	return len(d.named(event))
}

func (d *recordingDispatcher) all() []sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sent(nil), d.sent...)
}

func (d *recordingDispatcher) subscription(connectionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[connectionID]
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	reg   *room.MemoryRegistry
	disp  *recordingDispatcher
	coord *orchestrator.Coordinator
	cfg   orchestrator.Config
}

func newHarness(t *testing.T, mutate ...func(*orchestrator.Config)) *harness {
	t.Helper()

	cfg := orchestrator.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	var policy room.EvictionPolicy = room.NeverEvict{}
	if cfg.RoomIdleTTL > 0 {
		policy = room.IdleEvict{TTL: cfg.RoomIdleTTL}
	}

	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClock(),
		reg:   room.NewMemoryRegistry(cfg.MaxPlayers, policy),
		disp:  newRecordingDispatcher(),
		cfg:   cfg,
	}
	h.coord = orchestrator.NewCoordinator(h.reg, h.disp, h.clock, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

// sync returns once every event submitted before it has been handled
func (h *harness) sync() {
	h.t.Helper()
	_, err := h.coord.ListRooms(h.ctx)
	require.NoError(h.t, err)
}

func (h *harness) join(connectionID, roomID, name string) {
	h.t.Helper()
	require.NoError(h.t, h.coord.Join(connectionID, roomID, name))
	h.sync()
}

func (h *harness) snapshot(roomID string) *events.RoomSnapshot {
	h.t.Helper()
	snap, err := h.coord.Snapshot(h.ctx, roomID)
	require.NoError(h.t, err)
	return snap
}

// runCountdown advances the clock one second at a time until the contest starts
func (h *harness) runCountdown() {
	h.t.Helper()
	startedBefore := h.disp.count(events.ContestStarted)
	ticksBefore := h.disp.count(events.CountdownTick)

	for i := 1; i <= h.cfg.CountdownSeconds+1; i++ {
		h.clock.Advance(time.Second)
		want := ticksBefore + i
		require.Eventually(h.t, func() bool {
			return h.disp.count(events.CountdownTick) == want
		}, time.Second, time.Millisecond, "tick %d", i)
	}

	require.Eventually(h.t, func() bool {
		return h.disp.count(events.ContestStarted) == startedBefore+1
	}, time.Second, time.Millisecond)

	// the expiry timer is armed in the same step as contest-started
	h.sync()
}

// expireContest advances past the contest duration and waits for contest-ended
func (h *harness) expireContest() {
	h.t.Helper()
	endedBefore := h.disp.count(events.ContestEnded)
	h.clock.Advance(h.cfg.ContestDuration)
	require.Eventually(h.t, func() bool {
		return h.disp.count(events.ContestEnded) == endedBefore+1
	}, time.Second, time.Millisecond)
	h.sync()
}

func byName(roster []events.ParticipantView) map[string]events.ParticipantView {
	out := make(map[string]events.ParticipantView, len(roster))
	for _, p := range roster {
		out[p.DisplayName] = p
	}
	return out
}
