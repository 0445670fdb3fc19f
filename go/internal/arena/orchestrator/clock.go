package orchestrator

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/codearena/go/internal/arena/room"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// ContestClock owns the two timer slots of a room: the instruction countdown
// and the contest expiry. Callbacks never run on timer goroutines; they are
// handed to post, which re-enters the coordinator loop.
type ContestClock struct {
	clock            Clock
	countdownSeconds int
	contestDuration  time.Duration
	tickInterval     time.Duration
	post             func(func())
}

// NewContestClock creates a ContestClock. post must run fn on the coordinator loop.
func NewContestClock(clock Clock, countdownSeconds int, contestDuration time.Duration, post func(func())) *ContestClock {
	return &ContestClock{
		clock:            clock,
		countdownSeconds: countdownSeconds,
		contestDuration:  contestDuration,
		tickInterval:     time.Second,
		post:             post,
	}
}

// countdownHandle is a recurring ticker plus the goroutine forwarding its ticks
type countdownHandle struct {
	ticker clockwork.Ticker
	done   chan struct{}
	once   sync.Once
}

func (h *countdownHandle) Stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}

// expiryHandle is a one-shot timer
type expiryHandle struct {
	timer clockwork.Timer
}

func (h *expiryHandle) Stop() {
	h.timer.Stop()
}

// BeginCountdown cancels any timers on r and starts ticking once per second,
// calling onTick with countdownSeconds down to 0. After the 0 tick the ticker
// is cancelled and onElapsed runs exactly once.
func (cc *ContestClock) BeginCountdown(r *room.Room, onTick func(secondsLeft int), onElapsed func()) {
	cc.CancelAll(r)

	h := &countdownHandle{
		ticker: cc.clock.NewTicker(cc.tickInterval),
		done:   make(chan struct{}),
	}
	r.CountdownTimer = h

	remaining := cc.countdownSeconds

	go func() {
		for {
			select {
			case <-h.ticker.Chan():
				cc.post(func() {
					// Ticks queued before a cancel must not reach the room
					if r.CountdownTimer != h {
						return
					}

					onTick(remaining)
					remaining--

					if remaining < 0 {
						h.Stop()
						r.CountdownTimer = nil
						onElapsed()
					}
				})
			case <-h.done:
				return
			}
		}
	}()

	log.Debug().
		Str("room_id", r.ID).
		Int("seconds", cc.countdownSeconds).
		Msg("countdown scheduled")
}

// BeginContestTimer starts the one-shot contest expiry. onExpired runs exactly
// once unless the timer is cancelled first.
func (cc *ContestClock) BeginContestTimer(r *room.Room, onExpired func()) {
	h := &expiryHandle{}
	h.timer = cc.clock.AfterFunc(cc.contestDuration, func() {
		cc.post(func() {
			if r.ExpiryTimer != h {
				return
			}
			r.ExpiryTimer = nil
			onExpired()
		})
	})

	// Replace rather than stack timers
	if r.ExpiryTimer != nil {
		r.ExpiryTimer.Stop()
	}
	r.ExpiryTimer = h

	log.Debug().
		Str("room_id", r.ID).
		Dur("duration", cc.contestDuration).
		Msg("contest expiry scheduled")
}

// CancelAll stops both timer slots on r. Safe to call when nothing is live.
func (cc *ContestClock) CancelAll(r *room.Room) {
	if r.CountdownTimer != nil {
		r.CountdownTimer.Stop()
		r.CountdownTimer = nil
		log.Debug().Str("room_id", r.ID).Msg("cancelled countdown")
	}
	if r.ExpiryTimer != nil {
		r.ExpiryTimer.Stop()
		r.ExpiryTimer = nil
		log.Debug().Str("room_id", r.ID).Msg("cancelled contest expiry")
	}
}

// RemainingContestTime returns the contest time left at now. The result is
// negative once the contest duration has passed.
func (cc *ContestClock) RemainingContestTime(r *room.Room, now time.Time) time.Duration {
	return cc.contestDuration - now.Sub(r.ContestStartedAt)
}

// ContestDuration returns the configured contest length
func (cc *ContestClock) ContestDuration() time.Duration {
	return cc.contestDuration
}
