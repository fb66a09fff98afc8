package tick

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"drift-arena/server/internal/proto"
	"drift-arena/server/internal/sim"
)

// Broadcaster delivers one event to every interested subscriber, local or
// remote. It must not block on network I/O; delivery failures are its own to
// log and swallow.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Scheduler drives the fixed-rate update/broadcast loop. The timing is
// fixed-delay on purpose: the ticker fires at most once per interval and drift
// is never compensated, so a slow tick simply delays the next one.
type Scheduler struct {
	engine   sim.Engine
	out      Broadcaster
	interval time.Duration
	logger   zerolog.Logger
	ticks    atomic.Uint64
}

// New computes the interval as floor(1000/rate) milliseconds. Config
// validation rejects rates outside 1..1000 before they reach here, but the
// constructor clamps anyway: a rate above 1000 Hz would floor the interval to
// zero and the ticker cannot run on that.
func New(engine sim.Engine, out Broadcaster, rate int, logger zerolog.Logger) *Scheduler {
	if rate <= 0 {
		rate = 60
	}
	if rate > 1000 {
		rate = 1000
	}
	return &Scheduler{
		engine:   engine,
		out:      out,
		interval: time.Duration(1000/rate) * time.Millisecond,
		logger:   logger,
	}
}

// Interval returns the fixed tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Ticks returns the number of ticks fired so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Run blocks until ctx is done. Each fire advances the engine and then
// unconditionally broadcasts the snapshot, whether or not anything changed.
// An absent engine skips the tick silently.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Debug().Dur("interval", s.interval).Msg("scheduler running")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = s.interval.Seconds()
			}
			last = now

			if s.engine == nil {
				continue
			}

			s.engine.Update(dt)
			snapshot := s.engine.Snapshot()
			s.ticks.Add(1)

			s.out.Broadcast(proto.EventState, proto.StateMessage{
				Type:       proto.EventState,
				Tick:       snapshot.Tick,
				Players:    snapshot.Players,
				ServerTime: now.UnixMilli(),
			})
		}
	}
}
