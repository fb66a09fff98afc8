package tick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"drift-arena/server/internal/proto"
	"drift-arena/server/internal/sim"
)

type countingBroadcaster struct {
	mu       sync.Mutex
	events   []string
	payloads []proto.StateMessage
}

func (c *countingBroadcaster) Broadcast(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if msg, ok := payload.(proto.StateMessage); ok {
		c.payloads = append(c.payloads, msg)
	}
}

func (c *countingBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type countingEngine struct {
	mu      sync.Mutex
	updates int
	tick    uint64
}

func (e *countingEngine) Update(dt float64) {
	e.mu.Lock()
	e.updates++
	e.tick++
	e.mu.Unlock()
}

func (e *countingEngine) Snapshot() sim.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sim.Snapshot{Tick: e.tick}
}

func TestIntervalIsFlooredMilliseconds(t *testing.T) {
	cases := []struct {
		rate int
		want time.Duration
	}{
		{60, 16 * time.Millisecond},
		{30, 33 * time.Millisecond},
		{15, 66 * time.Millisecond},
		{100, 10 * time.Millisecond},
		{1000, time.Millisecond},
	}

	for _, tc := range cases {
		s := New(&countingEngine{}, &countingBroadcaster{}, tc.rate, zerolog.Nop())
		require.Equal(t, tc.want, s.Interval(), "rate %d", tc.rate)
	}
}

func TestNewClampsRateToRunnableInterval(t *testing.T) {
	// Out-of-range rates are rejected by config validation, but the
	// constructor must still never produce a zero interval the ticker
	// would panic on.
	cases := []struct {
		rate int
		want time.Duration
	}{
		{0, 16 * time.Millisecond},
		{-5, 16 * time.Millisecond},
		{1001, time.Millisecond},
		{100000, time.Millisecond},
	}

	for _, tc := range cases {
		s := New(&countingEngine{}, &countingBroadcaster{}, tc.rate, zerolog.Nop())
		require.Equal(t, tc.want, s.Interval(), "rate %d", tc.rate)
		require.Positive(t, s.Interval())
	}
}

func TestRunBroadcastsEveryTick(t *testing.T) {
	engine := &countingEngine{}
	out := &countingBroadcaster{}
	s := New(engine, out, 100, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// 500ms at a 10ms interval is nominally 50 fires. The loop never skips
	// or compensates, so the count stays within a tick or two of nominal;
	// the small slack below is for scheduler jitter, not for lost ticks.
	fired := int(s.Ticks())
	require.GreaterOrEqual(t, fired, 47)
	require.LessOrEqual(t, fired, 51)
	require.Equal(t, fired, out.count())

	engine.mu.Lock()
	updates := engine.updates
	engine.mu.Unlock()
	require.Equal(t, fired, updates)

	for _, event := range out.events {
		require.Equal(t, proto.EventState, event)
	}
}

func TestRunPublishesSequentialSnapshots(t *testing.T) {
	engine := &countingEngine{}
	out := &countingBroadcaster{}
	s := New(engine, out, 200, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	out.mu.Lock()
	defer out.mu.Unlock()
	require.NotEmpty(t, out.payloads)
	for i := 1; i < len(out.payloads); i++ {
		require.Equal(t, out.payloads[i-1].Tick+1, out.payloads[i].Tick,
			"snapshots must publish in tick order with no interleaving")
	}
}

func TestRunSkipsTicksWithoutEngine(t *testing.T) {
	out := &countingBroadcaster{}
	s := New(nil, out, 200, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Zero(t, out.count())
	require.Zero(t, s.Ticks())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(&countingEngine{}, &countingBroadcaster{}, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop on cancellation")
	}
}
