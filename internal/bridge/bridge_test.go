package bridge

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingLocal struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingLocal) BroadcastFrame(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
}

func (r *recordingLocal) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestDisabledWithoutBrokerURL(t *testing.T) {
	local := &recordingLocal{}
	b := New(context.Background(), "", local, zerolog.Nop())

	require.Equal(t, StatusDisabled, b.Status())

	b.Broadcast("state", map[string]int{"tick": 1})
	require.Equal(t, 1, local.count())

	// No broker handles exist; the publish queue must stay untouched.
	require.Empty(t, b.outbound)
}

func TestFailedOnMalformedURL(t *testing.T) {
	local := &recordingLocal{}
	b := New(context.Background(), "::not-a-url::", local, zerolog.Nop())

	require.Equal(t, StatusFailed, b.Status())

	// Failure downgrades to local-only delivery, identical to the no-broker
	// case from the caller's point of view.
	b.Broadcast("state", map[string]int{"tick": 2})
	require.Equal(t, 1, local.count())

	// Close on a never-connected bridge is a no-op, not a panic.
	b.Close(context.Background())
}

func TestFailedOnUnreachableBroker(t *testing.T) {
	local := &recordingLocal{}
	b := New(context.Background(), "redis://127.0.0.1:1", local, zerolog.Nop())

	// The handshake happens in the background; a refused connection must
	// settle into Failed without another attempt.
	require.Eventually(t, func() bool {
		return b.Status() == StatusFailed
	}, connectTimeout+time.Second, 10*time.Millisecond)

	b.Broadcast("state", map[string]int{"tick": 3})
	require.Equal(t, 1, local.count())
}

// hungBroker accepts TCP connections but never answers, the worst case for
// startup: the handshake can only end by timing out.
func hungBroker(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { conn.Close() })
		}
	}()

	return l.Addr().String()
}

func TestNewDoesNotBlockOnUnresponsiveBroker(t *testing.T) {
	local := &recordingLocal{}

	start := time.Now()
	b := New(context.Background(), "redis://"+hungBroker(t), local, zerolog.Nop())
	elapsed := time.Since(start)

	// Construction must return immediately with the handshake still in
	// flight; the tick loop and front door start without waiting on it.
	require.Less(t, elapsed, time.Second)
	require.Equal(t, StatusConnecting, b.Status())

	// Local delivery is already live while the bridge is connecting.
	b.Broadcast("state", map[string]int{"tick": 4})
	require.Equal(t, 1, local.count())
	require.Empty(t, b.outbound)

	b.Close(context.Background())
}

func TestCloseIsIdempotent(t *testing.T) {
	local := &recordingLocal{}

	disabled := New(context.Background(), "", local, zerolog.Nop())
	disabled.Close(context.Background())
	disabled.Close(context.Background())

	failed := New(context.Background(), "::not-a-url::", local, zerolog.Nop())
	failed.Close(context.Background())
	failed.Close(context.Background())

	// A connected bridge must also survive a second Close: the teardown of
	// the done channel and broker handles runs exactly once.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	connected := &Bridge{
		local:      local,
		logger:     zerolog.Nop(),
		instanceID: newInstanceID(),
		channel:    channelName,
		outbound:   make(chan []byte, outboundBuffer),
		done:       make(chan struct{}),
		pub:        client,
		subClient:  client,
		sub:        client.Subscribe(context.Background(), channelName),
	}
	connected.status.Store(int32(StatusConnected))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	connected.Close(ctx)
	connected.Close(ctx)
}

func TestDeliverSuppressesOwnEcho(t *testing.T) {
	local := &recordingLocal{}
	b := New(context.Background(), "", local, zerolog.Nop())

	own, err := json.Marshal(envelope{Origin: b.InstanceID(), Event: "state", Data: []byte(`{"tick":1}`)})
	require.NoError(t, err)
	b.deliver(own)
	require.Zero(t, local.count(), "own frames must not be rebroadcast locally")

	foreign, err := json.Marshal(envelope{Origin: "other-instance", Event: "state", Data: []byte(`{"tick":2}`)})
	require.NoError(t, err)
	b.deliver(foreign)
	require.Equal(t, 1, local.count())
	require.JSONEq(t, `{"tick":2}`, string(local.frames[0]))
}

func TestDeliverDropsMalformedFrames(t *testing.T) {
	local := &recordingLocal{}
	b := New(context.Background(), "", local, zerolog.Nop())

	b.deliver([]byte("not json"))
	require.Zero(t, local.count())
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "disabled", StatusDisabled.String())
	require.Equal(t, "connecting", StatusConnecting.String())
	require.Equal(t, "connected", StatusConnected.String())
	require.Equal(t, "failed", StatusFailed.String())
}
