// Package bridge extends the hub's local publish/subscribe across server
// instances through a shared Redis broker. Without a broker URL it degrades
// to a pass-through over local delivery, and any failure while connecting
// leaves it permanently bypassed for the life of the process. Bridge errors
// never escalate past this package.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	channelName     = "drift-arena:broadcast"
	connectTimeout  = 5 * time.Second
	outboundBuffer  = 256
	publishDeadline = 2 * time.Second
)

// Status is the bridge connection state. Once Failed it never changes again.
type Status int32

const (
	StatusDisabled Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Local is the hub-side delivery the bridge wraps.
type Local interface {
	BroadcastFrame(data []byte)
}

// envelope is the broker wire format. Origin carries the publishing
// instance's ID so each instance can drop its own frames when they come back
// around, keeping same-instance delivery at most once.
type envelope struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Bridge mirrors every broadcast to the broker and injects frames relayed
// from other instances into local delivery. The publish and subscribe handles
// are separate connections: a subscribing Redis connection must not be reused
// for other commands.
type Bridge struct {
	local      Local
	logger     zerolog.Logger
	instanceID string
	channel    string

	pub       *redis.Client
	subClient *redis.Client
	sub       *redis.PubSub

	status    atomic.Int32
	outbound  chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs the bridge. It never returns an error: an empty brokerURL is
// the supported single-instance mode, and any connection problem downgrades
// to that mode after logging. The broker handshake runs in the background so
// neither the tick loop nor the front door ever waits on it; broadcasts stay
// local until the bridge reports Connected.
func New(ctx context.Context, brokerURL string, local Local, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		local:      local,
		logger:     logger,
		instanceID: newInstanceID(),
		channel:    channelName,
		outbound:   make(chan []byte, outboundBuffer),
		done:       make(chan struct{}),
	}

	if brokerURL == "" {
		b.status.Store(int32(StatusDisabled))
		logger.Info().Msg("BROKER_URL not set; multi-instance sync disabled")
		return b
	}

	b.status.Store(int32(StatusConnecting))

	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		b.fail("parse broker url", err)
		return b
	}

	go b.connect(ctx, opts)
	return b
}

func (b *Bridge) connect(ctx context.Context, opts *redis.Options) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pub := redis.NewClient(opts)
	if err := pub.Ping(connectCtx).Err(); err != nil {
		pub.Close()
		b.fail("connect publisher", err)
		return
	}

	subClient := redis.NewClient(opts)
	sub := subClient.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(connectCtx); err != nil {
		sub.Close()
		subClient.Close()
		pub.Close()
		b.fail("subscribe", err)
		return
	}

	// The process may already be draining by the time the handshake lands.
	if b.closed.Load() {
		sub.Close()
		subClient.Close()
		pub.Close()
		return
	}

	b.pub = pub
	b.subClient = subClient
	b.sub = sub
	b.status.Store(int32(StatusConnected))
	b.logger.Info().
		Str("channel", b.channel).
		Str("instance", b.instanceID).
		Msg("multi-instance sync connected")

	b.wg.Add(2)
	go b.relayInbound()
	go b.relayOutbound()
}

// Status returns the current connection state.
func (b *Bridge) Status() Status {
	return Status(b.status.Load())
}

// InstanceID returns this process's origin tag.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Broadcast delivers payload to local subscribers and, when connected,
// mirrors it to the broker. The broker leg is fire-and-forget: it is handed
// to the publisher goroutine and dropped with a warning if that queue is
// full, so a tick never blocks on broker I/O.
func (b *Bridge) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}

	b.local.BroadcastFrame(data)

	if b.Status() != StatusConnected {
		return
	}

	env, err := json.Marshal(envelope{Origin: b.instanceID, Event: event, Data: data})
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("failed to marshal bridge envelope")
		return
	}

	select {
	case b.outbound <- env:
	default:
		b.logger.Warn().Str("event", event).Msg("bridge publish queue full; dropping frame")
	}
}

// Close tears both broker connections down. Every close error is logged and
// swallowed; shutdown must complete (or hit ctx's deadline) but never block
// process exit beyond that. Repeated calls are no-ops.
func (b *Bridge) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		if b.Status() != StatusConnected {
			return
		}

		close(b.done)

		if err := b.sub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close bridge subscriber")
		}
		if err := b.subClient.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close bridge subscribe connection")
		}
		if err := b.pub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close bridge publish connection")
		}

		finished := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-ctx.Done():
			b.logger.Warn().Msg("bridge teardown timed out")
		}
	})
}

func (b *Bridge) relayInbound() {
	defer b.wg.Done()
	for msg := range b.sub.Channel() {
		b.deliver([]byte(msg.Payload))
	}
}

func (b *Bridge) relayOutbound() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case data := <-b.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), publishDeadline)
			err := b.pub.Publish(ctx, b.channel, data).Err()
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Msg("bridge publish failed")
			}
		}
	}
}

// deliver injects one broker frame into local delivery, dropping frames this
// instance published itself.
func (b *Bridge) deliver(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn().Err(err).Msg("discarding malformed bridge frame")
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	b.local.BroadcastFrame(env.Data)
}

func (b *Bridge) fail(stage string, err error) {
	b.status.Store(int32(StatusFailed))
	b.logger.Error().Err(err).Str("stage", stage).Msg("scale-out bridge unavailable")
	b.logger.Warn().Msg("continuing in single-instance mode; broadcasts stay local")
}

func newInstanceID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "instance-unknown"
	}
	return hex.EncodeToString(buf)
}
