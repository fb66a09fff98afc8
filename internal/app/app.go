// Package app owns process startup and shutdown ordering. The bridge is
// constructed before the loop starts but the loop is never gated on it: a
// missing or broken broker downgrades to single-instance mode and the
// simulation ticks regardless.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"drift-arena/server/internal/bridge"
	"drift-arena/server/internal/config"
	"drift-arena/server/internal/hub"
	servernet "drift-arena/server/internal/net"
	"drift-arena/server/internal/proto"
	"drift-arena/server/internal/sim"
	"drift-arena/server/internal/tick"
)

// Run drives the full lifecycle and returns once the process has drained.
// A nil return means graceful termination (exit status 0); only configuration
// and listener errors are fatal.
func Run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	lc := NewLifecycle(logger)
	if err := lc.TransitionTo(StateStarting); err != nil {
		return err
	}

	arena := sim.NewArena(arenaConfig(cfg), logger)
	room := hub.New(arena, logger)
	registerClientEvents(room, arena)

	// Bridge failure downgrades, never aborts; see the bridge package.
	br := bridge.New(ctx, cfg.BrokerURL, room, logger)

	scheduler := tick.New(arena, br, cfg.TargetTickRate, logger)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go scheduler.Run(loopCtx)
	logger.Info().
		Int("rate", cfg.TargetTickRate).
		Dur("interval", scheduler.Interval()).
		Msg("tick loop started")

	clientDir := servernet.ResolveClientDir(cfg.ClientDir)
	handler := servernet.NewHTTPHandler(room, servernet.HTTPHandlerConfig{
		ClientDir:    clientDir,
		TickRate:     cfg.TargetTickRate,
		TickInterval: scheduler.Interval(),
		Heartbeat:    cfg.Heartbeat,
		BridgeStatus: func() string { return br.Status().String() },
		Logger:       logger,
	})

	srv := &http.Server{Addr: cfg.Addr(), Handler: handler}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info().Str("addr", srv.Addr).Msg("server listening")

	if err := lc.TransitionTo(StateRunning); err != nil {
		return err
	}

	var fatal error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal = fmt.Errorf("server failed: %w", err)
		}
	}

	if err := lc.TransitionTo(StateDraining); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()

	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	br.Close(drainCtx)
	stopLoop()

	if err := lc.TransitionTo(StateTerminated); err != nil {
		return err
	}
	return fatal
}

func arenaConfig(cfg config.Config) sim.Config {
	arena := sim.DefaultConfig()
	arena.DisconnectAfter = 3 * cfg.Heartbeat
	return arena
}

// registerClientEvents binds inbound intents to the arena. Handlers only
// stage state; the tick goroutine is the sole mutator of the simulation.
func registerClientEvents(room *hub.Hub, arena *sim.Arena) {
	room.OnClientEvent("input", func(playerID string, _ *hub.Subscriber, msg proto.ClientMessage) {
		arena.SetIntent(playerID, msg.DX, msg.DY)
	})

	room.OnClientEvent("heartbeat", func(playerID string, sub *hub.Subscriber, msg proto.ClientMessage) {
		now := time.Now()
		rtt, ok := arena.Heartbeat(playerID, now, msg.SentAt)
		if !ok || sub == nil {
			return
		}
		ack := proto.HeartbeatMessage{
			Type:       proto.EventHeartbeat,
			ServerTime: now.UnixMilli(),
			ClientTime: msg.SentAt,
			RTTMillis:  rtt.Milliseconds(),
		}
		if err := sub.WriteJSON(ack); err != nil {
			room.Disconnect(playerID)
		}
	})
}
