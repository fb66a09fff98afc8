package sim

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"drift-arena/server/internal/proto"
)

// Engine is what the tick scheduler drives. Update and Snapshot never fail by
// contract; an engine that can fail internally must recover internally.
type Engine interface {
	Update(dt float64)
	Snapshot() Snapshot
}

// Snapshot is an immutable view of the session at one tick. It is produced for
// broadcast and never retained afterwards.
type Snapshot struct {
	Tick    uint64
	Players []proto.Player
}

// Config tunes the arena's world geometry and liveness rules.
type Config struct {
	WorldWidth      float64
	WorldHeight     float64
	MoveSpeed       float64
	PlayerHalf      float64
	DisconnectAfter time.Duration
}

// DefaultConfig matches the browser client's 800x600 canvas.
func DefaultConfig() Config {
	return Config{
		WorldWidth:      800,
		WorldHeight:     600,
		MoveSpeed:       160,
		PlayerHalf:      14,
		DisconnectAfter: 6 * time.Second,
	}
}

type playerState struct {
	proto.Player
	intentX       float64
	intentY       float64
	lastInput     time.Time
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Arena owns the session state. It is mutated from exactly one place per
// concern: Update runs only on the tick goroutine, and client-facing calls
// (SetIntent, Heartbeat, Join, Leave) only stage state under the mutex.
type Arena struct {
	mu       sync.Mutex
	cfg      Config
	players  map[string]*playerState
	tick     uint64
	nextID   atomic.Uint64
	onRemove func(id string)
	logger   zerolog.Logger
}

func NewArena(cfg Config, logger zerolog.Logger) *Arena {
	return &Arena{
		cfg:     cfg,
		players: make(map[string]*playerState),
		logger:  logger,
	}
}

// SetRemoveHook registers a callback invoked (outside the arena lock) for each
// player pruned by Update. The hub uses it to drop the matching subscriber.
func (a *Arena) SetRemoveHook(hook func(id string)) {
	a.mu.Lock()
	a.onRemove = hook
	a.mu.Unlock()
}

// Join allocates a player and returns its identity plus the current roster.
func (a *Arena) Join() proto.JoinResponse {
	id := fmt.Sprintf("player-%d", a.nextID.Add(1))
	now := time.Now()
	state := &playerState{
		Player:        proto.Player{ID: id, X: 80, Y: 80},
		lastHeartbeat: now,
	}

	a.mu.Lock()
	a.players[id] = state
	players := a.rosterLocked()
	a.mu.Unlock()

	return proto.JoinResponse{ID: id, Players: players}
}

// Leave removes a player. Reports whether the player existed.
func (a *Arena) Leave(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.players[id]; !ok {
		return false
	}
	delete(a.players, id)
	return true
}

// Touch refreshes a player's heartbeat, typically on (re)subscribe.
func (a *Arena) Touch(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.players[id]
	if !ok {
		return false
	}
	state.lastHeartbeat = time.Now()
	return true
}

// SetIntent stages a movement intent. Vectors longer than unit length are
// normalized so clients cannot move faster diagonally.
func (a *Arena) SetIntent(id string, dx, dy float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.players[id]
	if !ok {
		return false
	}

	length := math.Hypot(dx, dy)
	if length > 1 {
		dx /= length
		dy /= length
	}

	state.intentX = dx
	state.intentY = dy
	state.lastInput = time.Now()
	return true
}

// Heartbeat records client liveness and returns the last measured RTT.
func (a *Arena) Heartbeat(id string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.players[id]
	if !ok {
		return 0, false
	}

	state.lastHeartbeat = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			state.lastRTT = rtt
		}
	}

	return state.lastRTT, true
}

// Update advances the session one tick: prunes players whose heartbeat went
// stale, then integrates movement intents clamped to the world bounds.
func (a *Arena) Update(dt float64) {
	now := time.Now()

	a.mu.Lock()
	var removed []string
	for id, state := range a.players {
		if now.Sub(state.lastHeartbeat) > a.cfg.DisconnectAfter {
			delete(a.players, id)
			removed = append(removed, id)
			continue
		}

		if state.intentX != 0 || state.intentY != 0 {
			dx, dy := state.intentX, state.intentY
			length := math.Hypot(dx, dy)
			if length != 0 {
				dx /= length
				dy /= length
			}

			state.X += dx * a.cfg.MoveSpeed * dt
			state.Y += dy * a.cfg.MoveSpeed * dt

			state.X = math.Max(a.cfg.PlayerHalf, math.Min(a.cfg.WorldWidth-a.cfg.PlayerHalf, state.X))
			state.Y = math.Max(a.cfg.PlayerHalf, math.Min(a.cfg.WorldHeight-a.cfg.PlayerHalf, state.Y))
		}
	}
	a.tick++
	hook := a.onRemove
	a.mu.Unlock()

	for _, id := range removed {
		a.logger.Info().Str("player", id).Msg("disconnecting due to heartbeat timeout")
		if hook != nil {
			hook(id)
		}
	}
}

// Snapshot returns the state view for the current tick.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Tick: a.tick, Players: a.rosterLocked()}
}

// Diagnostics reports per-player liveness for the diagnostics endpoint.
func (a *Arena) Diagnostics() []proto.DiagnosticsPlayer {
	a.mu.Lock()
	defer a.mu.Unlock()

	players := make([]proto.DiagnosticsPlayer, 0, len(a.players))
	for _, state := range a.players {
		players = append(players, proto.DiagnosticsPlayer{
			ID:            state.ID,
			LastHeartbeat: state.lastHeartbeat.UnixMilli(),
			RTTMillis:     state.lastRTT.Milliseconds(),
		})
	}
	return players
}

func (a *Arena) rosterLocked() []proto.Player {
	players := make([]proto.Player, 0, len(a.players))
	for _, state := range a.players {
		players = append(players, state.Player)
	}
	return players
}

var _ Engine = (*Arena)(nil)
