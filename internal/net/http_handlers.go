package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"drift-arena/server/internal/hub"
	"drift-arena/server/internal/proto"
)

// HTTPHandlerConfig wires the front door's collaborators. BridgeStatus is a
// probe rather than a dependency so the handler never reaches into the
// bridge's lifecycle.
type HTTPHandlerConfig struct {
	ClientDir    string
	TickRate     int
	TickInterval time.Duration
	Heartbeat    time.Duration
	BridgeStatus func() string
	Logger       zerolog.Logger
}

// NewHTTPHandler builds the mux: liveness, diagnostics, join, the websocket
// endpoint, and the static client bundle at the root.
func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		bridgeStatus := "disabled"
		if cfg.BridgeStatus != nil {
			bridgeStatus = cfg.BridgeStatus()
		}

		payload := struct {
			Status         string                    `json:"status"`
			ServerTime     int64                     `json:"serverTime"`
			TickRate       int                       `json:"tickRate"`
			IntervalMillis int64                     `json:"intervalMillis"`
			Heartbeat      int64                     `json:"heartbeatMillis"`
			Bridge         string                    `json:"bridge"`
			Players        []proto.DiagnosticsPlayer `json:"players"`
		}{
			Status:         "ok",
			ServerTime:     time.Now().UnixMilli(),
			TickRate:       cfg.TickRate,
			IntervalMillis: cfg.TickInterval.Milliseconds(),
			Heartbeat:      cfg.Heartbeat.Milliseconds(),
			Bridge:         bridgeStatus,
			Players:        h.Arena().Diagnostics(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		join := h.Join()
		data, err := json.Marshal(join)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		playerID := r.URL.Query().Get("id")
		if playerID == "" {
			nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("player", playerID).Msg("upgrade failed")
			return
		}

		sub, snapshot, ok := h.Subscribe(playerID, conn)
		if !ok {
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
			conn.WriteMessage(websocket.CloseMessage, message)
			conn.Close()
			return
		}

		initial := proto.StateMessage{
			Type:       proto.EventState,
			Tick:       snapshot.Tick,
			Players:    snapshot.Players,
			ServerTime: time.Now().UnixMilli(),
		}
		if err := sub.WriteJSON(initial); err != nil {
			logger.Warn().Err(err).Str("player", playerID).Msg("failed to send initial state")
			h.Disconnect(playerID)
			return
		}

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				h.Disconnect(playerID)
				return
			}

			var msg proto.ClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				logger.Warn().Err(err).Str("player", playerID).Msg("discarding malformed message")
				continue
			}

			h.Dispatch(playerID, sub, msg)
		}
	})

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}
