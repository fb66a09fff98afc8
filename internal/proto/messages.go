// Package proto defines the JSON wire protocol shared with the browser client.
// The schema generator in cmd/protoschema reflects these types into a
// machine-readable document for client and editor tooling.
package proto

// Event names carried in the Type field of server-to-client messages.
const (
	EventState     = "state"
	EventHeartbeat = "heartbeat"
)

// Player is one participant's broadcastable state.
type Player struct {
	ID string  `json:"id" jsonschema:"description=Server-assigned player identifier"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// StateMessage is the per-tick snapshot pushed to every connected client.
type StateMessage struct {
	Type       string   `json:"type" jsonschema:"description=Always the literal state"`
	Tick       uint64   `json:"tick" jsonschema:"description=Simulation tick the snapshot was produced for"`
	Players    []Player `json:"players"`
	ServerTime int64    `json:"serverTime" jsonschema:"description=Server wall clock in unix milliseconds"`
}

// JoinResponse answers a POST /join with the new player's identity and the
// current roster.
type JoinResponse struct {
	ID      string   `json:"id"`
	Players []Player `json:"players"`
}

// ClientMessage is the single inbound frame shape; Type selects which of the
// remaining fields are meaningful.
type ClientMessage struct {
	Type   string  `json:"type" jsonschema:"description=One of input or heartbeat"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	SentAt int64   `json:"sentAt,omitempty" jsonschema:"description=Client wall clock in unix milliseconds"`
}

// HeartbeatMessage acknowledges a client heartbeat with the measured RTT.
type HeartbeatMessage struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

// DiagnosticsPlayer is the per-player liveness row served by /diagnostics.
type DiagnosticsPlayer struct {
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
}
