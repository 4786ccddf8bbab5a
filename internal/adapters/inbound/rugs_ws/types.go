package rugs_ws

import "encoding/json"

// Connection states reported by Client.State().
const (
	StateDisconnected = "DISCONNECTED"
	StateConnecting   = "CONNECTING"
	StateConnected    = "CONNECTED"
	StateReconnecting = "RECONNECTING"
)

// RawEnvelope is the frame shape the upstream relay emits: a type marker,
// the original socket.io event name, and the untouched payload. The client
// hands the decoded map to its callback without interpreting Data; this
// struct exists for the mock feed and the store tooling.
type RawEnvelope struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
	GameID    string          `json:"game_id,omitempty"`
}
