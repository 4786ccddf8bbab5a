package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/rugstream/internal/events"
)

// Envelope is the wire frame delivered to subscribers. Channel names the
// event's primary channel even when the frame arrives via an `all`
// subscription.
type Envelope struct {
	Channel   events.Channel  `json:"channel"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	GameID    string          `json:"game_id,omitempty"`
	Phase     events.Phase    `json:"phase,omitempty"`
}

// MarshalEvent serializes a sanitized event once, so fan-out to N
// subscribers reuses the same bytes.
func MarshalEvent(e events.SanitizedEvent) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", e.EventType, err)
	}
	return json.Marshal(Envelope{
		Channel:   e.Channel,
		EventType: e.EventType,
		Data:      data,
		Timestamp: e.Timestamp.UTC(),
		GameID:    e.GameID,
		Phase:     e.Phase,
	})
}

// UnmarshalEvent decodes a subscriber frame (used by the tail and probe
// tools).
func UnmarshalEvent(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// pingRequest is the application-level keepalive a subscriber may send. The
// ts field is echoed back untouched so clients can measure round trips with
// whatever clock format they like.
type pingRequest struct {
	Action string          `json:"action"`
	TS     json.RawMessage `json:"ts"`
}

type pongReply struct {
	Type string          `json:"type"`
	TS   json.RawMessage `json:"ts,omitempty"`
}
