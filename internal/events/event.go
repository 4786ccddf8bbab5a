package events

import "time"

// Channel is a named logical output stream. Every sanitized event is
// broadcast on exactly one primary channel and mirrored on ChannelAll.
type Channel string

const (
	ChannelGame    Channel = "game"
	ChannelStats   Channel = "stats"
	ChannelTrades  Channel = "trades"
	ChannelHistory Channel = "history"
	ChannelAll     Channel = "all"
)

// Channels lists every valid channel, primaries first.
func Channels() []Channel {
	return []Channel{ChannelGame, ChannelStats, ChannelTrades, ChannelHistory, ChannelAll}
}

func ValidChannel(c Channel) bool {
	switch c {
	case ChannelGame, ChannelStats, ChannelTrades, ChannelHistory, ChannelAll:
		return true
	}
	return false
}

// Phase is the game lifecycle state classified from raw tick fields.
type Phase string

const (
	PhaseActive   Phase = "ACTIVE"
	PhaseRugged   Phase = "RUGGED"
	PhasePresale  Phase = "PRESALE"
	PhaseCooldown Phase = "COOLDOWN"
	PhaseUnknown  Phase = "UNKNOWN"
)

// TradeType is the upstream trade direction.
type TradeType string

const (
	TradeBuy        TradeType = "buy"
	TradeSell       TradeType = "sell"
	TradeShortOpen  TradeType = "short_open"
	TradeShortClose TradeType = "short_close"
)

// TokenType classifies what a trade was settled in.
type TokenType string

const (
	TokenPractice TokenType = "practice"
	TokenReal     TokenType = "real"
	TokenUnknown  TokenType = "unknown"
)

// Upstream event type strings. Everything else is counted and ignored.
const (
	TypeGameStateUpdate = "gameStateUpdate"
	TypeNewTrade        = "standard/newTrade"

	// TypeGameHistory is synthesized for records split out of a
	// gameStateUpdate's gameHistory array.
	TypeGameHistory = "gameHistory"
)

// SanitizedEvent is the output envelope delivered to subscribers.
// Timestamp is UTC and non-decreasing within a session.
type SanitizedEvent struct {
	Channel   Channel   `json:"channel"`
	EventType string    `json:"event_type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	GameID    string    `json:"game_id"`
	Phase     Phase     `json:"phase"`
}
