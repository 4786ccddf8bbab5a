package events

// Typed records built from loosely-typed upstream maps. The constructors
// never fail: missing, null, or mistyped fields coalesce to documented
// defaults (numbers → 0, multipliers → 1.0, strings → "", slices → empty).

// ProvablyFair carries the seed commitment for a game. ServerSeed is
// revealed only on the final rug-transition broadcast of a game.
type ProvablyFair struct {
	ServerSeedHash string `json:"server_seed_hash"`
	ServerSeed     string `json:"server_seed,omitempty"`
	Version        string `json:"version,omitempty"`
}

// NewProvablyFair builds from the raw provablyFair map; nil in, nil out.
func NewProvablyFair(m map[string]any) *ProvablyFair {
	if m == nil {
		return nil
	}
	return &ProvablyFair{
		ServerSeedHash: AsString(m["serverSeedHash"]),
		ServerSeed:     AsString(m["serverSeed"]),
		Version:        AsString(m["version"]),
	}
}

// GodCandleTier is one entry of the upstream's daily records (the 2x, 10x
// and 50x milestone candles). GameID is the stable key for newness: a tier
// counts as populated iff GameID is non-empty.
type GodCandleTier struct {
	Multiplier            float64 `json:"multiplier"`
	GameID                string  `json:"game_id"`
	Timestamp             string  `json:"timestamp,omitempty"`
	ServerSeed            string  `json:"server_seed,omitempty"`
	MassiveJumpMultiplier float64 `json:"massive_jump_multiplier,omitempty"`
	MassiveJumpGameID     string  `json:"massive_jump_game_id,omitempty"`
}

func (t *GodCandleTier) Populated() bool { return t != nil && t.GameID != "" }

// DailyRecords groups the god-candle tiers re-reported by the upstream for
// the rest of the UTC day after each occurrence.
type DailyRecords struct {
	Candle2x  *GodCandleTier `json:"candle_2x,omitempty"`
	Candle10x *GodCandleTier `json:"candle_10x,omitempty"`
	Candle50x *GodCandleTier `json:"candle_50x,omitempty"`
}

// NewDailyRecords builds from the flat camelCase dailyRecords map
// (godCandle2x, godCandle2xGameId, ... massiveJump50xGameId). Returns nil
// when the map is nil or holds no tier data at all.
func NewDailyRecords(m map[string]any) *DailyRecords {
	if m == nil {
		return nil
	}
	d := &DailyRecords{
		Candle2x:  newTier(m, "godCandle2x", "massiveJump2x"),
		Candle10x: newTier(m, "godCandle10x", "massiveJump10x"),
		Candle50x: newTier(m, "godCandle50x", "massiveJump50x"),
	}
	if d.Candle2x == nil && d.Candle10x == nil && d.Candle50x == nil {
		return nil
	}
	return d
}

func newTier(m map[string]any, candleKey, jumpKey string) *GodCandleTier {
	_, hasMult := m[candleKey]
	id := AsString(m[candleKey+"GameId"])
	if !hasMult && id == "" {
		return nil
	}
	return &GodCandleTier{
		Multiplier:            AsFloat(m[candleKey], 1.0),
		GameID:                id,
		Timestamp:             AsString(m[candleKey+"Timestamp"]),
		ServerSeed:            AsString(m[candleKey+"ServerSeed"]),
		MassiveJumpMultiplier: AsFloat(m[jumpKey], 0),
		MassiveJumpGameID:     AsString(m[jumpKey+"GameId"]),
	}
}

// PopulatedGameIDs returns the game ids of populated tiers in 2x/10x/50x order.
func (d *DailyRecords) PopulatedGameIDs() []string {
	if d == nil {
		return nil
	}
	var ids []string
	for _, t := range []*GodCandleTier{d.Candle2x, d.Candle10x, d.Candle50x} {
		if t.Populated() {
			ids = append(ids, t.GameID)
		}
	}
	return ids
}

// GameTick is the per-tick game snapshot published on the game channel.
// HasGodCandle is a change-detection flag set by the pipeline, never the
// raw presence of daily-record fields.
type GameTick struct {
	GameID            string         `json:"game_id"`
	Phase             Phase          `json:"phase"`
	Active            bool           `json:"active"`
	Price             float64        `json:"price"`
	Rugged            bool           `json:"rugged"`
	TickCount         int            `json:"tick_count"`
	TradeCount        int            `json:"trade_count,omitempty"`
	CooldownTimer     int            `json:"cooldown_timer"`
	CooldownPaused    bool           `json:"cooldown_paused"`
	AllowPreRoundBuys bool           `json:"allow_pre_round_buys"`
	PartialPrices     map[string]any `json:"partial_prices,omitempty"`
	ProvablyFair      *ProvablyFair  `json:"provably_fair,omitempty"`
	Rugpool           map[string]any `json:"rugpool,omitempty"`
	Leaderboard       []any          `json:"leaderboard"`
	GameVersion       string         `json:"game_version,omitempty"`
	DailyRecords      *DailyRecords  `json:"daily_records,omitempty"`
	HasGodCandle      bool           `json:"has_god_candle"`
}

// NewGameTick builds a tick from raw gameStateUpdate data. Price defaults to
// 1.0 (the multiplier baseline) when absent; leaderboard is never null.
func NewGameTick(m map[string]any, phase Phase) *GameTick {
	t := &GameTick{
		GameID:            AsString(m["gameId"]),
		Phase:             phase,
		Active:            AsBool(m["active"]),
		Price:             AsFloat(m["price"], 1.0),
		Rugged:            AsBool(m["rugged"]),
		TickCount:         AsInt(m["tickCount"], 0),
		TradeCount:        AsInt(m["tradeCount"], 0),
		CooldownTimer:     AsInt(m["cooldownTimer"], 0),
		CooldownPaused:    AsBool(m["cooldownPaused"]),
		AllowPreRoundBuys: AsBool(m["allowPreRoundBuys"]),
		PartialPrices:     AsMap(m["partialPrices"]),
		ProvablyFair:      NewProvablyFair(AsMap(m["provablyFair"])),
		Rugpool:           AsMap(m["rugpool"]),
		GameVersion:       AsString(m["gameVersion"]),
		DailyRecords:      NewDailyRecords(AsMap(m["dailyRecords"])),
	}
	if lb := AsSlice(m["leaderboard"]); lb != nil {
		t.Leaderboard = lb
	} else {
		t.Leaderboard = []any{}
	}
	return t
}

// SessionStats is the aggregate snapshot published on the stats channel.
// Everything but ConnectedPlayers changes only at game boundaries.
type SessionStats struct {
	ConnectedPlayers  int     `json:"connected_players"`
	AverageMultiplier float64 `json:"average_multiplier"`
	Count2x           int     `json:"count_2x"`
	Count10x          int     `json:"count_10x"`
	Count50x          int     `json:"count_50x"`
	Count100x         int     `json:"count_100x"`
}

func NewSessionStats(m map[string]any) *SessionStats {
	return &SessionStats{
		ConnectedPlayers:  AsInt(m["connectedPlayers"], 0),
		AverageMultiplier: AsFloat(m["averageMultiplier"], 0),
		Count2x:           AsInt(m["count2x"], 0),
		Count10x:          AsInt(m["count10x"], 0),
		Count50x:          AsInt(m["count50x"], 0),
		Count100x:         AsInt(m["count100x"], 0),
	}
}

// Trade is a single player trade published on the trades channel. The four
// Is*/TokenType fields are inferred by the annotator; everything else passes
// through from the wire. BonusPortion and RealPortion keep their null/zero
// distinction because the annotator's token classification depends on it.
type Trade struct {
	ID           string    `json:"id"`
	GameID       string    `json:"game_id"`
	PlayerID     string    `json:"player_id"`
	Username     string    `json:"username"`
	Level        int       `json:"level"`
	Price        float64   `json:"price"`
	Type         TradeType `json:"type"`
	TickIndex    int       `json:"tick_index"`
	Amount       float64   `json:"amount"`
	Qty          float64   `json:"qty"`
	Coin         string    `json:"coin,omitempty"`
	Leverage     float64   `json:"leverage,omitempty"`
	BonusPortion *float64  `json:"bonus_portion,omitempty"`
	RealPortion  *float64  `json:"real_portion,omitempty"`

	IsForcedSell  bool      `json:"is_forced_sell"`
	IsLiquidation bool      `json:"is_liquidation"`
	IsPractice    bool      `json:"is_practice"`
	TokenType     TokenType `json:"token_type"`
}

func NewTrade(m map[string]any) *Trade {
	return &Trade{
		ID:           AsString(m["id"]),
		GameID:       AsString(m["gameId"]),
		PlayerID:     AsString(m["playerId"]),
		Username:     AsString(m["username"]),
		Level:        AsInt(m["level"], 0),
		Price:        AsFloat(m["price"], 0),
		Type:         TradeType(AsString(m["type"])),
		TickIndex:    AsInt(m["tickIndex"], 0),
		Amount:       AsFloat(m["amount"], 0),
		Qty:          AsFloat(m["qty"], 0),
		Coin:         AsString(m["coin"]),
		Leverage:     AsFloat(m["leverage"], 0),
		BonusPortion: AsFloatPtr(m["bonusPortion"]),
		RealPortion:  AsFloatPtr(m["realPortion"]),
		TokenType:    TokenUnknown,
	}
}

// GameHistoryRecord is a completed-game record published on the history
// channel when a gameStateUpdate carries a gameHistory array. GlobalTrades
// is always empty on the public feed; null normalizes to an empty slice.
type GameHistoryRecord struct {
	GameID         string        `json:"game_id"`
	Prices         []float64     `json:"prices"`
	PeakMultiplier float64       `json:"peak_multiplier"`
	ProvablyFair   *ProvablyFair `json:"provably_fair,omitempty"`
	GlobalTrades   []any         `json:"global_trades"`
}

func NewGameHistoryRecord(m map[string]any) *GameHistoryRecord {
	r := &GameHistoryRecord{
		GameID:         AsString(m["gameId"]),
		PeakMultiplier: AsFloat(m["peakMultiplier"], 1.0),
		ProvablyFair:   NewProvablyFair(AsMap(m["provablyFair"])),
		Prices:         []float64{},
		GlobalTrades:   []any{},
	}
	if r.GameID == "" {
		r.GameID = AsString(m["id"])
	}
	for _, p := range AsSlice(m["prices"]) {
		r.Prices = append(r.Prices, AsFloat(p, 1.0))
	}
	if gt := AsSlice(m["globalTrades"]); gt != nil {
		r.GlobalTrades = gt
	}
	return r
}
