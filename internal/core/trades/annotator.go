package trades

import (
	"sync"

	"github.com/charleschow/rugstream/internal/events"
)

// defaultPracticeToken is the id the upstream uses for free-play rounds.
const defaultPracticeToken = "FREE"

// Annotator derives the inferred trade fields. The only state is the set of
// known practice-token ids, merged from the feed's availableShitcoins lists.
type Annotator struct {
	mu       sync.RWMutex
	practice map[string]struct{}
}

func NewAnnotator() *Annotator {
	return &Annotator{
		practice: map[string]struct{}{defaultPracticeToken: {}},
	}
}

// UpdatePracticeTokens merges ids into the practice set. Existing entries
// are never removed within a session.
func (a *Annotator) UpdatePracticeTokens(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tok := range tokens {
		if tok != "" {
			a.practice[tok] = struct{}{}
		}
	}
}

func (a *Annotator) IsPracticeToken(addr string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.practice[addr]
	return ok
}

// PracticeTokenCount reports the size of the set for stats snapshots.
func (a *Annotator) PracticeTokenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.practice)
}

// Annotate sets the four inferred fields on t and touches nothing else.
// phase is the pipeline's current lifecycle phase at receipt time.
func (a *Annotator) Annotate(t *events.Trade, phase events.Phase) {
	t.TokenType = classifyToken(t.BonusPortion, t.RealPortion)
	t.IsPractice = t.TokenType == events.TokenPractice
	t.IsForcedSell = t.Type == events.TradeSell && phase == events.PhaseRugged
	// IsLiquidation needs per-player average-cost context the feed does not
	// carry; it stays false until something supplies it.
	t.IsLiquidation = false
}

// classifyToken maps the bonus/real portion pair to a token type. A missing
// portion (nil) is not the same as a zero one: both missing means the feed
// sent no settlement info at all.
func classifyToken(bonus, real *float64) events.TokenType {
	if bonus == nil && real == nil {
		return events.TokenUnknown
	}
	b, r := deref(bonus), deref(real)
	switch {
	case r > 0:
		// any real portion settles as real, including stacked positions
		return events.TokenReal
	case b > 0:
		return events.TokenPractice
	default:
		return events.TokenUnknown
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
