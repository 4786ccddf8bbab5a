package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charleschow/rugstream/internal/events"
)

func TestStoreInsertAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	recs := []*events.GameHistoryRecord{
		{GameID: "G1", Prices: []float64{1.0, 1.5, 0.02}, PeakMultiplier: 1.5, GlobalTrades: []any{}},
		{GameID: "G2", Prices: []float64{1.0, 4.2}, PeakMultiplier: 4.2, GlobalTrades: []any{}},
		{GameID: "G3", Prices: []float64{1.0}, PeakMultiplier: 1.0, GlobalTrades: []any{}},
	}
	for _, r := range recs {
		_, err := s.InsertRecord(r)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, s.RecordCount())

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "G3", recent[0].GameID) // newest first
	assert.Equal(t, "G2", recent[1].GameID)
	assert.Equal(t, 2, recent[1].TickCount)
	assert.InDelta(t, 4.2, recent[1].PeakMultiplier, 1e-9)
	assert.Contains(t, string(recent[1].Payload), `"game_id":"G2"`)
}

func TestStoreMarkCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.MarkCollection("G1", "interval"))
	require.NoError(t, s.MarkCollection("G5", "god_candle"))

	n, err := s.CollectionCount()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenStore(path)
	require.NoError(t, err)
	_, err = s.InsertRecord(&events.GameHistoryRecord{
		GameID: "G1", Prices: []float64{1.0, 2.0}, PeakMultiplier: 2.0, GlobalTrades: []any{},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.EqualValues(t, 1, reopened.RecordCount())
}
