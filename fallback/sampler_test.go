package fallback

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_terminal/market"
	"market_terminal/models"
)

type fakeKV struct {
	values map[string]string
	asked  []string
}

func (f *fakeKV) GetKey(_ context.Context, key string) (string, bool, error) {
	f.asked = append(f.asked, key)
	v, ok := f.values[key]
	return v, ok, nil
}

func basePrice(symbol string) float64 {
	if symbol == "btcusdt" {
		return 29500
	}
	return 500
}

func newTestSampler(kv *fakeKV, symbols []string) (*Sampler, *market.State) {
	state := market.New(symbols, 100, rand.New(rand.NewSource(7)))
	return New(kv, state, rand.New(rand.NewSource(7)), basePrice), state
}

func TestFirstKeyPatternWins(t *testing.T) {
	kv := &fakeKV{values: map[string]string{
		"btcusdt_price":      "42000",
		"last_btcusdt_price": "41000",
	}}
	s, _ := newTestSampler(kv, []string{"btcusdt"})

	ticks := s.TickIfStale(context.Background(), time.Unix(1700000000, 0))
	require.Len(t, ticks, 1)
	assert.Equal(t, 42000.0, ticks[0].Price)
	assert.Equal(t, int64(1700000000), ticks[0].Timestamp)
	assert.Equal(t, []string{"btcusdt_price"}, kv.asked)
}

func TestKeyPatternOrder(t *testing.T) {
	kv := &fakeKV{values: map[string]string{"btc_price": "39000"}}
	s, _ := newTestSampler(kv, []string{"btcusdt"})

	ticks := s.TickIfStale(context.Background(), time.Unix(1700000000, 0))
	require.Len(t, ticks, 1)
	assert.Equal(t, 39000.0, ticks[0].Price)
	assert.Equal(t, []string{
		"btcusdt_price",
		"last_btcusdt_price",
		"current_btcusdt_price",
		"btc_price",
	}, kv.asked)
}

func TestUnparseableValueSkipped(t *testing.T) {
	kv := &fakeKV{values: map[string]string{
		"btcusdt_price":      "not a number",
		"last_btcusdt_price": "41000",
	}}
	s, _ := newTestSampler(kv, []string{"btcusdt"})

	ticks := s.TickIfStale(context.Background(), time.Unix(1700000000, 0))
	require.Len(t, ticks, 1)
	assert.Equal(t, 41000.0, ticks[0].Price)
}

func TestSynthesisWithinRanges(t *testing.T) {
	kv := &fakeKV{}
	s, _ := newTestSampler(kv, []string{"btcusdt", "adausdt"})

	now := time.Unix(1700000000, 0)
	ticks := s.TickIfStale(context.Background(), now)
	require.Len(t, ticks, 2)

	for _, tick := range ticks {
		base := basePrice(tick.Symbol)
		assert.InDelta(t, base, tick.Price, base*0.01)
		assert.GreaterOrEqual(t, tick.Volume, 1000.0)
		assert.LessOrEqual(t, tick.Volume, 10000.0)
		assert.GreaterOrEqual(t, tick.ChangePct24h, -2.5)
		assert.LessOrEqual(t, tick.ChangePct24h, 2.5)
		assert.Equal(t, now.Unix(), tick.Timestamp)
	}
}

func TestNonEmptySnapshotsSkipped(t *testing.T) {
	kv := &fakeKV{values: map[string]string{"btcusdt_price": "42000"}}
	s, state := newTestSampler(kv, []string{"btcusdt", "ethusdt"})

	state.Apply(models.Tick{Symbol: "btcusdt", Price: 50000, Timestamp: 1700000000})

	ticks := s.TickIfStale(context.Background(), time.Unix(1700000010, 0))
	require.Len(t, ticks, 1)
	assert.Equal(t, "ethusdt", ticks[0].Symbol)
}

func TestFallbackRoutesLikeLiveTicks(t *testing.T) {
	kv := &fakeKV{values: map[string]string{"btcusdt_price": "42000"}}
	s, state := newTestSampler(kv, []string{"btcusdt"})

	for _, tick := range s.TickIfStale(context.Background(), time.Unix(1700000000, 0)) {
		state.Apply(tick)
	}

	snap, _ := state.Snapshot("btcusdt")
	require.Len(t, snap.PriceHistory, 1)
	assert.Equal(t, 42000.0, snap.PriceHistory[len(snap.PriceHistory)-1])
	assert.Equal(t, 42000.0, snap.Latest.Price)
}
