package fallback

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"market_terminal/market"
	"market_terminal/middleware"
	"market_terminal/models"
	"market_terminal/utils"
)

// KV is the slice of the bus the sampler needs.
type KV interface {
	GetKey(ctx context.Context, key string) (value string, ok bool, err error)
}

// Sampler keeps the terminal live when the channel is silent: symbols
// that never received a tick get their last-known price from the
// key/value store, or a synthesized placeholder when the store has
// nothing either.
type Sampler struct {
	kv        KV
	state     *market.State
	rng       *rand.Rand
	basePrice func(symbol string) float64
}

func New(kv KV, state *market.State, rng *rand.Rand, basePrice func(string) float64) *Sampler {
	return &Sampler{kv: kv, state: state, rng: rng, basePrice: basePrice}
}

// TickIfStale produces one tick per symbol whose snapshot is still
// empty. The caller routes the result through the market state exactly
// like live ticks.
func (s *Sampler) TickIfStale(ctx context.Context, now time.Time) []models.Tick {
	var ticks []models.Tick
	for _, symbol := range s.state.Symbols() {
		snap, ok := s.state.Snapshot(symbol)
		if !ok || !snap.Empty() {
			continue
		}
		if price, found := s.lookupPrice(ctx, symbol); found {
			ticks = append(ticks, models.Tick{
				Symbol:    symbol,
				Price:     price,
				Timestamp: now.Unix(),
			})
			continue
		}
		ticks = append(ticks, s.synthesize(symbol, now))
	}
	return ticks
}

// lookupPrice tries the known key patterns in order; the first value
// that parses as a price wins.
func (s *Sampler) lookupPrice(ctx context.Context, symbol string) (float64, bool) {
	for _, key := range candidateKeys(symbol) {
		var value string
		var found bool
		err := middleware.WithCircuitBreaker("kv lookup", func() error {
			var gerr error
			value, found, gerr = s.kv.GetKey(ctx, key)
			return gerr
		})
		if err != nil {
			utils.Logger.Warnw("Fallback key lookup failed", "key", key, "error", err)
			continue
		}
		if !found {
			continue
		}
		price, perr := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if perr != nil || price < 0 {
			utils.Logger.Debugw("Fallback key not a price", "key", key, "value", value)
			continue
		}
		return price, true
	}
	return 0, false
}

func candidateKeys(symbol string) []string {
	keys := []string{
		symbol + "_price",
		"last_" + symbol + "_price",
		"current_" + symbol + "_price",
	}
	if base := strings.TrimSuffix(symbol, "usdt"); base != "" && base != symbol {
		keys = append(keys, base+"_price")
	}
	return keys
}

func (s *Sampler) synthesize(symbol string, now time.Time) models.Tick {
	base := s.basePrice(symbol)
	return models.Tick{
		Symbol:       symbol,
		Price:        base * (1 + s.uniform(-0.01, 0.01)),
		ChangePct24h: s.uniform(-2.5, 2.5),
		Volume:       s.uniform(1000, 10000),
		Timestamp:    now.Unix(),
	}
}

func (s *Sampler) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}
