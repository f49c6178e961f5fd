package market

import (
	"math"
	"math/rand"
	"sync"

	"market_terminal/models"
)

// FlowGlyphs is the fixed pool the per-symbol flow glyph rotates over.
var FlowGlyphs = []rune{'✦', '✧', '⟡', '∿', '❂', '☯', '⚡'}

const (
	energyFloor   = 0.1
	energyCeil    = 1.0
	initialEnergy = 0.5

	// Chance of rotating the flow glyph on each applied tick.
	glyphRotateChance = 0.10

	// Relative move that bumps the ascension counter.
	ascensionThreshold = 0.01
)

// State owns one snapshot per configured symbol. Apply is called by
// the listener goroutine, readers get copies, so a render frame never
// observes a half-applied tick.
type State struct {
	mu       sync.RWMutex
	order    []string
	snaps    map[string]*models.Snapshot
	capacity int
	rng      *rand.Rand
}

// New creates snapshots for every configured symbol up front. A symbol
// with no ticks yet keeps the zero sentinel (price 0, timestamp 0) and
// empty histories.
func New(symbols []string, capacity int, rng *rand.Rand) *State {
	s := &State{
		order:    append([]string(nil), symbols...),
		snaps:    make(map[string]*models.Snapshot, len(symbols)),
		capacity: capacity,
		rng:      rng,
	}
	for i, sym := range symbols {
		s.snaps[sym] = &models.Snapshot{
			Symbol:    sym,
			Energy:    initialEnergy,
			FlowGlyph: FlowGlyphs[i%len(FlowGlyphs)],
		}
	}
	return s
}

// Apply folds one tick into its symbol's snapshot. Ticks for symbols
// outside the configured set are ignored.
func (s *State) Apply(t models.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[t.Symbol]
	if !ok {
		return
	}

	prev := snap.Latest.Price
	relChange := 0.0
	if prev > 0 {
		relChange = (t.Price - prev) / prev
	}

	snap.Latest = t

	snap.PriceHistory = appendBounded(snap.PriceHistory, t.Price, s.capacity)
	snap.VolumeHistory = appendBounded(snap.VolumeHistory, t.Volume, s.capacity)

	// First tick for a symbol establishes the baseline only.
	if prev > 0 {
		snap.Energy = clampEnergy(0.5*snap.Energy + 10*math.Abs(relChange) + 0.5*(t.Volume/1e6))

		if relChange >= ascensionThreshold {
			snap.Ascension++
		} else if relChange <= -ascensionThreshold {
			if snap.Ascension > 0 {
				snap.Ascension--
			}
		}
	}

	if s.rng.Float64() < glyphRotateChance {
		snap.FlowGlyph = FlowGlyphs[s.rng.Intn(len(FlowGlyphs))]
	}
}

// Snapshot returns a deep copy of one symbol's state.
func (s *State) Snapshot(symbol string) (models.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[symbol]
	if !ok {
		return models.Snapshot{}, false
	}
	return snap.Clone(), true
}

// View returns copies of all snapshots in configured order.
func (s *State) View() []models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Snapshot, 0, len(s.order))
	for _, sym := range s.order {
		out = append(out, s.snaps[sym].Clone())
	}
	return out
}

// Symbols returns the configured set in stable display order.
func (s *State) Symbols() []string {
	return append([]string(nil), s.order...)
}

func appendBounded(h []float64, v float64, capacity int) []float64 {
	h = append(h, v)
	if len(h) > capacity {
		h = h[len(h)-capacity:]
	}
	return h
}

func clampEnergy(v float64) float64 {
	return math.Min(energyCeil, math.Max(energyFloor, v))
}
