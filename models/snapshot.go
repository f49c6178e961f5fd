package models

// Snapshot holds the current state of one symbol plus its bounded
// rolling windows. PriceHistory and VolumeHistory always have equal
// length, capped at the configured history capacity.
type Snapshot struct {
	Symbol        string
	Latest        Tick
	PriceHistory  []float64
	VolumeHistory []float64
	Energy        float64
	FlowGlyph     rune
	Ascension     int
}

// Empty reports whether the symbol has received no ticks yet.
func (s *Snapshot) Empty() bool {
	return len(s.PriceHistory) == 0
}

// Clone returns a deep copy safe to hand to readers.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.PriceHistory = append([]float64(nil), s.PriceHistory...)
	out.VolumeHistory = append([]float64(nil), s.VolumeHistory...)
	return out
}
