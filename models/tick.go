package models

// Tick is one price/volume observation for a symbol.
// Timestamp is seconds since epoch.
type Tick struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	ChangePct24h float64 `json:"change_pct_24h"`
	Volume       float64 `json:"volume"`
	Timestamp    int64   `json:"timestamp"`
}
