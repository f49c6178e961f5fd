package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"market_terminal/models"
)

var (
	ErrMalformed     = errors.New("malformed tick payload")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// wireTick mirrors the channel payload. Numeric fields arrive either
// as JSON numbers or as numeric strings depending on the publisher.
type wireTick struct {
	Symbol       string `json:"symbol"`
	Price        any    `json:"price"`
	Change       any    `json:"change"`
	ChangePct24h any    `json:"change_pct_24h"`
	Volume       any    `json:"volume"`
	Timestamp    any    `json:"timestamp"`
}

// Decoder turns raw channel payloads into typed ticks, dropping
// anything outside the configured symbol set.
type Decoder struct {
	symbols map[string]struct{}
}

func NewDecoder(symbols []string) *Decoder {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToLower(s)] = struct{}{}
	}
	return &Decoder{symbols: set}
}

// Decode parses one payload. It never panics; every reject path
// returns a descriptive error for debug logging.
func (d *Decoder) Decode(raw []byte) (*models.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	symbol := strings.ToLower(strings.TrimSpace(w.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrMalformed)
	}
	if _, ok := d.symbols[symbol]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}

	if w.Price == nil {
		return nil, fmt.Errorf("%w: missing price", ErrMalformed)
	}
	price, err := toFloat(w.Price)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrMalformed, err)
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: negative price %v", ErrMalformed, price)
	}

	tick := &models.Tick{Symbol: symbol, Price: price}

	// "change" and "change_pct_24h" are aliases on the wire.
	changeField := w.Change
	if changeField == nil {
		changeField = w.ChangePct24h
	}
	if changeField != nil {
		change, err := toFloat(changeField)
		if err != nil {
			return nil, fmt.Errorf("%w: change: %v", ErrMalformed, err)
		}
		tick.ChangePct24h = change
	}

	if w.Volume != nil {
		volume, err := toFloat(w.Volume)
		if err != nil {
			return nil, fmt.Errorf("%w: volume: %v", ErrMalformed, err)
		}
		if volume < 0 {
			return nil, fmt.Errorf("%w: negative volume %v", ErrMalformed, volume)
		}
		tick.Volume = volume
	}

	if w.Timestamp != nil {
		ts, err := toFloat(w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		tick.Timestamp = int64(ts)
	}

	return tick, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	// ParseFloat accepts "NaN" and "Inf"; neither belongs in a tick.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %v", f)
	}
	return f, nil
}
