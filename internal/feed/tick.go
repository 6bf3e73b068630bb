package feed

import (
	"encoding/json"
	"fmt"
	"math"
)

// Tick is one price update from the market data stream.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Volume    float64 `json:"volume,omitempty"`
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
}

// tickJSON is the wire shape; Price is a pointer so a missing field is
// distinguishable from zero.
type tickJSON struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	Timestamp int64    `json:"timestamp"`
	Volume    float64  `json:"volume"`
	Bid       float64  `json:"bid"`
	Ask       float64  `json:"ask"`
}

// ParseTick decodes and validates a raw tick. A tick with a missing symbol,
// or with a price that is missing, non-finite, or negative, is malformed;
// the caller skips it and the feed loop moves on.
func ParseTick(data []byte) (Tick, error) {
	var j tickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return Tick{}, fmt.Errorf("parse tick: %w", err)
	}

	if j.Symbol == "" {
		return Tick{}, fmt.Errorf("parse tick: missing symbol")
	}
	if j.Price == nil {
		return Tick{}, fmt.Errorf("parse tick: missing price")
	}
	price := *j.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return Tick{}, fmt.Errorf("parse tick: invalid price %v", price)
	}

	return Tick{
		Symbol:    j.Symbol,
		Price:     price,
		Timestamp: j.Timestamp,
		Volume:    j.Volume,
		Bid:       j.Bid,
		Ask:       j.Ask,
	}, nil
}
