package ledger

import (
	"time"

	"marginledger/internal/pnl"
)

// Position is a leveraged position held against posted margin.
// Quantity is fixed at open time and never recomputed; UnrealizedPnL is
// derived state written only through ApplyPnL.
type Position struct {
	ID            string    `json:"positionId"`
	Asset         string    `json:"asset"`
	Side          pnl.Side  `json:"type"`
	Margin        float64   `json:"margin"`
	Leverage      float64   `json:"leverage"`
	Slippage      float64   `json:"slippage"`
	EntryPrice    float64   `json:"entryPrice"`
	Quantity      float64   `json:"quantity"`
	UnrealizedPnL float64   `json:"unrealizedPnL"`
	OpenedAt      time.Time `json:"timestamp"`
}

// OpenRequest carries the validated parameters for opening a position.
type OpenRequest struct {
	Margin       float64
	Asset        string
	Side         pnl.Side
	Leverage     float64
	Slippage     float64
	CurrentPrice float64
}
