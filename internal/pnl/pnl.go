// Package pnl holds the pure profit-and-loss math for leveraged positions.
// Nothing here touches shared state; every function is a straight computation
// over its arguments so the ledger and the sweeper can share one formula.
package pnl

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a recognized position side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Quantity derives the position size fixed at open time:
// (margin * leverage) / entryPrice. It is never recomputed afterwards.
func Quantity(margin, leverage, entryPrice float64) float64 {
	return margin * leverage / entryPrice
}

// Unrealized returns the signed mark-to-market PnL of a position.
// Long positions profit when price rises, shorts when it falls.
func Unrealized(side Side, quantity, entryPrice, currentPrice float64) float64 {
	switch side {
	case SideLong:
		return (currentPrice - entryPrice) * quantity
	case SideShort:
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// LiquidationPrice is the settlement price at which closing the position
// realizes exactly the loss that triggered liquidation. No slippage is
// applied at liquidation. The sign of the price offset depends on the side:
// Unrealized(side, q, entry, LiquidationPrice(...)) == unrealizedPnL holds
// for both directions.
func LiquidationPrice(side Side, entryPrice, unrealizedPnL, quantity float64) float64 {
	if side == SideShort {
		return entryPrice - unrealizedPnL/quantity
	}
	return entryPrice + unrealizedPnL/quantity
}
