package api

import (
	"fmt"

	"marginledger/internal/ledger"
	"marginledger/internal/pnl"
)

// openRequest is the wire shape of POST /api/v1/positions/open. Optional
// fields use pointers so "absent" and "zero" stay distinguishable.
type openRequest struct {
	Margin       float64  `json:"margin"`
	Asset        string   `json:"asset"`
	Type         string   `json:"type"`
	Leverage     *float64 `json:"leverage"`
	Slippage     *float64 `json:"slippage"`
	CurrentPrice float64  `json:"currentPrice"`
}

type closeRequest struct {
	PositionID   string  `json:"positionId"`
	CurrentPrice float64 `json:"currentPrice"`
}

type closeResponse struct {
	Message     string  `json:"message"`
	RealizedPnL float64 `json:"realizedPnL"`
}

type stateResponse struct {
	Balances  map[string]float64 `json:"balances"`
	Positions []ledger.Position  `json:"positions"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// validate normalizes an open request into ledger terms. Validation failures
// are client errors rejected before the ledger is touched.
func (r openRequest) validate() (ledger.OpenRequest, error) {
	if r.Margin <= 0 {
		return ledger.OpenRequest{}, fmt.Errorf("margin must be positive")
	}
	if r.Asset == "" {
		return ledger.OpenRequest{}, fmt.Errorf("asset is required")
	}
	side := pnl.Side(r.Type)
	if !side.Valid() {
		return ledger.OpenRequest{}, fmt.Errorf("type must be %q or %q", pnl.SideLong, pnl.SideShort)
	}
	if r.CurrentPrice <= 0 {
		return ledger.OpenRequest{}, fmt.Errorf("currentPrice must be positive")
	}

	leverage := 1.0
	if r.Leverage != nil {
		leverage = *r.Leverage
		if leverage < 1 {
			return ledger.OpenRequest{}, fmt.Errorf("leverage must be >= 1")
		}
	}
	slippage := 0.0
	if r.Slippage != nil {
		slippage = *r.Slippage
		if slippage < 0 {
			return ledger.OpenRequest{}, fmt.Errorf("slippage must be >= 0")
		}
	}

	return ledger.OpenRequest{
		Margin:       r.Margin,
		Asset:        r.Asset,
		Side:         side,
		Leverage:     leverage,
		Slippage:     slippage,
		CurrentPrice: r.CurrentPrice,
	}, nil
}

func (r closeRequest) validate() error {
	if r.PositionID == "" {
		return fmt.Errorf("positionId is required")
	}
	if r.CurrentPrice <= 0 {
		return fmt.Errorf("currentPrice must be positive")
	}
	return nil
}
