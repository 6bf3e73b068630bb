// Package sweep revalues open positions after each price update and forces
// closure of any position whose loss has consumed its posted margin.
package sweep

import (
	"errors"

	"github.com/rs/zerolog"

	"marginledger/internal/ledger"
	"marginledger/internal/observability"
	"marginledger/internal/pnl"
)

// Result summarizes one sweep of an asset at a price.
type Result struct {
	Asset        string
	Price        float64
	Revalued     int
	Liquidations []ledger.Position
}

// Sweeper drives revaluation and liquidation through the ledger's mutation
// surface. It never holds references into ledger state: it works on
// snapshots and re-reads before every liquidation decision.
type Sweeper struct {
	ledger  *ledger.Ledger
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(l *ledger.Ledger, log zerolog.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{ledger: l, log: log, metrics: metrics}
}

// Sweep recomputes unrealized PnL for every open position of the asset and
// liquidates positions at or past the full-margin loss threshold.
//
// The snapshot-then-re-read dance matters: a position closed by a user
// request between the snapshot and the PnL write must not be liquidated
// again. ApplyPnL returns the re-read state (and whether the position still
// exists), and Close on an id that vanished in the remaining window returns
// ErrPositionNotFound, which is swallowed as a benign race.
func (s *Sweeper) Sweep(asset string, price float64) Result {
	res := Result{Asset: asset, Price: price}

	for _, snap := range s.ledger.OpenPositions(asset) {
		upnl := pnl.Unrealized(snap.Side, snap.Quantity, snap.EntryPrice, price)

		current, open := s.ledger.ApplyPnL(snap.ID, upnl)
		if !open {
			continue // closed concurrently; nothing to revalue
		}
		res.Revalued++

		// Threshold is inclusive: exactly -margin means zero remaining
		// equity and the position must not be allowed to go negative.
		if current.UnrealizedPnL > -current.Margin {
			continue
		}

		liqPrice := pnl.LiquidationPrice(current.Side, current.EntryPrice, current.UnrealizedPnL, current.Quantity)
		realized, err := s.ledger.Close(current.ID, liqPrice)
		if err != nil {
			if !errors.Is(err, ledger.ErrPositionNotFound) {
				s.log.Error().Err(err).Str("position_id", current.ID).Msg("liquidation close failed")
			}
			continue
		}

		s.log.Warn().
			Str("position_id", current.ID).
			Str("asset", current.Asset).
			Float64("margin", current.Margin).
			Float64("liquidation_price", liqPrice).
			Float64("realized_pnl", realized).
			Msg("position liquidated")

		if s.metrics != nil {
			s.metrics.LiquidationsTotal.WithLabelValues(current.Asset).Inc()
		}
		res.Liquidations = append(res.Liquidations, current)
	}

	return res
}
