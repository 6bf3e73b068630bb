// Package ledger owns account balances and open positions. It is the single
// mutation surface of the engine: the price-feed sweep and user-initiated
// open/close calls both funnel through here, serialized by one mutex, so no
// caller can observe a half-applied mutation (a margin debit without the
// matching position insert, or a double settlement).
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"marginledger/internal/pnl"
)

// CashAsset is the collateral asset debited for margin and credited at
// settlement.
const CashAsset = "USD"

// Ledger holds balances and position records. Both maps are exclusively
// owned; all access goes through Ledger methods and reads return copies.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]float64
	positions map[string]*Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:  make(map[string]float64),
		positions: make(map[string]*Position),
	}
}

// Deposit credits amount to an asset balance. Used to seed the cash balance
// at startup; amounts must be positive.
func (l *Ledger) Deposit(asset string, amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[asset] += amount
}

// Balance returns the current balance for an asset, 0 for unknown assets.
func (l *Ledger) Balance(asset string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Balances returns a point-in-time copy of all balances.
func (l *Ledger) Balances() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.balances))
	for asset, amount := range l.balances {
		out[asset] = amount
	}
	return out
}

// Open atomically debits margin from the cash balance and inserts a new
// position. Position invariants (margin > 0, leverage >= 1, entryPrice > 0)
// are enforced here, not just at the API boundary: a request violating them
// returns ErrInvalidRequest, and margin exceeding available cash returns
// ErrInsufficientFunds, in both cases with no state mutated. The returned
// Position is a snapshot.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if req.Margin <= 0 || req.Leverage < 1 || req.CurrentPrice <= 0 ||
		req.Asset == "" || req.Slippage < 0 || !req.Side.Valid() {
		return Position{}, ErrInvalidRequest
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.Margin > l.balances[CashAsset] {
		return Position{}, ErrInsufficientFunds
	}

	pos := &Position{
		ID:         uuid.New().String(),
		Asset:      req.Asset,
		Side:       req.Side,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		Slippage:   req.Slippage,
		EntryPrice: req.CurrentPrice,
		Quantity:   pnl.Quantity(req.Margin, req.Leverage, req.CurrentPrice),
		OpenedAt:   time.Now(),
	}

	l.balances[CashAsset] -= req.Margin
	l.positions[pos.ID] = pos

	return *pos, nil
}

// Close settles a position at the given price: realized PnL is computed with
// the same formula as unrealized PnL, margin plus realized PnL is credited
// back to cash, and the record is removed. Closing an unknown (or already
// closed) id returns ErrPositionNotFound and credits nothing, which makes
// close idempotent with respect to payout.
func (l *Ledger) Close(positionID string, settlementPrice float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return 0, ErrPositionNotFound
	}

	realized := pnl.Unrealized(pos.Side, pos.Quantity, pos.EntryPrice, settlementPrice)
	l.balances[CashAsset] += pos.Margin + realized
	delete(l.positions, positionID)

	return realized, nil
}

// ApplyPnL writes the unrealized PnL of an open position and returns the
// updated snapshot. A position that no longer exists (closed in the window
// since the caller snapshotted it) is a silent no-op: the sweep racing a
// manual close is expected and benign. The second return value tells the
// sweeper whether the position is still open, so the liquidation decision is
// always made on re-read state.
func (l *Ledger) ApplyPnL(positionID string, value float64) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return Position{}, false
	}
	pos.UnrealizedPnL = value
	return *pos, true
}

// OpenPositions returns a point-in-time copy of open positions, filtered by
// asset when asset is non-empty. Callers may close entries from the snapshot
// without invalidating their own iteration.
func (l *Ledger) OpenPositions(asset string) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if asset != "" && pos.Asset != asset {
			continue
		}
		out = append(out, *pos)
	}
	return out
}
