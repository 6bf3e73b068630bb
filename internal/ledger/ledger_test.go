package ledger_test

import (
	"errors"
	"math"
	"testing"

	"marginledger/internal/ledger"
	"marginledger/internal/pnl"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newFunded(t *testing.T, cash float64) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	l.Deposit(ledger.CashAsset, cash)
	return l
}

func openReq(margin, leverage, price float64) ledger.OpenRequest {
	return ledger.OpenRequest{
		Margin:       margin,
		Asset:        "SOL",
		Side:         pnl.SideLong,
		Leverage:     leverage,
		Slippage:     0,
		CurrentPrice: price,
	}
}

// ============================================================================
// Test: Open
// ============================================================================

func TestOpen_DebitsMargin(t *testing.T) {
	l := newFunded(t, 10_000)

	pos, err := l.Open(openReq(1000, 10, 150))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 9000) {
		t.Errorf("cash after open: got %v, want 9000", got)
	}
	if !almostEqual(pos.Quantity, 10_000.0/150.0) {
		t.Errorf("quantity: got %v, want %v", pos.Quantity, 10_000.0/150.0)
	}
	if pos.EntryPrice != 150 {
		t.Errorf("entry price: got %v, want 150", pos.EntryPrice)
	}
	if pos.ID == "" {
		t.Error("position id must be assigned")
	}
}

func TestOpen_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	l := newFunded(t, 500)

	_, err := l.Open(openReq(1000, 5, 100))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 500) {
		t.Errorf("cash must be untouched: got %v, want 500", got)
	}
	if n := len(l.OpenPositions("")); n != 0 {
		t.Errorf("no position may exist, found %d", n)
	}
}

func TestOpen_RejectsInvariantViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ledger.OpenRequest)
	}{
		{"zero margin", func(r *ledger.OpenRequest) { r.Margin = 0 }},
		{"negative margin", func(r *ledger.OpenRequest) { r.Margin = -100 }},
		{"sub-1 leverage", func(r *ledger.OpenRequest) { r.Leverage = 0.5 }},
		{"zero price", func(r *ledger.OpenRequest) { r.CurrentPrice = 0 }},
		{"empty asset", func(r *ledger.OpenRequest) { r.Asset = "" }},
		{"negative slippage", func(r *ledger.OpenRequest) { r.Slippage = -1 }},
		{"bad side", func(r *ledger.OpenRequest) { r.Side = "LONG" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newFunded(t, 10_000)
			req := openReq(1000, 10, 150)
			tc.mutate(&req)

			_, err := l.Open(req)
			if !errors.Is(err, ledger.ErrInvalidRequest) {
				t.Fatalf("got %v, want ErrInvalidRequest", err)
			}
			if got := l.Balance(ledger.CashAsset); !almostEqual(got, 10_000) {
				t.Errorf("cash must be untouched: got %v, want 10000", got)
			}
			if n := len(l.OpenPositions("")); n != 0 {
				t.Errorf("no position may exist, found %d", n)
			}
		})
	}
}

func TestOpen_MarginEqualToBalanceSucceeds(t *testing.T) {
	l := newFunded(t, 1000)

	if _, err := l.Open(openReq(1000, 2, 50)); err != nil {
		t.Fatalf("open with margin == balance: %v", err)
	}
	if got := l.Balance(ledger.CashAsset); got != 0 {
		t.Errorf("cash: got %v, want 0", got)
	}
}

// ============================================================================
// Test: Close
// ============================================================================

func TestClose_ConservesCashAtEntryPrice(t *testing.T) {
	l := newFunded(t, 10_000)
	pos, _ := l.Open(openReq(1000, 10, 150))

	realized, err := l.Close(pos.ID, 150)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if realized != 0 {
		t.Errorf("realized at entry price: got %v, want 0", realized)
	}
	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 10_000) {
		t.Errorf("cash: got %v, want 10000", got)
	}
}

func TestClose_CreditsMarginPlusProfit(t *testing.T) {
	l := newFunded(t, 10_000)
	pos, _ := l.Open(openReq(1000, 10, 150))

	realized, err := l.Close(pos.ID, 165)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	// (165-150) * 66.666... = 1000 profit.
	if !almostEqual(realized, 1000) {
		t.Errorf("realized: got %v, want 1000", realized)
	}
	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 11_000) {
		t.Errorf("cash: got %v, want 11000", got)
	}
}

func TestClose_ShortProfitsWhenPriceFalls(t *testing.T) {
	l := newFunded(t, 10_000)
	req := openReq(1000, 10, 150)
	req.Side = pnl.SideShort
	pos, _ := l.Open(req)

	realized, err := l.Close(pos.ID, 135)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(realized, 1000) {
		t.Errorf("realized: got %v, want 1000", realized)
	}
	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 11_000) {
		t.Errorf("cash: got %v, want 11000", got)
	}
}

func TestClose_UnknownIDReturnsNotFound(t *testing.T) {
	l := newFunded(t, 10_000)

	_, err := l.Close("nope", 100)
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Fatalf("got %v, want ErrPositionNotFound", err)
	}
	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 10_000) {
		t.Errorf("cash must be untouched: got %v, want 10000", got)
	}
}

func TestClose_SecondCloseDoesNotPayTwice(t *testing.T) {
	l := newFunded(t, 10_000)
	pos, _ := l.Open(openReq(1000, 10, 150))

	if _, err := l.Close(pos.ID, 160); err != nil {
		t.Fatalf("first close: %v", err)
	}
	after := l.Balance(ledger.CashAsset)

	_, err := l.Close(pos.ID, 160)
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Fatalf("second close: got %v, want ErrPositionNotFound", err)
	}
	if got := l.Balance(ledger.CashAsset); got != after {
		t.Errorf("second close changed cash: %v -> %v", after, got)
	}
}

// ============================================================================
// Test: ApplyPnL / OpenPositions
// ============================================================================

func TestApplyPnL_UpdatesAndReturnsSnapshot(t *testing.T) {
	l := newFunded(t, 10_000)
	pos, _ := l.Open(openReq(1000, 10, 150))

	current, open := l.ApplyPnL(pos.ID, -333.33)
	if !open {
		t.Fatal("position should be open")
	}
	if !almostEqual(current.UnrealizedPnL, -333.33) {
		t.Errorf("upnl: got %v, want -333.33", current.UnrealizedPnL)
	}
}

func TestApplyPnL_MissingPositionIsNoOp(t *testing.T) {
	l := newFunded(t, 10_000)

	if _, open := l.ApplyPnL("gone", -1); open {
		t.Error("missing position must report not open")
	}
}

func TestOpenPositions_FiltersByAsset(t *testing.T) {
	l := newFunded(t, 10_000)
	sol := openReq(1000, 10, 150)
	eth := openReq(500, 5, 3000)
	eth.Asset = "ETH"
	l.Open(sol)
	l.Open(eth)

	if n := len(l.OpenPositions("SOL")); n != 1 {
		t.Errorf("SOL positions: got %d, want 1", n)
	}
	if n := len(l.OpenPositions("")); n != 2 {
		t.Errorf("all positions: got %d, want 2", n)
	}
	if n := len(l.OpenPositions("BTC")); n != 0 {
		t.Errorf("BTC positions: got %d, want 0", n)
	}
}

func TestOpenPositions_ReturnsCopies(t *testing.T) {
	l := newFunded(t, 10_000)
	l.Open(openReq(1000, 10, 150))

	snap := l.OpenPositions("")
	snap[0].Margin = 999_999

	if got := l.OpenPositions("")[0].Margin; got != 1000 {
		t.Errorf("ledger state mutated through snapshot: margin %v", got)
	}
}

func TestBalances_ReturnsCopy(t *testing.T) {
	l := newFunded(t, 10_000)

	b := l.Balances()
	b[ledger.CashAsset] = 0

	if got := l.Balance(ledger.CashAsset); !almostEqual(got, 10_000) {
		t.Errorf("ledger state mutated through balances copy: %v", got)
	}
}

func TestDeposit_IgnoresNonPositive(t *testing.T) {
	l := ledger.New()
	l.Deposit(ledger.CashAsset, 0)
	l.Deposit(ledger.CashAsset, -50)

	if got := l.Balance(ledger.CashAsset); got != 0 {
		t.Errorf("cash: got %v, want 0", got)
	}
}
