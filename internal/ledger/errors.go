package ledger

import "errors"

// Domain errors returned by ledger operations. The API layer maps these to
// structured 400 responses; the sweeper swallows ErrPositionNotFound because
// it only signals a benign race with a concurrent close.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPositionNotFound  = errors.New("position not found")
	ErrInvalidRequest    = errors.New("invalid open request")
)
