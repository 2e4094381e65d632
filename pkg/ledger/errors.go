package ledger

import "errors"

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidBalance      = errors.New("credit balance cannot be negative")
	ErrInvalidAmount       = errors.New("debit amount cannot be negative")
)
