package ledger

import "errors"

// Sentinel errors for the ledger.
var (
	ErrNotFound           = errors.New("repository email not found")
	ErrConcurrentConflict = errors.New("concurrent ledger conflict")
	ErrInvalidTransition  = errors.New("invalid ledger transition")
)
