package settlement

import "errors"

// Pool-level errors abort a run before any settlement is written.
var (
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolNotClosed         = errors.New("pool is not closed")
	ErrPoolNotSettling       = errors.New("pool has no recorded winning set")
	ErrWinningSetMismatch    = errors.New("winning set differs from the one recorded on the pool")
	ErrUnknownOption         = errors.New("winning option does not belong to the pool")
	ErrInvalidCommissionRate = errors.New("commission rate must be within [0, 1]")
	ErrLedgerUnavailable     = errors.New("bet ledger unavailable")
	ErrInvalidTransition     = errors.New("invalid pool status transition")
	ErrRunCancelled          = errors.New("settlement run cancelled")
	ErrStakeOverflow         = errors.New("stake total overflows int64")
)

// ErrRunIncomplete means every batch ran but some participants still hold
// no settlement, so the pool stays SETTLING.
var ErrRunIncomplete = errors.New("settlement run left participants unsettled")
