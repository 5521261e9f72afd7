package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrConfiguration = errors.New("configuration error")

	// ErrTransientLedger marks a single failed ledger call (network, timeout,
	// node error). Callers recover locally and retry on their next cycle.
	ErrTransientLedger = errors.New("transient ledger error")
	ErrApprovalFailed  = errors.New("approval failed")
	ErrTxReverted      = errors.New("transaction reverted")
	ErrAlreadyResolved = errors.New("market already resolved")
)
