package vault

import "errors"

var (
	ErrCapacityExceeded   = errors.New("vault: deposit limit exceeded")
	ErrRatioOverflow      = errors.New("vault: debt ratio total exceeds 10000 bps")
	ErrDuplicateStrategy  = errors.New("vault: strategy already registered")
	ErrNotActive          = errors.New("vault: strategy not active")
	ErrLossExceeded       = errors.New("vault: withdrawal loss exceeds bound")
	ErrUnauthorized       = errors.New("vault: asset is protected")
	ErrEmergencyShutdown  = errors.New("vault: emergency shutdown")
	ErrInvalidAmount      = errors.New("vault: invalid amount")
	ErrZeroShares         = errors.New("vault: amount converts to zero shares")
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	ErrInvalidLossBound   = errors.New("vault: max loss must be within 0..10000 bps")
	ErrStrategyHasDebt    = errors.New("vault: strategy still holds debt")
	ErrInvalidParams      = errors.New("vault: invalid strategy params")
	ErrHealthCheck        = errors.New("vault: harvest failed health check")

	ErrInsufficientStrategyBalance = errors.New("vault: strategy cannot cover gain and debt payment")
	ErrInvalidAdapterReport        = errors.New("vault: adapter reported inconsistent amounts")
)
