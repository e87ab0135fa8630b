package staking

import "errors"

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientStake = errors.New("amount exceeds staked balance")
	ErrPaused            = errors.New("ledger is paused")
	ErrReentrant         = errors.New("mutating operation already in progress")
	ErrTransferFailed    = errors.New("asset transfer failed")
	ErrInsolvent         = errors.New("withdrawal would breach outstanding reward obligations")
)
