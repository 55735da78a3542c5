package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidModel      = errors.New("invalid split model")
	ErrNoSplitModel      = errors.New("no split model for category")
	ErrOverAdjusted      = errors.New("adjustments exceed department allocation")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
	ErrHasLedgerEntries  = errors.New("payment has ledger entries")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate  = errors.New("concurrent update")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrInvalidMou        = errors.New("invalid mou")
	ErrPricingConflict   = errors.New("deal is governed by an mou")
	ErrInvalidArgument   = errors.New("invalid argument")
)
