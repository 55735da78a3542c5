package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LedgerStatus string

const (
	LedgerCalculated LedgerStatus = "calculated"
	LedgerApproved   LedgerStatus = "approved"
	LedgerPaid       LedgerStatus = "paid"
)

// ledgerNext is the only forward move allowed from each status.
var ledgerNext = map[LedgerStatus]LedgerStatus{
	LedgerCalculated: LedgerApproved,
	LedgerApproved:   LedgerPaid,
}

func (s LedgerStatus) Valid() bool {
	return s == LedgerCalculated || s == LedgerApproved || s == LedgerPaid
}

func (s LedgerStatus) CanTransitionTo(next LedgerStatus) bool {
	n, ok := ledgerNext[s]
	return ok && n == next
}

// RequiredPredecessor returns the status an entry must be in to move to s.
func (s LedgerStatus) RequiredPredecessor() (LedgerStatus, bool) {
	for from, to := range ledgerNext {
		if to == s {
			return from, true
		}
	}
	return "", false
}

// LedgerEntry records one allocation of a payment. Amount and percentage
// never change after insert.
type LedgerEntry struct {
	ID          string          `json:"id"`
	PaymentID   string          `json:"payment_id"`
	Recipient   Recipient       `json:"recipient_category"`
	RecipientID *string         `json:"recipient_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Percentage  decimal.Decimal `json:"percentage"`
	Status      LedgerStatus    `json:"status"`
	ApprovedBy  *int64          `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (e *LedgerEntry) Approve(by *int64, at time.Time) error {
	if !e.Status.CanTransitionTo(LedgerApproved) {
		return fmt.Errorf("%w: ledger entry %s %s -> %s", ErrInvalidTransition, e.ID, e.Status, LedgerApproved)
	}
	e.Status = LedgerApproved
	e.ApprovedBy = by
	t := at
	e.ApprovedAt = &t
	return nil
}

func (e *LedgerEntry) MarkPaid(at time.Time) error {
	if !e.Status.CanTransitionTo(LedgerPaid) {
		return fmt.Errorf("%w: ledger entry %s %s -> %s", ErrInvalidTransition, e.ID, e.Status, LedgerPaid)
	}
	e.Status = LedgerPaid
	t := at
	e.PaidAt = &t
	return nil
}

// EntryFailure reports why one id in a bulk ledger operation did not move.
type EntryFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// BulkResult is the outcome of a bulk ledger transition; ids move independently.
type BulkResult struct {
	Updated  []LedgerEntry  `json:"updated"`
	Failures []EntryFailure `json:"failures"`
}

type LedgerGroupBy string

const (
	GroupByRecipient  LedgerGroupBy = "category"
	GroupByDepartment LedgerGroupBy = "department"
)

type LedgerSummaryFilter struct {
	GroupBy LedgerGroupBy
	Status  *LedgerStatus
	From    *time.Time
	To      *time.Time
}

type LedgerSummaryRow struct {
	Key         string          `json:"key"`
	EntryCount  int64           `json:"entry_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}
