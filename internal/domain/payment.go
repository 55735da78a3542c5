package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentInvoiced PaymentStatus = "invoiced"
	PaymentReceived PaymentStatus = "received"
	PaymentOverdue  PaymentStatus = "overdue"
	PaymentFailed   PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentInvoiced, PaymentReceived, PaymentOverdue, PaymentFailed},
	PaymentInvoiced: {PaymentReceived, PaymentOverdue, PaymentFailed},
	PaymentOverdue:  {PaymentReceived, PaymentFailed},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentInvoiced, PaymentReceived, PaymentOverdue, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentReceived || s == PaymentFailed
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UnitKind is the kind of revenue-generating unit a payment belongs to.
type UnitKind string

const (
	UnitPhase   UnitKind = "phase"
	UnitProgram UnitKind = "program"
	UnitOrder   UnitKind = "order"
)

// UnitRef points at exactly one project phase, training program or content order.
type UnitRef struct {
	Kind UnitKind `json:"kind"`
	ID   string   `json:"id"`
}

func (u UnitRef) Validate() error {
	switch u.Kind {
	case UnitPhase, UnitProgram, UnitOrder:
	default:
		return fmt.Errorf("%w: unknown unit kind %q", ErrInvalidPayment, u.Kind)
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: unit id is required", ErrInvalidPayment)
	}
	return nil
}

const (
	// LegacyHoldMarker is how older rows encoded a review hold inside notes.
	LegacyHoldMarker    = "[HOLD_FOR_REVIEW]"
	autoProcessedMarker = "[AUTO-PROCESSED %s]"
)

type Payment struct {
	ID           string          `json:"id"`
	Unit         UnitRef         `json:"unit"`
	ClientID     *string         `json:"client_id,omitempty"`
	DepartmentID *string         `json:"department_id,omitempty"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
	Category     Category        `json:"category"`
	Status       PaymentStatus   `json:"status"`
	AutoSplit    bool            `json:"auto_split"`

	DepartmentDiscountPercent decimal.Decimal `json:"department_discount_percent"`
	IsFirstMilestone          bool            `json:"is_first_milestone"`

	HeldForReview    bool    `json:"held_for_review"`
	HoldReason       *string `json:"hold_reason,omitempty"`
	Notes            string  `json:"notes"`
	SplitsCalculated bool    `json:"splits_calculated"`

	CreatedAt time.Time  `json:"created_at"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PaymentCursor marks the last row of a page in (created_at, id) order.
type PaymentCursor struct {
	CreatedAt time.Time
	ID        string
}

func (p *Payment) Validate() error {
	if err := p.Unit.Validate(); err != nil {
		return err
	}
	if !p.GrossAmount.IsPositive() {
		return fmt.Errorf("%w: gross amount must be positive", ErrInvalidPayment)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidPayment, p.Category)
	}
	if p.DepartmentDiscountPercent.IsNegative() {
		return fmt.Errorf("%w: negative department discount", ErrInvalidPayment)
	}
	return nil
}

// TransitionTo moves the payment along the status table. Received stamps paidAt.
func (p *Payment) TransitionTo(next PaymentStatus, at time.Time) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: payment %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = at
	if next == PaymentReceived {
		paid := at
		p.PaidAt = &paid
	}
	return nil
}

func (p *Payment) Hold(reason string) {
	p.HeldForReview = true
	r := strings.TrimSpace(reason)
	p.HoldReason = &r
}

func (p *Payment) Release() {
	p.HeldForReview = false
	p.HoldReason = nil
}

func (p *Payment) MarkAutoProcessed(at time.Time) {
	marker := fmt.Sprintf(autoProcessedMarker, at.UTC().Format(time.RFC3339))
	if p.Notes == "" {
		p.Notes = marker
		return
	}
	p.Notes = p.Notes + " " + marker
}
