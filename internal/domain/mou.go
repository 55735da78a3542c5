package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type MouStatus string

const (
	MouDraft   MouStatus = "draft"
	MouSent    MouStatus = "sent"
	MouSigned  MouStatus = "signed"
	MouActive  MouStatus = "active"
	MouExpired MouStatus = "expired"
	MouRenewed MouStatus = "renewed"
)

var mouTransitions = map[MouStatus][]MouStatus{
	MouDraft:   {MouSent},
	MouSent:    {MouDraft, MouSigned},
	MouSigned:  {MouActive, MouExpired},
	MouActive:  {MouExpired, MouRenewed},
	MouExpired: {MouRenewed},
	MouRenewed: {MouActive, MouExpired},
}

func (s MouStatus) Valid() bool {
	_, ok := mouTransitions[s]
	return ok
}

func (s MouStatus) CanTransitionTo(next MouStatus) bool {
	for _, allowed := range mouTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Milestone string

const (
	MilestoneSigning    Milestone = "signing"
	MilestoneDeployment Milestone = "deployment"
	MilestoneAcceptance Milestone = "acceptance"
)

// PaymentTerms is the signing/deployment/acceptance schedule, summing to 100.
type PaymentTerms struct {
	Signing    decimal.Decimal `json:"signing"`
	Deployment decimal.Decimal `json:"deployment"`
	Acceptance decimal.Decimal `json:"acceptance"`
}

func DefaultPaymentTerms() PaymentTerms {
	return PaymentTerms{
		Signing:    decimal.NewFromInt(40),
		Deployment: decimal.NewFromInt(40),
		Acceptance: decimal.NewFromInt(20),
	}
}

func (t PaymentTerms) IsZero() bool {
	return t.Signing.IsZero() && t.Deployment.IsZero() && t.Acceptance.IsZero()
}

func (t PaymentTerms) Validate() error {
	for _, p := range []decimal.Decimal{t.Signing, t.Deployment, t.Acceptance} {
		if p.IsNegative() {
			return fmt.Errorf("%w: negative payment term", ErrInvalidMou)
		}
	}
	if sum := t.Signing.Add(t.Deployment).Add(t.Acceptance); !sum.Equal(hundred) {
		return fmt.Errorf("%w: payment terms sum to %s", ErrInvalidMou, sum.String())
	}
	return nil
}

type Mou struct {
	ID                string           `json:"id"`
	Unit              UnitRef          `json:"unit"`
	ClientID          *string          `json:"client_id,omitempty"`
	DepartmentID      *string          `json:"department_id,omitempty"`
	Category          Category         `json:"category"`
	DealValue         decimal.Decimal  `json:"deal_value"`
	AnnualMaintenance *decimal.Decimal `json:"annual_maintenance,omitempty"`
	Terms             PaymentTerms     `json:"terms"`
	Status            MouStatus        `json:"status"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	PaymentsScheduled bool             `json:"payments_scheduled"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (m *Mou) Validate() error {
	if err := m.Unit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMou, err)
	}
	if !m.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidMou, m.Category)
	}
	if !m.DealValue.IsPositive() {
		return fmt.Errorf("%w: deal value must be positive", ErrInvalidMou)
	}
	if !m.DealValue.Equal(m.DealValue.Truncate(CurrencyScale)) {
		return fmt.Errorf("%w: deal value has sub-unit precision", ErrInvalidMou)
	}
	if m.AnnualMaintenance != nil {
		if m.AnnualMaintenance.IsNegative() {
			return fmt.Errorf("%w: negative annual maintenance", ErrInvalidMou)
		}
		if !m.AnnualMaintenance.Equal(m.AnnualMaintenance.Truncate(CurrencyScale)) {
			return fmt.Errorf("%w: annual maintenance has sub-unit precision", ErrInvalidMou)
		}
	}
	return m.Terms.Validate()
}

// Governs reports whether the MoU fixes the price of its unit.
func (m *Mou) Governs() bool {
	return m.Status != MouExpired
}

func (m *Mou) TransitionTo(next MouStatus, at time.Time) error {
	if !m.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: mou %s %s -> %s", ErrInvalidTransition, m.ID, m.Status, next)
	}
	m.Status = next
	m.UpdatedAt = at
	return nil
}

type Installment struct {
	Milestone  Milestone       `json:"milestone"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// Schedule applies the payment terms to the deal value.
func (m *Mou) Schedule() []Installment {
	pcts := []decimal.Decimal{m.Terms.Signing, m.Terms.Deployment, m.Terms.Acceptance}
	amounts := Apportion(m.DealValue, pcts)
	milestones := []Milestone{MilestoneSigning, MilestoneDeployment, MilestoneAcceptance}
	out := make([]Installment, 0, len(pcts))
	for i := range pcts {
		out = append(out, Installment{Milestone: milestones[i], Percentage: pcts[i], Amount: amounts[i]})
	}
	return out
}
