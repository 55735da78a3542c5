// Package split computes how a received payment is distributed among
// recipient categories. Everything here is pure: no I/O, no clocks.
package split

import (
	"fmt"

	"revenue-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Adjustments are the discretionary inputs applied on top of a model.
type Adjustments struct {
	DepartmentDiscountPercent  decimal.Decimal `json:"department_discount_percent"`
	IsFirstMilestone           bool            `json:"is_first_milestone"`
	HasCrossDepartmentReferral bool            `json:"has_cross_department_referral"`
}

type Allocation struct {
	Recipient  domain.Recipient `json:"recipient_category"`
	Percentage decimal.Decimal  `json:"percentage"`
	Amount     decimal.Decimal  `json:"amount"`
}

type Result struct {
	Category            domain.Category `json:"category"`
	Allocations         []Allocation    `json:"allocations"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	ReferralBonusAmount decimal.Decimal `json:"referral_bonus_amount"`
}

// Policy holds the business parameters of the adjustment steps.
type Policy struct {
	MaxDepartmentDiscount decimal.Decimal
	ReferralBonusPercent  decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		MaxDepartmentDiscount: decimal.NewFromInt(10),
		ReferralBonusPercent:  decimal.NewFromInt(10),
	}
}

// sheet is the running allocation table threaded through the steps.
type sheet struct {
	gross    decimal.Decimal
	model    domain.SplitModel
	rows     []Allocation
	discount decimal.Decimal
	bonus    decimal.Decimal
}

func (s *sheet) row(r domain.Recipient) int {
	for i := range s.rows {
		if s.rows[i].Recipient == r {
			return i
		}
	}
	return -1
}

// drawFromDepartment moves amount and pct points out of the department row
// into a new synthetic row. A missing department row counts as zero.
func (s *sheet) drawFromDepartment(to domain.Recipient, pct, amount decimal.Decimal) {
	i := s.row(domain.RecipientDepartment)
	if i < 0 {
		s.rows = append(s.rows, Allocation{Recipient: domain.RecipientDepartment})
		i = len(s.rows) - 1
	}
	s.rows[i].Amount = s.rows[i].Amount.Sub(amount)
	s.rows[i].Percentage = s.rows[i].Percentage.Sub(pct)
	s.rows = append(s.rows, Allocation{Recipient: to, Percentage: pct, Amount: amount})
}

type step func(s *sheet, adj Adjustments) error

type Calculator struct {
	policy Policy
	steps  []step
}

func NewCalculator(p Policy) *Calculator {
	c := &Calculator{policy: p}
	c.steps = []step{baseAllocation, c.departmentDiscount, c.referralBonus}
	return c
}

// Calculate splits gross according to model and adjustments. The returned
// allocations always add up to gross.
func (c *Calculator) Calculate(gross decimal.Decimal, model domain.SplitModel, adj Adjustments) (Result, error) {
	if !gross.IsPositive() {
		return Result{}, fmt.Errorf("%w: gross amount must be positive", domain.ErrInvalidPayment)
	}
	if !gross.Equal(gross.Truncate(domain.CurrencyScale)) {
		return Result{}, fmt.Errorf("%w: gross amount has sub-unit precision", domain.ErrInvalidPayment)
	}
	if err := domain.ValidateShares(model.Category, model.Shares); err != nil {
		return Result{}, err
	}
	if err := c.ValidateAdjustments(adj); err != nil {
		return Result{}, err
	}

	s := &sheet{gross: gross, model: model}
	for _, apply := range c.steps {
		if err := apply(s, adj); err != nil {
			return Result{}, err
		}
	}
	if err := checkNotOverAdjusted(s); err != nil {
		return Result{}, err
	}

	total := decimal.Zero
	for _, a := range s.rows {
		total = total.Add(a.Amount)
	}
	if !total.Equal(s.gross) {
		return Result{}, fmt.Errorf("allocations total %s does not match gross %s", total, s.gross)
	}

	return Result{
		Category:            model.Category,
		Allocations:         s.rows,
		TotalAmount:         total,
		DiscountAmount:      s.discount,
		ReferralBonusAmount: s.bonus,
	}, nil
}

// ValidateAdjustments checks the adjustment inputs against the policy bounds.
func (c *Calculator) ValidateAdjustments(adj Adjustments) error {
	d := adj.DepartmentDiscountPercent
	if d.IsNegative() || d.GreaterThan(c.policy.MaxDepartmentDiscount) {
		return fmt.Errorf("%w: department discount %s outside [0,%s]",
			domain.ErrInvalidAdjustment, d, c.policy.MaxDepartmentDiscount)
	}
	return nil
}

func baseAllocation(s *sheet, _ Adjustments) error {
	pcts := make([]decimal.Decimal, len(s.model.Shares))
	for i, sh := range s.model.Shares {
		pcts[i] = sh.Percentage
	}
	amounts := domain.Apportion(s.gross, pcts)
	s.rows = make([]Allocation, 0, len(pcts)+2)
	for i, sh := range s.model.Shares {
		s.rows = append(s.rows, Allocation{Recipient: sh.Recipient, Percentage: sh.Percentage, Amount: amounts[i]})
	}
	return nil
}

func (c *Calculator) departmentDiscount(s *sheet, adj Adjustments) error {
	d := adj.DepartmentDiscountPercent
	if d.IsZero() || s.row(domain.RecipientDepartment) < 0 {
		return nil
	}
	amount := domain.PercentOf(s.gross, d)
	// below one paise there is nothing to move
	if amount.IsZero() {
		return nil
	}
	s.discount = amount
	s.drawFromDepartment(domain.RecipientDepartmentDiscount, d, s.discount)
	return nil
}

func (c *Calculator) referralBonus(s *sheet, adj Adjustments) error {
	if !adj.IsFirstMilestone || !adj.HasCrossDepartmentReferral || s.model.Category != domain.CategorySoftware {
		return nil
	}
	pct := c.policy.ReferralBonusPercent
	s.bonus = domain.PercentOf(s.gross, pct)
	s.drawFromDepartment(domain.RecipientReferralBonus, pct, s.bonus)
	return nil
}

func checkNotOverAdjusted(s *sheet) error {
	i := s.row(domain.RecipientDepartment)
	if i < 0 {
		return nil
	}
	dept := s.rows[i]
	if dept.Amount.IsNegative() || dept.Percentage.IsNegative() {
		return fmt.Errorf("%w: department left with %s (%s%%)", domain.ErrOverAdjusted, dept.Amount, dept.Percentage)
	}
	return nil
}
