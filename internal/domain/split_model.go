package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category selects the split model applied to a payment.
type Category string

const (
	CategorySoftware          Category = "software"
	CategoryTrainingCommunity Category = "training-community"
	CategoryTrainingCorporate Category = "training-corporate"
	CategoryContent           Category = "content"
)

var categories = map[Category]bool{
	CategorySoftware:          true,
	CategoryTrainingCommunity: true,
	CategoryTrainingCorporate: true,
	CategoryContent:           true,
}

func (c Category) Valid() bool { return categories[c] }

// Recipient is a stakeholder bucket receiving a share of a payment.
type Recipient string

const (
	RecipientJicate      Recipient = "jicate"
	RecipientDepartment  Recipient = "department"
	RecipientInstitution Recipient = "institution"
	RecipientCohort      Recipient = "cohort"
	RecipientFaculty     Recipient = "faculty"

	// Synthetic recipients produced by adjustments; never part of a model.
	RecipientReferralBonus      Recipient = "referral_bonus"
	RecipientDepartmentDiscount Recipient = "department_discount"
)

var modelRecipients = map[Recipient]bool{
	RecipientJicate:      true,
	RecipientDepartment:  true,
	RecipientInstitution: true,
	RecipientCohort:      true,
	RecipientFaculty:     true,
}

func (r Recipient) Valid() bool {
	return modelRecipients[r] || r == RecipientReferralBonus || r == RecipientDepartmentDiscount
}

var hundred = decimal.NewFromInt(100)

// Share is one row of a split model.
type Share struct {
	Recipient  Recipient       `json:"recipient"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SplitModel is an ordered recipient -> percentage table summing to 100.
type SplitModel struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Shares    []Share   `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSplitModel validates shares and returns a model that owns a copy of them.
func NewSplitModel(id string, category Category, shares []Share) (SplitModel, error) {
	if err := ValidateShares(category, shares); err != nil {
		return SplitModel{}, err
	}
	own := make([]Share, len(shares))
	copy(own, shares)
	return SplitModel{ID: id, Category: category, Shares: own}, nil
}

func ValidateShares(category Category, shares []Share) error {
	if !category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidModel, category)
	}
	if len(shares) == 0 {
		return fmt.Errorf("%w: no shares", ErrInvalidModel)
	}
	seen := make(map[Recipient]bool, len(shares))
	sum := decimal.Zero
	for _, s := range shares {
		if !modelRecipients[s.Recipient] {
			return fmt.Errorf("%w: unknown recipient %q", ErrInvalidModel, s.Recipient)
		}
		if seen[s.Recipient] {
			return fmt.Errorf("%w: duplicate recipient %q", ErrInvalidModel, s.Recipient)
		}
		seen[s.Recipient] = true
		if s.Percentage.IsNegative() {
			return fmt.Errorf("%w: negative percentage for %q", ErrInvalidModel, s.Recipient)
		}
		sum = sum.Add(s.Percentage)
	}
	if !sum.Equal(hundred) {
		return fmt.Errorf("%w: percentages sum to %s", ErrInvalidModel, sum.String())
	}
	return nil
}

// Percentage returns the nominal share of r, if present.
func (m SplitModel) Percentage(r Recipient) (decimal.Decimal, bool) {
	for _, s := range m.Shares {
		if s.Recipient == r {
			return s.Percentage, true
		}
	}
	return decimal.Zero, false
}

// Clone returns a deep copy so readers never share the backing array.
func (m SplitModel) Clone() SplitModel {
	out := m
	out.Shares = make([]Share, len(m.Shares))
	copy(out.Shares, m.Shares)
	return out
}
