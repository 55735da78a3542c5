package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/split"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// decimals validate as numbers so min/max/gte/lte tags apply to them
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return domain.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("recipient", func(fl validator.FieldLevel) bool {
		return domain.Recipient(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("unit_kind", func(fl validator.FieldLevel) bool {
		switch domain.UnitKind(fl.Field().String()) {
		case domain.UnitPhase, domain.UnitProgram, domain.UnitOrder:
			return true
		}
		return false
	})
	return v
}

// decode reads a JSON body into dst and runs struct validation. An empty body
// decodes to the zero value.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "invalid JSON: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return &ValidationError{
				Field:   first.Field(),
				Message: fmt.Sprintf("%s failed on %q", first.Field(), first.Tag()),
			}
		}
		return &ValidationError{Message: err.Error()}
	}
	return nil
}

type UnitDTO struct {
	Kind string `json:"kind" validate:"required,unit_kind"`
	ID   string `json:"id" validate:"required"`
}

func (u UnitDTO) toDomain() domain.UnitRef {
	return domain.UnitRef{Kind: domain.UnitKind(u.Kind), ID: u.ID}
}

type AdjustmentsDTO struct {
	DepartmentDiscountPercent  decimal.Decimal `json:"department_discount_percent"`
	IsFirstMilestone           bool            `json:"is_first_milestone"`
	HasCrossDepartmentReferral bool            `json:"has_cross_department_referral"`
}

func (a AdjustmentsDTO) toDomain() split.Adjustments {
	return split.Adjustments{
		DepartmentDiscountPercent:  a.DepartmentDiscountPercent,
		IsFirstMilestone:           a.IsFirstMilestone,
		HasCrossDepartmentReferral: a.HasCrossDepartmentReferral,
	}
}

type CalculateRequest struct {
	GrossAmount decimal.Decimal `json:"gross_amount" validate:"required"`
	Category    string          `json:"category" validate:"required,category"`
	Adjustments AdjustmentsDTO  `json:"adjustments"`
}

type ShareDTO struct {
	Recipient  string          `json:"recipient" validate:"required,recipient"`
	Percentage decimal.Decimal `json:"percentage"`
}

type SplitModelRequest struct {
	Shares []ShareDTO `json:"shares" validate:"required,min=1,dive"`
}

func (r SplitModelRequest) toDomain() []domain.Share {
	out := make([]domain.Share, len(r.Shares))
	for i, s := range r.Shares {
		out[i] = domain.Share{Recipient: domain.Recipient(s.Recipient), Percentage: s.Percentage}
	}
	return out
}

type CreatePaymentRequest struct {
	Unit                      UnitDTO         `json:"unit" validate:"required"`
	GrossAmount               decimal.Decimal `json:"gross_amount" validate:"required"`
	Category                  string          `json:"category" validate:"required,category"`
	AutoSplit                 bool            `json:"auto_split"`
	ClientID                  *string         `json:"client_id,omitempty" validate:"omitempty,min=1"`
	DepartmentID              *string         `json:"department_id,omitempty" validate:"omitempty,min=1"`
	DepartmentDiscountPercent decimal.Decimal `json:"department_discount_percent" validate:"gte=0,lte=100"`
	IsFirstMilestone          bool            `json:"is_first_milestone"`
	DueAt                     *time.Time      `json:"due_at,omitempty"`
	Notes                     string          `json:"notes" validate:"max=2000"`
}

type ConfirmRequest struct {
	AutoSplit bool `json:"auto_split"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type FlagRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type LedgerIDsRequest struct {
	IDs    []string   `json:"ids" validate:"required,min=1,max=500,dive,required"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

type SettlementRunRequest struct {
	ThresholdHours int `json:"threshold_hours" validate:"omitempty,min=1,max=8760"`
}

type QuoteRequest struct {
	ClientID  string          `json:"client_id" validate:"required"`
	ListPrice decimal.Decimal `json:"list_price" validate:"required"`
}

type DealQuoteRequest struct {
	Unit      UnitDTO         `json:"unit" validate:"required"`
	ClientID  string          `json:"client_id"`
	ListPrice decimal.Decimal `json:"list_price"`
}

type ReferralRequest struct {
	ReferrerClientID      string  `json:"referrer_client_id" validate:"required"`
	ReferredClientID      string  `json:"referred_client_id" validate:"required,nefield=ReferrerClientID"`
	ReferringDepartmentID *string `json:"referring_department_id,omitempty" validate:"omitempty,min=1"`
}

type PaymentTermsDTO struct {
	Signing    decimal.Decimal `json:"signing"`
	Deployment decimal.Decimal `json:"deployment"`
	Acceptance decimal.Decimal `json:"acceptance"`
}

type CreateMouRequest struct {
	Unit              UnitDTO          `json:"unit" validate:"required"`
	ClientID          *string          `json:"client_id,omitempty"`
	DepartmentID      *string          `json:"department_id,omitempty"`
	Category          string           `json:"category" validate:"required,category"`
	DealValue         decimal.Decimal  `json:"deal_value" validate:"required"`
	AnnualMaintenance *decimal.Decimal `json:"annual_maintenance,omitempty"`
	Terms             *PaymentTermsDTO `json:"terms,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
}

func (r CreateMouRequest) terms() domain.PaymentTerms {
	if r.Terms == nil {
		return domain.PaymentTerms{}
	}
	return domain.PaymentTerms{Signing: r.Terms.Signing, Deployment: r.Terms.Deployment, Acceptance: r.Terms.Acceptance}
}
