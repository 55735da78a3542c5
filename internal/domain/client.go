package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PartnerCategory string

const (
	PartnerStandard  PartnerCategory = "standard"
	PartnerReferral  PartnerCategory = "referral"
	PartnerChannel   PartnerCategory = "channel"
	PartnerAcademic  PartnerCategory = "academic"
	PartnerStrategic PartnerCategory = "strategic"
)

func (c PartnerCategory) Valid() bool {
	switch c {
	case PartnerStandard, PartnerReferral, PartnerChannel, PartnerAcademic, PartnerStrategic:
		return true
	}
	return false
}

type Client struct {
	ID                    string           `json:"id"`
	PartnerCategory       PartnerCategory  `json:"partner_category"`
	CustomDiscountPercent *decimal.Decimal `json:"custom_discount_percent,omitempty"`
	ReferralCount         int              `json:"referral_count"`
}

type Referral struct {
	ID                    string    `json:"id"`
	ReferrerClientID      string    `json:"referrer_client_id"`
	ReferredClientID      string    `json:"referred_client_id"`
	ReferringDepartmentID *string   `json:"referring_department_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

type PriceSource string

const (
	PriceList    PriceSource = "list"
	PricePartner PriceSource = "partner"
	PriceCustom  PriceSource = "custom"
	PriceMou     PriceSource = "mou"
)

type Quote struct {
	ListPrice       decimal.Decimal `json:"list_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	FinalPrice      decimal.Decimal `json:"final_price"`
	Source          PriceSource     `json:"source"`
	Installments    []Installment   `json:"installments,omitempty"`
	MouID           *string         `json:"mou_id,omitempty"`
}
