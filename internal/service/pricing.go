package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ClientStore interface {
	Get(ctx context.Context, id string) (*domain.Client, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Client, error)
	SavePartnerState(ctx context.Context, c *domain.Client) error
	CreateReferral(ctx context.Context, ref *domain.Referral) error
}

type MouStore interface {
	Create(ctx context.Context, m *domain.Mou) error
	Get(ctx context.Context, id string) (*domain.Mou, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Mou, error)
	FindGoverningByUnit(ctx context.Context, unit domain.UnitRef) (*domain.Mou, error)
	Update(ctx context.Context, m *domain.Mou) error
}

// PaymentCreator is the part of PaymentService used to schedule MoU installments.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*domain.Payment, error)
}

var maxDiscountPercent = decimal.NewFromInt(100)

type PricingPolicy struct {
	PartnerDiscountPercent   decimal.Decimal
	ReferralUpgradeThreshold int
}

func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		PartnerDiscountPercent:   decimal.NewFromInt(50),
		ReferralUpgradeThreshold: 2,
	}
}

// PartnerDiscount returns the discount percentage that applies to a client.
// Non-standard partners get the partner rate; a higher custom rate replaces
// it. Rates never stack.
func PartnerDiscount(c domain.Client, partnerPct decimal.Decimal) (decimal.Decimal, domain.PriceSource) {
	pct, source := decimal.Zero, domain.PriceList
	if c.PartnerCategory != "" && c.PartnerCategory != domain.PartnerStandard {
		pct, source = partnerPct, domain.PricePartner
	}
	if c.CustomDiscountPercent != nil {
		// stored rates outside 0..100 would price below zero or above list
		custom := decimal.Min(decimal.Max(*c.CustomDiscountPercent, decimal.Zero), maxDiscountPercent)
		if custom.GreaterThan(pct) {
			pct, source = custom, domain.PriceCustom
		}
	}
	return pct, source
}

// ApplyDiscount prices list at pct off, rounded down to the currency unit.
func ApplyDiscount(list, pct decimal.Decimal) decimal.Decimal {
	return list.Sub(domain.PercentOf(list, pct)).Truncate(domain.CurrencyScale)
}

// MaybeUpgrade promotes a standard client to referral partner once it has
// made threshold referrals. It never demotes.
func MaybeUpgrade(c *domain.Client, threshold int) bool {
	if c.PartnerCategory != domain.PartnerStandard || threshold <= 0 || c.ReferralCount < threshold {
		return false
	}
	c.PartnerCategory = domain.PartnerReferral
	return true
}

type PricingService struct {
	tx       TxRunner
	clients  ClientStore
	mous     MouStore
	payments PaymentCreator
	policy   PricingPolicy
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewPricingService(tx TxRunner, clients ClientStore, mous MouStore, payments PaymentCreator, policy PricingPolicy, log logrus.FieldLogger) *PricingService {
	return &PricingService{
		tx:       tx,
		clients:  clients,
		mous:     mous,
		payments: payments,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

func (s *PricingService) QuotePrice(ctx context.Context, clientID string, listPrice decimal.Decimal) (domain.Quote, error) {
	if !listPrice.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: list price must be positive", domain.ErrInvalidArgument)
	}
	c, err := s.clients.Get(ctx, clientID)
	if err != nil {
		return domain.Quote{}, err
	}
	pct, source := PartnerDiscount(*c, s.policy.PartnerDiscountPercent)
	return domain.Quote{
		ListPrice:       listPrice,
		DiscountPercent: pct,
		FinalPrice:      ApplyDiscount(listPrice, pct),
		Source:          source,
	}, nil
}

// RecordReferral stores a referral and bumps the referrer's count, upgrading
// it to referral partner at the configured threshold.
func (s *PricingService) RecordReferral(ctx context.Context, referrerID, referredID string, referringDept *string) (*domain.Client, error) {
	if referrerID == "" || referredID == "" {
		return nil, fmt.Errorf("%w: referrer and referred client are required", domain.ErrInvalidArgument)
	}
	if referrerID == referredID {
		return nil, fmt.Errorf("%w: client cannot refer itself", domain.ErrInvalidArgument)
	}

	var referrer *domain.Client
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		referrer, err = s.clients.GetForUpdate(ctx, referrerID)
		if err != nil {
			return err
		}
		if _, err := s.clients.Get(ctx, referredID); err != nil {
			return err
		}

		ref := &domain.Referral{
			ID:                    uuid.NewString(),
			ReferrerClientID:      referrerID,
			ReferredClientID:      referredID,
			ReferringDepartmentID: referringDept,
			CreatedAt:             s.now().UTC(),
		}
		if err := s.clients.CreateReferral(ctx, ref); err != nil {
			return err
		}

		referrer.ReferralCount++
		if MaybeUpgrade(referrer, s.policy.ReferralUpgradeThreshold) {
			s.log.WithFields(logrus.Fields{"client_id": referrerID, "referrals": referrer.ReferralCount}).Info("client upgraded to referral partner")
		}
		return s.clients.SavePartnerState(ctx, referrer)
	})
	if err != nil {
		return nil, err
	}
	return referrer, nil
}

type CreateMouInput struct {
	Unit              domain.UnitRef
	ClientID          *string
	DepartmentID      *string
	Category          domain.Category
	DealValue         decimal.Decimal
	AnnualMaintenance *decimal.Decimal
	Terms             domain.PaymentTerms
	ExpiresAt         *time.Time
}

// CreateMou opens a draft MoU. A unit can be governed by one MoU at a time.
func (s *PricingService) CreateMou(ctx context.Context, in CreateMouInput) (*domain.Mou, error) {
	now := s.now().UTC()
	m := &domain.Mou{
		ID:                uuid.NewString(),
		Unit:              in.Unit,
		ClientID:          in.ClientID,
		DepartmentID:      in.DepartmentID,
		Category:          in.Category,
		DealValue:         in.DealValue,
		AnnualMaintenance: in.AnnualMaintenance,
		Terms:             in.Terms,
		Status:            domain.MouDraft,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if m.Terms.IsZero() {
		m.Terms = domain.DefaultPaymentTerms()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.mous.FindGoverningByUnit(ctx, m.Unit)
		switch {
		case err == nil:
			return fmt.Errorf("%w: unit %s/%s already has mou %s", domain.ErrPricingConflict, m.Unit.Kind, m.Unit.ID, existing.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return s.mous.Create(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"mou_id": m.ID, "unit_id": m.Unit.ID, "deal_value": m.DealValue}).Info("mou created")
	return m, nil
}

func (s *PricingService) GetMou(ctx context.Context, id string) (*domain.Mou, error) {
	return s.mous.Get(ctx, id)
}

func (s *PricingService) TransitionMou(ctx context.Context, id string, next domain.MouStatus) (*domain.Mou, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown mou status %q", domain.ErrInvalidArgument, next)
	}
	var m *domain.Mou
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.mous.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := m.TransitionTo(next, s.now().UTC()); err != nil {
			return err
		}
		return s.mous.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ScheduleMouPayments creates one pending payment per non-zero installment.
// Only signed, active or renewed MoUs can be scheduled, and only once.
func (s *PricingService) ScheduleMouPayments(ctx context.Context, id string) ([]*domain.Payment, error) {
	var out []*domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.mous.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch m.Status {
		case domain.MouSigned, domain.MouActive, domain.MouRenewed:
		default:
			return fmt.Errorf("%w: mou %s is %s", domain.ErrInvalidTransition, m.ID, m.Status)
		}
		if m.PaymentsScheduled {
			return fmt.Errorf("%w: mou %s payments already scheduled", domain.ErrInvalidTransition, m.ID)
		}

		for _, inst := range m.Schedule() {
			if !inst.Amount.IsPositive() {
				continue
			}
			p, err := s.payments.CreatePayment(ctx, CreatePaymentInput{
				Unit:             m.Unit,
				GrossAmount:      inst.Amount,
				Category:         m.Category,
				AutoSplit:        true,
				ClientID:         m.ClientID,
				DepartmentID:     m.DepartmentID,
				IsFirstMilestone: inst.Milestone == domain.MilestoneSigning,
				Notes:            fmt.Sprintf("mou %s %s %s%%", m.ID, inst.Milestone, inst.Percentage.String()),
			})
			if err != nil {
				return fmt.Errorf("schedule %s installment: %w", inst.Milestone, err)
			}
			out = append(out, p)
		}

		m.PaymentsScheduled = true
		m.UpdatedAt = s.now().UTC()
		return s.mous.Update(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"mou_id": id, "payments": len(out)}).Info("mou payments scheduled")
	return out, nil
}

// QuoteDeal prices a deal on a unit. A governing MoU fixes the price and its
// installments; asking for list pricing on such a unit is a conflict.
func (s *PricingService) QuoteDeal(ctx context.Context, unit domain.UnitRef, clientID string, listPrice decimal.Decimal) (domain.Quote, error) {
	if err := unit.Validate(); err != nil {
		return domain.Quote{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	m, err := s.mous.FindGoverningByUnit(ctx, unit)
	switch {
	case err == nil:
		if listPrice.IsPositive() {
			return domain.Quote{}, fmt.Errorf("%w: unit %s/%s is priced by mou %s", domain.ErrPricingConflict, unit.Kind, unit.ID, m.ID)
		}
		mouID := m.ID
		return domain.Quote{
			ListPrice:       m.DealValue,
			DiscountPercent: decimal.Zero,
			FinalPrice:      m.DealValue,
			Source:          domain.PriceMou,
			Installments:    m.Schedule(),
			MouID:           &mouID,
		}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Quote{}, err
	}

	return s.QuotePrice(ctx, clientID, listPrice)
}
