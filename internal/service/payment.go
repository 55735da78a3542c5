package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/metrics"
	"revenue-ledger/internal/split"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PaymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Payment, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, after *domain.PaymentCursor, limit int) ([]domain.Payment, error)
	SaveState(ctx context.Context, p *domain.Payment, prevStatus domain.PaymentStatus, prevSplits bool) error
	Delete(ctx context.Context, id string) error
}

// ReferralLookup finds a referral of the client made by another department.
type ReferralLookup interface {
	CrossDepartmentReferral(ctx context.Context, clientID, departmentID string) (string, bool, error)
}

type PaymentEvents interface {
	PaymentReceived(ctx context.Context, p *domain.Payment, entries []domain.LedgerEntry)
}

type CreatePaymentInput struct {
	Unit                      domain.UnitRef
	GrossAmount               decimal.Decimal
	Category                  domain.Category
	AutoSplit                 bool
	ClientID                  *string
	DepartmentID              *string
	DepartmentDiscountPercent decimal.Decimal
	IsFirstMilestone          bool
	DueAt                     *time.Time
	Notes                     string
}

type PaymentService struct {
	tx        TxRunner
	payments  PaymentStore
	ledger    *LedgerService
	registry  SplitModelRegistry
	referrals ReferralLookup
	calc      *split.Calculator
	events    PaymentEvents
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewPaymentService(
	tx TxRunner,
	payments PaymentStore,
	ledger *LedgerService,
	registry SplitModelRegistry,
	referrals ReferralLookup,
	calc *split.Calculator,
	events PaymentEvents,
	log logrus.FieldLogger,
) *PaymentService {
	return &PaymentService{
		tx:        tx,
		payments:  payments,
		ledger:    ledger,
		registry:  registry,
		referrals: referrals,
		calc:      calc,
		events:    events,
		log:       log,
		now:       time.Now,
	}
}

// resolveModel maps a missing model to ErrNoSplitModel.
func (s *PaymentService) resolveModel(ctx context.Context, category domain.Category) (domain.SplitModel, error) {
	m, err := s.registry.Get(ctx, category)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SplitModel{}, fmt.Errorf("%w: %q", domain.ErrNoSplitModel, category)
	}
	return m, err
}

// CalculateSplit runs the calculator against the registered model without
// persisting anything.
func (s *PaymentService) CalculateSplit(ctx context.Context, gross decimal.Decimal, category domain.Category, adj split.Adjustments) (split.Result, error) {
	model, err := s.resolveModel(ctx, category)
	if err != nil {
		metrics.RecordCalculation(string(category), outcome(err))
		return split.Result{}, err
	}
	res, err := s.calc.Calculate(gross, model, adj)
	metrics.RecordCalculation(string(category), outcome(err))
	return res, err
}

func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*domain.Payment, error) {
	now := s.now().UTC()
	p := &domain.Payment{
		ID:                        uuid.NewString(),
		Unit:                      in.Unit,
		ClientID:                  in.ClientID,
		DepartmentID:              in.DepartmentID,
		GrossAmount:               in.GrossAmount,
		Category:                  in.Category,
		Status:                    domain.PaymentPending,
		AutoSplit:                 in.AutoSplit,
		DepartmentDiscountPercent: in.DepartmentDiscountPercent,
		IsFirstMilestone:          in.IsFirstMilestone,
		Notes:                     in.Notes,
		CreatedAt:                 now,
		DueAt:                     in.DueAt,
		UpdatedAt:                 now,
	}
	if strings.Contains(p.Notes, domain.LegacyHoldMarker) {
		p.Hold("legacy notes marker")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !p.GrossAmount.Equal(p.GrossAmount.Truncate(domain.CurrencyScale)) {
		return nil, fmt.Errorf("%w: gross amount has sub-unit precision", domain.ErrInvalidPayment)
	}
	// the discount is fixed at creation, so a value the calculator rejects
	// would leave the payment unreceivable
	if err := s.calc.ValidateAdjustments(split.Adjustments{DepartmentDiscountPercent: p.DepartmentDiscountPercent}); err != nil {
		return nil, err
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"payment_id": p.ID, "category": p.Category, "gross": p.GrossAmount}).Info("payment created")
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.Get(ctx, id)
}

// ConfirmReceived is the manual path into received. Confirming a payment that
// is already received only computes splits that were never computed.
func (s *PaymentService) ConfirmReceived(ctx context.Context, id string, autoSplit bool) (*domain.Payment, error) {
	var (
		p           *domain.Payment
		entries     []domain.LedgerEntry
		wasReceived bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		wasReceived = p.Status == domain.PaymentReceived
		entries, err = s.receive(ctx, p, autoSplit, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !wasReceived || len(entries) > 0 {
		s.afterReceive(ctx, p, entries, "manual")
	}
	return p, nil
}

// receive applies the received transition to a locked payment. It must run
// inside a transaction: ledger rows and the payment update commit together.
func (s *PaymentService) receive(ctx context.Context, p *domain.Payment, calculate, auto bool) ([]domain.LedgerEntry, error) {
	prevStatus, prevSplits := p.Status, p.SplitsCalculated
	at := s.now().UTC()

	alreadyReceived := p.Status == domain.PaymentReceived
	if alreadyReceived && (!calculate || p.SplitsCalculated) {
		return nil, nil
	}
	if !alreadyReceived && !p.Status.CanTransitionTo(domain.PaymentReceived) {
		return nil, fmt.Errorf("%w: payment %s %s -> %s", domain.ErrInvalidTransition, p.ID, p.Status, domain.PaymentReceived)
	}

	model, err := s.resolveModel(ctx, p.Category)
	if err != nil {
		metrics.RecordCalculation(string(p.Category), outcome(err))
		return nil, err
	}

	var entries []domain.LedgerEntry
	if calculate && !p.SplitsCalculated {
		adj, referringDept, err := s.adjustmentsFor(ctx, p)
		if err != nil {
			return nil, err
		}
		res, err := s.calc.Calculate(p.GrossAmount, model, adj)
		metrics.RecordCalculation(string(p.Category), outcome(err))
		if err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		entries, err = s.ledger.RecordAllocations(ctx, p, res, referringDept)
		if err != nil {
			return nil, err
		}
		p.SplitsCalculated = true
	}

	if !alreadyReceived {
		if err := p.TransitionTo(domain.PaymentReceived, at); err != nil {
			return nil, err
		}
		if auto {
			p.MarkAutoProcessed(at)
		}
	}
	p.UpdatedAt = at

	if err := s.payments.SaveState(ctx, p, prevStatus, prevSplits); err != nil {
		return nil, err
	}
	return entries, nil
}

// adjustmentsFor reads the adjustment inputs stored on the payment. The
// referral condition is resolved now; later referrals never reach back to
// payments that were already split.
func (s *PaymentService) adjustmentsFor(ctx context.Context, p *domain.Payment) (split.Adjustments, *string, error) {
	adj := split.Adjustments{
		DepartmentDiscountPercent: p.DepartmentDiscountPercent,
		IsFirstMilestone:          p.IsFirstMilestone,
	}
	if !p.IsFirstMilestone || p.Category != domain.CategorySoftware || p.ClientID == nil || s.referrals == nil {
		return adj, nil, nil
	}

	dept := ""
	if p.DepartmentID != nil {
		dept = *p.DepartmentID
	}
	referring, ok, err := s.referrals.CrossDepartmentReferral(ctx, *p.ClientID, dept)
	if err != nil {
		return adj, nil, err
	}
	if !ok {
		return adj, nil, nil
	}
	adj.HasCrossDepartmentReferral = true
	return adj, &referring, nil
}

func (s *PaymentService) afterReceive(ctx context.Context, p *domain.Payment, entries []domain.LedgerEntry, path string) {
	for _, e := range entries {
		metrics.RecordAllocation(string(e.Recipient), e.Amount.InexactFloat64())
	}
	s.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"path":       path,
		"entries":    len(entries),
	}).Info("payment received")
	if s.events != nil {
		s.events.PaymentReceived(ctx, p, entries)
	}
}

// TransitionPayment moves a payment along the status table. Moving to received
// goes through the full receive logic with the payment's own split flag.
func (s *PaymentService) TransitionPayment(ctx context.Context, id string, next domain.PaymentStatus) (*domain.Payment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, next)
	}
	if next == domain.PaymentReceived {
		p, err := s.payments.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.ConfirmReceived(ctx, id, p.AutoSplit)
	}

	return s.mutate(ctx, id, func(p *domain.Payment, at time.Time) error {
		return p.TransitionTo(next, at)
	})
}

// FlagPayment holds a payment out of automatic settlement.
func (s *PaymentService) FlagPayment(ctx context.Context, id, reason string) (*domain.Payment, error) {
	return s.mutate(ctx, id, func(p *domain.Payment, at time.Time) error {
		if p.Status.Terminal() {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
		}
		p.Hold(reason)
		p.UpdatedAt = at
		return nil
	})
}

func (s *PaymentService) ReleasePayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.mutate(ctx, id, func(p *domain.Payment, at time.Time) error {
		p.Release()
		p.UpdatedAt = at
		return nil
	})
}

func (s *PaymentService) mutate(ctx context.Context, id string, fn func(p *domain.Payment, at time.Time) error) (*domain.Payment, error) {
	var p *domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prevStatus, prevSplits := p.Status, p.SplitsCalculated
		if err := fn(p, s.now().UTC()); err != nil {
			return err
		}
		return s.payments.SaveState(ctx, p, prevStatus, prevSplits)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePayment removes a payment. Without cascade a payment that has ledger
// entries is kept and ErrHasLedgerEntries returned.
func (s *PaymentService) DeletePayment(ctx context.Context, id string, cascade bool) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.payments.GetForUpdate(ctx, id); err != nil {
			return err
		}
		n, err := s.ledger.CountByPayment(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			if !cascade {
				return fmt.Errorf("payment %s has %d entries: %w", id, n, domain.ErrHasLedgerEntries)
			}
			if err := s.ledger.DeleteByPayment(ctx, id); err != nil {
				return err
			}
		}
		if err := s.payments.Delete(ctx, id); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"payment_id": id, "ledger_entries": n}).Info("payment deleted")
		return nil
	})
}

func (s *PaymentService) ListLedgerEntries(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	if _, err := s.payments.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.ledger.ListByPayment(ctx, paymentID)
}

// AutoSettleOutcome classifies what the sweep did with one payment.
type AutoSettleOutcome int

const (
	AutoSettleSkipped AutoSettleOutcome = iota
	AutoSettleProcessed
	AutoSettleFlagged
)

// AutoSettle re-reads the payment under lock and settles it unless it is held
// or no longer pending.
func (s *PaymentService) AutoSettle(ctx context.Context, id string) (AutoSettleOutcome, error) {
	var (
		p       *domain.Payment
		entries []domain.LedgerEntry
		result  = AutoSettleSkipped
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentPending {
			return nil
		}
		if p.HeldForReview {
			result = AutoSettleFlagged
			return nil
		}
		entries, err = s.receive(ctx, p, p.AutoSplit, true)
		if err != nil {
			return err
		}
		result = AutoSettleProcessed
		return nil
	})
	if err != nil {
		return AutoSettleSkipped, err
	}
	if result == AutoSettleProcessed {
		s.afterReceive(ctx, p, entries, "settlement")
	}
	return result, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoSplitModel):
		return "no_split_model"
	case errors.Is(err, domain.ErrOverAdjusted):
		return "over_adjusted"
	case errors.Is(err, domain.ErrInvalidModel):
		return "invalid_model"
	case errors.Is(err, domain.ErrInvalidAdjustment):
		return "invalid_adjustment"
	case errors.Is(err, domain.ErrInvalidPayment):
		return "invalid_payment"
	default:
		return "error"
	}
}
