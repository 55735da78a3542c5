package service

import (
	"context"
	"fmt"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/metrics"
	"revenue-ledger/internal/split"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type LedgerStore interface {
	InsertMany(ctx context.Context, entries []domain.LedgerEntry) error
	CountByPayment(ctx context.Context, paymentID string) (int, error)
	DeleteByPayment(ctx context.Context, paymentID string) (int64, error)
	ListByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error)
	GetForUpdate(ctx context.Context, id string) (*domain.LedgerEntry, error)
	SaveStatus(ctx context.Context, e *domain.LedgerEntry, prev domain.LedgerStatus) error
	Summarize(ctx context.Context, f domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error)
}

// TxRunner runs fn inside one transaction carried by ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type LedgerEvents interface {
	LedgerTransitioned(ctx context.Context, operatorID *int64, status domain.LedgerStatus, res domain.BulkResult)
}

type LedgerService struct {
	tx     TxRunner
	store  LedgerStore
	events LedgerEvents
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewLedgerService(tx TxRunner, store LedgerStore, events LedgerEvents, log logrus.FieldLogger) *LedgerService {
	return &LedgerService{tx: tx, store: store, events: events, log: log, now: time.Now}
}

// RecordAllocations persists one calculated entry per allocation. The
// department rows resolve to the payment's department and the referral bonus
// to the referring department.
func (s *LedgerService) RecordAllocations(ctx context.Context, p *domain.Payment, res split.Result, referringDept *string) ([]domain.LedgerEntry, error) {
	at := s.now().UTC()
	entries := make([]domain.LedgerEntry, 0, len(res.Allocations))
	for _, a := range res.Allocations {
		e := domain.LedgerEntry{
			ID:         uuid.NewString(),
			PaymentID:  p.ID,
			Recipient:  a.Recipient,
			Amount:     a.Amount,
			Percentage: a.Percentage,
			Status:     domain.LedgerCalculated,
			CreatedAt:  at,
		}
		switch a.Recipient {
		case domain.RecipientDepartment, domain.RecipientDepartmentDiscount:
			e.RecipientID = p.DepartmentID
		case domain.RecipientReferralBonus:
			e.RecipientID = referringDept
		}
		entries = append(entries, e)
	}

	if err := s.store.InsertMany(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *LedgerService) CountByPayment(ctx context.Context, paymentID string) (int, error) {
	return s.store.CountByPayment(ctx, paymentID)
}

func (s *LedgerService) DeleteByPayment(ctx context.Context, paymentID string) error {
	n, err := s.store.DeleteByPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"payment_id": paymentID, "deleted": n}).Info("ledger entries deleted")
	return nil
}

func (s *LedgerService) ListByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	return s.store.ListByPayment(ctx, paymentID)
}

// Approve moves each calculated entry to approved. Ids succeed or fail
// independently.
func (s *LedgerService) Approve(ctx context.Context, ids []string, operatorID *int64) domain.BulkResult {
	at := s.now().UTC()
	res := s.transition(ctx, ids, domain.LedgerApproved, func(e *domain.LedgerEntry) error {
		return e.Approve(operatorID, at)
	})
	if s.events != nil {
		s.events.LedgerTransitioned(ctx, operatorID, domain.LedgerApproved, res)
	}
	return res
}

// MarkPaid moves each approved entry to paid. A nil paidAt means now.
func (s *LedgerService) MarkPaid(ctx context.Context, ids []string, paidAt *time.Time, operatorID *int64) domain.BulkResult {
	at := s.now().UTC()
	if paidAt != nil {
		at = paidAt.UTC()
	}
	res := s.transition(ctx, ids, domain.LedgerPaid, func(e *domain.LedgerEntry) error {
		return e.MarkPaid(at)
	})
	if s.events != nil {
		s.events.LedgerTransitioned(ctx, operatorID, domain.LedgerPaid, res)
	}
	return res
}

func (s *LedgerService) transition(ctx context.Context, ids []string, target domain.LedgerStatus, apply func(*domain.LedgerEntry) error) domain.BulkResult {
	res := domain.BulkResult{Updated: []domain.LedgerEntry{}, Failures: []domain.EntryFailure{}}
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		var updated domain.LedgerEntry
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.store.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			prev := e.Status
			if err := apply(e); err != nil {
				return err
			}
			if err := s.store.SaveStatus(ctx, e, prev); err != nil {
				return err
			}
			updated = *e
			return nil
		})
		metrics.RecordLedgerTransition(string(target), err == nil)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"entry_id": id, "target": target}).Info("ledger transition rejected")
			res.Failures = append(res.Failures, domain.EntryFailure{ID: id, Error: err.Error(), Err: err})
			continue
		}
		res.Updated = append(res.Updated, updated)
	}
	return res
}

func (s *LedgerService) Summarize(ctx context.Context, f domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error) {
	switch f.GroupBy {
	case "":
		f.GroupBy = domain.GroupByRecipient
	case domain.GroupByRecipient, domain.GroupByDepartment:
	default:
		return nil, fmt.Errorf("%w: unknown group_by %q", domain.ErrInvalidArgument, f.GroupBy)
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown ledger status %q", domain.ErrInvalidArgument, *f.Status)
	}
	return s.store.Summarize(ctx, f)
}
