package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"revenue-ledger/internal/clients"
	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Settler settles one stale payment. PaymentService implements it.
type Settler interface {
	AutoSettle(ctx context.Context, id string) (AutoSettleOutcome, error)
}

type StalePaymentLister interface {
	ListPendingCreatedBefore(ctx context.Context, before time.Time, after *domain.PaymentCursor, limit int) ([]domain.Payment, error)
}

// ReportArchiver stores a finished run report and returns where it went.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, name string, data []byte) (string, error)
}

type SettlementEvents interface {
	SettlementCompleted(ctx context.Context, report domain.SettlementReport)
}

// RunStore keeps recent run reports for the dashboard.
type RunStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

const (
	settlementRunKey    = "settlement_runs:"
	settlementRunSetKey = "settlement_run_ids"
	settlementRunTTL    = 7 * 24 * time.Hour
)

type SettlementService struct {
	payments  StalePaymentLister
	settler   Settler
	archiver  ReportArchiver
	runs      RunStore
	events    SettlementEvents
	batchSize int
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewSettlementService(
	payments StalePaymentLister,
	settler Settler,
	archiver ReportArchiver,
	runs RunStore,
	events SettlementEvents,
	batchSize int,
	log logrus.FieldLogger,
) *SettlementService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SettlementService{
		payments:  payments,
		settler:   settler,
		archiver:  archiver,
		runs:      runs,
		events:    events,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// RunSettlementBatch settles every pending payment created more than
// thresholdHours ago. Held payments are counted as flagged and left alone.
// A failure on one payment is recorded and the sweep moves on.
func (s *SettlementService) RunSettlementBatch(ctx context.Context, thresholdHours int) (domain.SettlementReport, error) {
	if thresholdHours <= 0 {
		return domain.SettlementReport{}, fmt.Errorf("%w: threshold must be positive, got %d", domain.ErrInvalidArgument, thresholdHours)
	}

	report := domain.SettlementReport{
		RunID:          uuid.NewString(),
		ThresholdHours: thresholdHours,
		Failures:       []domain.PaymentFailure{},
		StartedAt:      s.now().UTC(),
	}
	log := s.log.WithField("run_id", report.RunID)

	cutoff := report.StartedAt.Add(-time.Duration(thresholdHours) * time.Hour)

	// rows left pending (held or failed) stay behind the cursor, so later
	// pages always reach newer candidates
	var (
		after *domain.PaymentCursor
		stale int
	)
	for {
		page, err := s.payments.ListPendingCreatedBefore(ctx, cutoff, after, s.batchSize)
		if err != nil {
			if after == nil {
				return domain.SettlementReport{}, fmt.Errorf("list stale payments: %w", err)
			}
			log.WithError(err).Warn("list stale payments page")
			break
		}
		stale += len(page)
		for _, p := range page {
			s.settleOne(ctx, p, &report, log)
		}
		if len(page) < s.batchSize || ctx.Err() != nil {
			break
		}
		last := page[len(page)-1]
		after = &domain.PaymentCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	report.FinishedAt = s.now().UTC()
	metrics.RecordSettlementRun(report.ProcessedCount, report.FlaggedCount, len(report.Failures), report.FinishedAt.Sub(report.StartedAt))

	s.archive(ctx, &report, log)
	s.remember(ctx, report, log)
	if s.events != nil {
		s.events.SettlementCompleted(ctx, report)
	}

	log.WithFields(logrus.Fields{
		"processed": report.ProcessedCount,
		"flagged":   report.FlaggedCount,
		"failed":    len(report.Failures),
		"stale":     stale,
	}).Info("settlement run finished")
	return report, nil
}

func (s *SettlementService) settleOne(ctx context.Context, p domain.Payment, report *domain.SettlementReport, log logrus.FieldLogger) {
	if err := ctx.Err(); err != nil {
		report.Failures = append(report.Failures, domain.PaymentFailure{PaymentID: p.ID, Error: err.Error()})
		return
	}
	if p.HeldForReview {
		report.FlaggedCount++
		return
	}

	result, err := s.settler.AutoSettle(ctx, p.ID)
	if err != nil {
		log.WithError(err).WithField("payment_id", p.ID).Warn("settlement failed")
		report.Failures = append(report.Failures, domain.PaymentFailure{PaymentID: p.ID, Error: err.Error()})
		return
	}
	switch result {
	case AutoSettleProcessed:
		report.ProcessedCount++
	case AutoSettleFlagged:
		report.FlaggedCount++
	}
}

func (s *SettlementService) archive(ctx context.Context, report *domain.SettlementReport, log logrus.FieldLogger) {
	if s.archiver == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		log.WithError(err).Warn("encode settlement report")
		return
	}
	name := fmt.Sprintf("settlement-%s-%s.json", report.StartedAt.Format("20060102T150405Z"), report.RunID)
	key, err := s.archiver.ArchiveReport(ctx, name, data)
	if err != nil {
		log.WithError(err).Warn("archive settlement report")
		return
	}
	report.ArchiveKey = key
}

func (s *SettlementService) remember(ctx context.Context, report domain.SettlementReport, log logrus.FieldLogger) {
	if s.runs == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	key := settlementRunKey + report.RunID
	if err := s.runs.Set(ctx, key, string(data), settlementRunTTL); err != nil {
		log.WithError(err).Warn("store settlement report")
		return
	}
	if err := s.runs.SAdd(ctx, settlementRunSetKey, report.RunID); err != nil {
		log.WithError(err).Warn("index settlement report")
	}
}

// ListRuns returns the stored run reports, newest first. Reports whose
// records expired are skipped.
func (s *SettlementService) ListRuns(ctx context.Context, limit int) ([]domain.SettlementReport, error) {
	if s.runs == nil {
		return []domain.SettlementReport{}, nil
	}
	ids, err := s.runs.SMembers(ctx, settlementRunSetKey)
	if err != nil {
		return nil, fmt.Errorf("list settlement runs: %w", err)
	}

	out := make([]domain.SettlementReport, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SettlementService) GetRun(ctx context.Context, runID string) (domain.SettlementReport, error) {
	if s.runs == nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement run %s: %w", runID, domain.ErrNotFound)
	}
	raw, err := s.runs.Get(ctx, settlementRunKey+runID)
	if errors.Is(err, clients.ErrCacheMiss) {
		return domain.SettlementReport{}, fmt.Errorf("settlement run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SettlementReport{}, err
	}
	var r domain.SettlementReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("decode settlement run %s: %w", runID, err)
	}
	return r, nil
}
