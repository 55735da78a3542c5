package service

import (
	"context"
	"fmt"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Locker is a distributed mutex. RedisClient implements it.
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type BatchRunner interface {
	RunSettlementBatch(ctx context.Context, thresholdHours int) (domain.SettlementReport, error)
}

// ReportCleaner drops archived reports past retention.
type ReportCleaner interface {
	CleanupOlderThan(d time.Duration) (int, error)
}

type SchedulerConfig struct {
	Cron           string
	ThresholdHours int
	LockTTL        time.Duration
	Retention      time.Duration
}

const settlementLockKey = "locks:settlement"

// Scheduler fires the settlement sweep on a cron schedule. With a Locker only
// one replica sweeps at a time; the others skip the tick.
type Scheduler struct {
	cron    *cron.Cron
	cfg     SchedulerConfig
	runner  BatchRunner
	locker  Locker
	cleaner ReportCleaner
	log     logrus.FieldLogger
}

func NewScheduler(cfg SchedulerConfig, runner BatchRunner, locker Locker, cleaner ReportCleaner, log logrus.FieldLogger) *Scheduler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cron.PrintfLogger(log)), cron.WithChain(cron.Recover(cron.PrintfLogger(log)))),
		cfg:     cfg,
		runner:  runner,
		locker:  locker,
		cleaner: cleaner,
		log:     log,
	}
}

// Start registers the jobs and starts the cron loop. Jobs run with a context
// derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if _, _, err := s.RunSettlement(ctx); err != nil {
			s.log.WithError(err).Error("scheduled settlement failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule settlement %q: %w", s.cfg.Cron, err)
	}

	if s.cleaner != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.AddFunc("@hourly", s.cleanup); err != nil {
			return fmt.Errorf("schedule report cleanup: %w", err)
		}
	}

	s.cron.Start()
	s.log.WithFields(logrus.Fields{"cron": s.cfg.Cron, "threshold_hours": s.cfg.ThresholdHours}).Info("settlement scheduler started")
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

// RunSettlement runs one sweep under the lock. It reports false when another
// holder had the lock and nothing ran.
func (s *Scheduler) RunSettlement(ctx context.Context) (domain.SettlementReport, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()

	if s.locker != nil {
		token := uuid.NewString()
		ok, err := s.locker.AcquireLock(ctx, settlementLockKey, token, s.cfg.LockTTL)
		if err != nil {
			return domain.SettlementReport{}, false, fmt.Errorf("acquire settlement lock: %w", err)
		}
		if !ok {
			metrics.RecordSettlementSkipped()
			s.log.Debug("settlement lock held elsewhere, skipping")
			return domain.SettlementReport{}, false, nil
		}
		defer func() {
			// Released on a fresh context so an expired sweep still frees the lock.
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			if err := s.locker.ReleaseLock(rctx, settlementLockKey, token); err != nil {
				s.log.WithError(err).Warn("release settlement lock")
			}
		}()
	}

	report, err := s.runner.RunSettlementBatch(ctx, s.cfg.ThresholdHours)
	if err != nil {
		return domain.SettlementReport{}, true, err
	}
	return report, true, nil
}

func (s *Scheduler) cleanup() {
	n, err := s.cleaner.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		s.log.WithError(err).Warn("report cleanup failed")
		return
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("old settlement reports removed")
	}
}
