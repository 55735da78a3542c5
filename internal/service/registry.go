package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"revenue-ledger/internal/clients"
	"revenue-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SplitModelRegistry is what the payment flow reads models from. Both the
// persisted RegistryService and split.MemoryRegistry satisfy it.
type SplitModelRegistry interface {
	Get(ctx context.Context, category domain.Category) (domain.SplitModel, error)
	Set(ctx context.Context, category domain.Category, shares []domain.Share) (domain.SplitModel, error)
	List(ctx context.Context) ([]domain.SplitModel, error)
}

type SplitModelStore interface {
	Get(ctx context.Context, category domain.Category) (domain.SplitModel, error)
	Upsert(ctx context.Context, m domain.SplitModel) (domain.SplitModel, error)
	List(ctx context.Context) ([]domain.SplitModel, error)
}

// Cache is the subset of the redis client the services use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const splitModelCacheKey = "split_model:"

// RegistryService serves split models from the database through a
// read-through cache. Writes validate before touching storage and drop the
// cached copy afterwards.
type RegistryService struct {
	store SplitModelStore
	cache Cache
	ttl   time.Duration
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewRegistryService(store SplitModelStore, cache Cache, ttl time.Duration, log logrus.FieldLogger) *RegistryService {
	return &RegistryService{store: store, cache: cache, ttl: ttl, log: log, now: time.Now}
}

func (s *RegistryService) Get(ctx context.Context, category domain.Category) (domain.SplitModel, error) {
	if !category.Valid() {
		return domain.SplitModel{}, fmt.Errorf("split model %q: %w", category, domain.ErrNotFound)
	}

	if m, ok := s.cached(ctx, category); ok {
		return m, nil
	}

	m, err := s.store.Get(ctx, category)
	if err != nil {
		return domain.SplitModel{}, err
	}
	s.remember(ctx, m)
	return m, nil
}

func (s *RegistryService) Set(ctx context.Context, category domain.Category, shares []domain.Share) (domain.SplitModel, error) {
	id := uuid.NewString()
	if existing, err := s.store.Get(ctx, category); err == nil {
		id = existing.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SplitModel{}, err
	}

	m, err := domain.NewSplitModel(id, category, shares)
	if err != nil {
		return domain.SplitModel{}, err
	}
	m.UpdatedAt = s.now().UTC()

	saved, err := s.store.Upsert(ctx, m)
	if err != nil {
		return domain.SplitModel{}, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, splitModelCacheKey+string(category)); err != nil {
			s.log.WithError(err).WithField("category", category).Warn("split model cache invalidation failed")
		}
	}
	s.log.WithFields(logrus.Fields{"category": category, "shares": len(saved.Shares)}).Info("split model updated")
	return saved, nil
}

func (s *RegistryService) List(ctx context.Context) ([]domain.SplitModel, error) {
	return s.store.List(ctx)
}

func (s *RegistryService) cached(ctx context.Context, category domain.Category) (domain.SplitModel, bool) {
	if s.cache == nil {
		return domain.SplitModel{}, false
	}
	raw, err := s.cache.Get(ctx, splitModelCacheKey+string(category))
	if err != nil {
		if !errors.Is(err, clients.ErrCacheMiss) {
			s.log.WithError(err).WithField("category", category).Debug("split model cache read failed")
		}
		return domain.SplitModel{}, false
	}
	var m domain.SplitModel
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return domain.SplitModel{}, false
	}
	// A cached copy that no longer validates is ignored.
	if domain.ValidateShares(m.Category, m.Shares) != nil || m.Category != category {
		return domain.SplitModel{}, false
	}
	return m, true
}

func (s *RegistryService) remember(ctx context.Context, m domain.SplitModel) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, splitModelCacheKey+string(m.Category), string(data), s.ttl); err != nil {
		s.log.WithError(err).WithField("category", m.Category).Debug("split model cache write failed")
	}
}
