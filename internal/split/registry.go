package split

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRegistry keeps split models in process. Set swaps the whole model
// under the write lock, so readers only ever see validated tables.
type MemoryRegistry struct {
	mu     sync.RWMutex
	models map[domain.Category]domain.SplitModel
	now    func() time.Time
}

func NewMemoryRegistry(seed ...domain.SplitModel) *MemoryRegistry {
	r := &MemoryRegistry{
		models: make(map[domain.Category]domain.SplitModel, len(seed)),
		now:    time.Now,
	}
	for _, m := range seed {
		r.models[m.Category] = m.Clone()
	}
	return r
}

func (r *MemoryRegistry) Get(_ context.Context, category domain.Category) (domain.SplitModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[category]
	if !ok {
		return domain.SplitModel{}, fmt.Errorf("split model %q: %w", category, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

func (r *MemoryRegistry) Set(_ context.Context, category domain.Category, shares []domain.Share) (domain.SplitModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	if existing, ok := r.models[category]; ok {
		id = existing.ID
	}
	m, err := domain.NewSplitModel(id, category, shares)
	if err != nil {
		return domain.SplitModel{}, err
	}
	m.UpdatedAt = r.now()
	r.models[category] = m
	return m.Clone(), nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]domain.SplitModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.SplitModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// DefaultModels are the allocation tables shipped with a fresh install.
func DefaultModels() []domain.SplitModel {
	return []domain.SplitModel{
		{Category: domain.CategorySoftware, Shares: []domain.Share{
			{Recipient: domain.RecipientJicate, Percentage: pct(40)},
			{Recipient: domain.RecipientDepartment, Percentage: pct(40)},
			{Recipient: domain.RecipientInstitution, Percentage: pct(20)},
		}},
		{Category: domain.CategoryTrainingCommunity, Shares: []domain.Share{
			{Recipient: domain.RecipientCohort, Percentage: pct(40)},
			{Recipient: domain.RecipientDepartment, Percentage: pct(30)},
			{Recipient: domain.RecipientJicate, Percentage: pct(20)},
			{Recipient: domain.RecipientInstitution, Percentage: pct(10)},
		}},
		{Category: domain.CategoryTrainingCorporate, Shares: []domain.Share{
			{Recipient: domain.RecipientFaculty, Percentage: pct(40)},
			{Recipient: domain.RecipientDepartment, Percentage: pct(30)},
			{Recipient: domain.RecipientJicate, Percentage: pct(20)},
			{Recipient: domain.RecipientInstitution, Percentage: pct(10)},
		}},
		{Category: domain.CategoryContent, Shares: []domain.Share{
			{Recipient: domain.RecipientFaculty, Percentage: pct(50)},
			{Recipient: domain.RecipientDepartment, Percentage: pct(30)},
			{Recipient: domain.RecipientJicate, Percentage: pct(20)},
		}},
	}
}
