package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"revenue-ledger/internal/clients"
	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/split"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

// snapshotter lets fakeTx roll a fake store back when fn fails.
type snapshotter interface {
	snapshot() (restore func())
}

type fakeTx struct {
	stores []snapshotter
	calls  int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	restores := make([]func(), 0, len(f.stores))
	for _, s := range f.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(ctx); err != nil {
		for _, r := range restores {
			r()
		}
		return err
	}
	return nil
}

type fakePayments struct {
	mu         sync.Mutex
	rows       map[string]domain.Payment
	beforeSave func(id string)
	listCalls  int
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: map[string]domain.Payment{}}
}

func (f *fakePayments) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make(map[string]domain.Payment, len(f.rows))
	for k, v := range f.rows {
		saved[k] = v
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.rows = saved
	}
}

func (f *fakePayments) put(p domain.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.ID] = p
}

func (f *fakePayments) Create(_ context.Context, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.ID]; ok {
		return fmt.Errorf("duplicate payment %s", p.ID)
	}
	f.rows[p.ID] = *p
	return nil
}

func (f *fakePayments) Get(_ context.Context, id string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (f *fakePayments) GetForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	return f.Get(ctx, id)
}

func (f *fakePayments) ListPendingCreatedBefore(_ context.Context, before time.Time, after *domain.PaymentCursor, limit int) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	less := func(a domain.Payment, at time.Time, id string) bool {
		if !a.CreatedAt.Equal(at) {
			return a.CreatedAt.Before(at)
		}
		return a.ID < id
	}
	var out []domain.Payment
	for _, p := range f.rows {
		if p.Status != domain.PaymentPending || !p.CreatedAt.Before(before) {
			continue
		}
		if after != nil && !less(domain.Payment{CreatedAt: after.CreatedAt, ID: after.ID}, p.CreatedAt, p.ID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j].CreatedAt, out[j].ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePayments) SaveState(_ context.Context, p *domain.Payment, prevStatus domain.PaymentStatus, prevSplits bool) error {
	if f.beforeSave != nil {
		f.beforeSave(p.ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[p.ID]
	if !ok || cur.Status != prevStatus || cur.SplitsCalculated != prevSplits {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrConcurrentUpdate)
	}
	f.rows[p.ID] = *p
	return nil
}

func (f *fakePayments) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	delete(f.rows, id)
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func (f *fakeLedger) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := append([]domain.LedgerEntry(nil), f.entries...)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.entries = saved
	}
}

func (f *fakeLedger) InsertMany(_ context.Context, entries []domain.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		for _, have := range f.entries {
			if have.PaymentID == e.PaymentID && have.Recipient == e.Recipient {
				return fmt.Errorf("duplicate ledger entry %s/%s", e.PaymentID, e.Recipient)
			}
		}
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeLedger) CountByPayment(_ context.Context, paymentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.PaymentID == paymentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) DeleteByPayment(_ context.Context, paymentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[:0]
	var n int64
	for _, e := range f.entries {
		if e.PaymentID == paymentID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func (f *fakeLedger) ListByPayment(_ context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.LedgerEntry{}
	for _, e := range f.entries {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetForUpdate(_ context.Context, id string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("ledger entry %s: %w", id, domain.ErrNotFound)
}

func (f *fakeLedger) SaveStatus(_ context.Context, e *domain.LedgerEntry, prev domain.LedgerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.entries {
		if f.entries[i].ID == e.ID {
			if f.entries[i].Status != prev {
				return fmt.Errorf("ledger entry %s: %w", e.ID, domain.ErrConcurrentUpdate)
			}
			f.entries[i] = *e
			return nil
		}
	}
	return fmt.Errorf("ledger entry %s: %w", e.ID, domain.ErrNotFound)
}

func (f *fakeLedger) Summarize(_ context.Context, flt domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byKey := map[string]*domain.LedgerSummaryRow{}
	for _, e := range f.entries {
		if flt.Status != nil && e.Status != *flt.Status {
			continue
		}
		key := string(e.Recipient)
		if flt.GroupBy == domain.GroupByDepartment {
			key = "unassigned"
			if e.RecipientID != nil {
				key = *e.RecipientID
			}
		}
		row, ok := byKey[key]
		if !ok {
			row = &domain.LedgerSummaryRow{Key: key, TotalAmount: decimal.Zero}
			byKey[key] = row
		}
		row.EntryCount++
		row.TotalAmount = row.TotalAmount.Add(e.Amount)
	}
	out := make([]domain.LedgerSummaryRow, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeLedger) all() []domain.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LedgerEntry(nil), f.entries...)
}

// fakeReferrals maps a referred client to the department that referred it.
type fakeReferrals map[string]string

func (f fakeReferrals) CrossDepartmentReferral(_ context.Context, clientID, departmentID string) (string, bool, error) {
	dept, ok := f[clientID]
	if !ok || dept == departmentID {
		return "", false, nil
	}
	return dept, true, nil
}

type fakeEvents struct {
	mu          sync.Mutex
	received    []string
	transitions []domain.BulkResult
	settlements []domain.SettlementReport
}

func (f *fakeEvents) PaymentReceived(_ context.Context, p *domain.Payment, _ []domain.LedgerEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, p.ID)
}

func (f *fakeEvents) LedgerTransitioned(_ context.Context, _ *int64, _ domain.LedgerStatus, res domain.BulkResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, res)
}

func (f *fakeEvents) SettlementCompleted(_ context.Context, report domain.SettlementReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, report)
}

// fakeCache is an in-memory stand-in for the redis client. TTLs are ignored.
type fakeCache struct {
	mu   sync.Mutex
	kv   map[string]string
	sets map[string][]string
	dels []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{kv: map[string]string{}, sets: map[string][]string{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return "", clients.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
		f.dels = append(f.dels, k)
	}
	return nil
}

func (f *fakeCache) SAdd(_ context.Context, key string, members ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		f.sets[key] = append(f.sets[key], fmt.Sprint(m))
	}
	return nil
}

func (f *fakeCache) SMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sets[key]...), nil
}

type fakeSplitStore struct {
	models map[domain.Category]domain.SplitModel
	gets   int
}

func newFakeSplitStore() *fakeSplitStore {
	s := &fakeSplitStore{models: map[domain.Category]domain.SplitModel{}}
	for _, m := range split.DefaultModels() {
		m.ID = "model-" + string(m.Category)
		s.models[m.Category] = m
	}
	return s
}

func (f *fakeSplitStore) Get(_ context.Context, category domain.Category) (domain.SplitModel, error) {
	f.gets++
	m, ok := f.models[category]
	if !ok {
		return domain.SplitModel{}, fmt.Errorf("split model %q: %w", category, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

func (f *fakeSplitStore) Upsert(_ context.Context, m domain.SplitModel) (domain.SplitModel, error) {
	f.models[m.Category] = m.Clone()
	return m, nil
}

func (f *fakeSplitStore) List(_ context.Context) ([]domain.SplitModel, error) {
	out := make([]domain.SplitModel, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

type fakeArchiver struct {
	names []string
	data  [][]byte
	err   error
}

func (f *fakeArchiver) ArchiveReport(_ context.Context, name string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	f.data = append(f.data, data)
	return "reports/" + name, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	holder   string
	acquired int
	released int
}

func (f *fakeLocker) AcquireLock(_ context.Context, _, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder != "" {
		return false, nil
	}
	f.holder = token
	f.acquired++
	return true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, _, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == token {
		f.holder = ""
		f.released++
	}
	return nil
}

type fakeClients struct {
	rows      map[string]domain.Client
	referrals []domain.Referral
}

func newFakeClients(cs ...domain.Client) *fakeClients {
	f := &fakeClients{rows: map[string]domain.Client{}}
	for _, c := range cs {
		f.rows[c.ID] = c
	}
	return f
}

func (f *fakeClients) snapshot() func() {
	saved := make(map[string]domain.Client, len(f.rows))
	for k, v := range f.rows {
		saved[k] = v
	}
	refs := append([]domain.Referral(nil), f.referrals...)
	return func() {
		f.rows = saved
		f.referrals = refs
	}
}

func (f *fakeClients) Get(_ context.Context, id string) (*domain.Client, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (f *fakeClients) GetForUpdate(ctx context.Context, id string) (*domain.Client, error) {
	return f.Get(ctx, id)
}

func (f *fakeClients) SavePartnerState(_ context.Context, c *domain.Client) error {
	if _, ok := f.rows[c.ID]; !ok {
		return fmt.Errorf("client %s: %w", c.ID, domain.ErrNotFound)
	}
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeClients) CreateReferral(_ context.Context, ref *domain.Referral) error {
	f.referrals = append(f.referrals, *ref)
	return nil
}

type fakeMous struct {
	rows map[string]domain.Mou
}

func newFakeMous() *fakeMous {
	return &fakeMous{rows: map[string]domain.Mou{}}
}

func (f *fakeMous) snapshot() func() {
	saved := make(map[string]domain.Mou, len(f.rows))
	for k, v := range f.rows {
		saved[k] = v
	}
	return func() { f.rows = saved }
}

func (f *fakeMous) Create(_ context.Context, m *domain.Mou) error {
	f.rows[m.ID] = *m
	return nil
}

func (f *fakeMous) Get(_ context.Context, id string) (*domain.Mou, error) {
	m, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("mou %s: %w", id, domain.ErrNotFound)
	}
	return &m, nil
}

func (f *fakeMous) GetForUpdate(ctx context.Context, id string) (*domain.Mou, error) {
	return f.Get(ctx, id)
}

func (f *fakeMous) FindGoverningByUnit(_ context.Context, unit domain.UnitRef) (*domain.Mou, error) {
	var found *domain.Mou
	for _, m := range f.rows {
		if m.Unit != unit || !m.Governs() {
			continue
		}
		if found == nil || m.CreatedAt.After(found.CreatedAt) {
			mm := m
			found = &mm
		}
	}
	if found == nil {
		return nil, fmt.Errorf("mou: %w", domain.ErrNotFound)
	}
	return found, nil
}

func (f *fakeMous) Update(_ context.Context, m *domain.Mou) error {
	if _, ok := f.rows[m.ID]; !ok {
		return fmt.Errorf("mou %s: %w", m.ID, domain.ErrNotFound)
	}
	f.rows[m.ID] = *m
	return nil
}

// paymentFixture wires a PaymentService over fakes with a fixed clock.
type paymentFixture struct {
	svc       *PaymentService
	ledgerSvc *LedgerService
	payments  *fakePayments
	ledger    *fakeLedger
	registry  *split.MemoryRegistry
	events    *fakeEvents
	tx        *fakeTx
	now       time.Time
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		payments: newFakePayments(),
		ledger:   &fakeLedger{},
		registry: split.NewMemoryRegistry(split.DefaultModels()...),
		events:   &fakeEvents{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.tx = &fakeTx{stores: []snapshotter{f.payments, f.ledger}}
	clock := func() time.Time { return f.now }

	f.ledgerSvc = NewLedgerService(f.tx, f.ledger, f.events, quietLogger())
	f.ledgerSvc.now = clock
	f.svc = NewPaymentService(f.tx, f.payments, f.ledgerSvc, f.registry, fakeReferrals{}, split.NewCalculator(split.DefaultPolicy()), f.events, quietLogger())
	f.svc.now = clock
	return f
}

func (f *paymentFixture) seed(id string, mod func(p *domain.Payment)) domain.Payment {
	p := domain.Payment{
		ID:          id,
		Unit:        domain.UnitRef{Kind: domain.UnitPhase, ID: "phase-" + id},
		GrossAmount: dec("100000"),
		Category:    domain.CategorySoftware,
		Status:      domain.PaymentPending,
		AutoSplit:   true,
		CreatedAt:   f.now.Add(-time.Hour),
		UpdatedAt:   f.now.Add(-time.Hour),
	}
	if mod != nil {
		mod(&p)
	}
	f.payments.put(p)
	return p
}

func byRecipient(entries []domain.LedgerEntry) map[domain.Recipient]domain.LedgerEntry {
	out := make(map[domain.Recipient]domain.LedgerEntry, len(entries))
	for _, e := range entries {
		out[e.Recipient] = e
	}
	return out
}
