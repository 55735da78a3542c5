package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/service"
	"revenue-ledger/internal/split"
	"revenue-ledger/internal/transport/auth"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModels struct{}

func (stubModels) Get(_ context.Context, c domain.Category) (domain.SplitModel, error) {
	if c != domain.CategorySoftware {
		return domain.SplitModel{}, fmt.Errorf("split model %q: %w", c, domain.ErrNotFound)
	}
	return split.DefaultModels()[0], nil
}

func (stubModels) Set(_ context.Context, c domain.Category, shares []domain.Share) (domain.SplitModel, error) {
	return domain.NewSplitModel("m-1", c, shares)
}

func (stubModels) List(context.Context) ([]domain.SplitModel, error) {
	return split.DefaultModels(), nil
}

type stubPayments struct {
	created     *service.CreatePaymentInput
	cascade     *bool
	deleteErr   error
	confirmAuto *bool
}

func (s *stubPayments) CalculateSplit(_ context.Context, gross decimal.Decimal, c domain.Category, adj split.Adjustments) (split.Result, error) {
	m, err := stubModels{}.Get(context.Background(), c)
	if err != nil {
		return split.Result{}, fmt.Errorf("%w: %q", domain.ErrNoSplitModel, c)
	}
	return split.NewCalculator(split.DefaultPolicy()).Calculate(gross, m, adj)
}

func (s *stubPayments) CreatePayment(_ context.Context, in service.CreatePaymentInput) (*domain.Payment, error) {
	s.created = &in
	if !in.GrossAmount.IsPositive() {
		return nil, fmt.Errorf("%w: gross amount must be positive", domain.ErrInvalidPayment)
	}
	return &domain.Payment{ID: "pay-1", Unit: in.Unit, GrossAmount: in.GrossAmount, Category: in.Category, Status: domain.PaymentPending}, nil
}

func (s *stubPayments) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	if id != "pay-1" {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return &domain.Payment{ID: id, Status: domain.PaymentPending}, nil
}

func (s *stubPayments) ConfirmReceived(_ context.Context, id string, autoSplit bool) (*domain.Payment, error) {
	s.confirmAuto = &autoSplit
	return &domain.Payment{ID: id, Status: domain.PaymentReceived, SplitsCalculated: autoSplit}, nil
}

func (s *stubPayments) TransitionPayment(_ context.Context, id string, next domain.PaymentStatus) (*domain.Payment, error) {
	if next == domain.PaymentPending {
		return nil, fmt.Errorf("%w: payment %s received -> pending", domain.ErrInvalidTransition, id)
	}
	return &domain.Payment{ID: id, Status: next}, nil
}

func (s *stubPayments) FlagPayment(_ context.Context, id, reason string) (*domain.Payment, error) {
	p := &domain.Payment{ID: id}
	p.Hold(reason)
	return p, nil
}

func (s *stubPayments) ReleasePayment(_ context.Context, id string) (*domain.Payment, error) {
	return &domain.Payment{ID: id}, nil
}

func (s *stubPayments) DeletePayment(_ context.Context, _ string, cascade bool) error {
	s.cascade = &cascade
	if !cascade {
		return s.deleteErr
	}
	return nil
}

func (s *stubPayments) ListLedgerEntries(context.Context, string) ([]domain.LedgerEntry, error) {
	return []domain.LedgerEntry{}, nil
}

type stubLedger struct {
	operator *int64
	filter   domain.LedgerSummaryFilter
}

func (s *stubLedger) Approve(_ context.Context, ids []string, operatorID *int64) domain.BulkResult {
	s.operator = operatorID
	res := domain.BulkResult{Updated: []domain.LedgerEntry{}, Failures: []domain.EntryFailure{}}
	for _, id := range ids {
		if id == "bad" {
			res.Failures = append(res.Failures, domain.EntryFailure{ID: id, Error: "invalid status transition"})
			continue
		}
		res.Updated = append(res.Updated, domain.LedgerEntry{ID: id, Status: domain.LedgerApproved, ApprovedBy: operatorID})
	}
	return res
}

func (s *stubLedger) MarkPaid(_ context.Context, ids []string, _ *time.Time, _ *int64) domain.BulkResult {
	return domain.BulkResult{Updated: []domain.LedgerEntry{{ID: ids[0], Status: domain.LedgerPaid}}, Failures: []domain.EntryFailure{}}
}

func (s *stubLedger) Summarize(_ context.Context, f domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error) {
	s.filter = f
	if f.GroupBy != "" && f.GroupBy != domain.GroupByRecipient && f.GroupBy != domain.GroupByDepartment {
		return nil, fmt.Errorf("%w: unknown group_by %q", domain.ErrInvalidArgument, f.GroupBy)
	}
	return []domain.LedgerSummaryRow{{Key: "jicate", EntryCount: 1, TotalAmount: decimal.NewFromInt(400)}}, nil
}

type stubSettlement struct{ threshold int }

func (s *stubSettlement) RunSettlementBatch(_ context.Context, thresholdHours int) (domain.SettlementReport, error) {
	s.threshold = thresholdHours
	return domain.SettlementReport{RunID: "run-1", ThresholdHours: thresholdHours, Failures: []domain.PaymentFailure{}}, nil
}

func (s *stubSettlement) ListRuns(context.Context, int) ([]domain.SettlementReport, error) {
	return []domain.SettlementReport{{RunID: "run-1"}}, nil
}

func (s *stubSettlement) GetRun(_ context.Context, id string) (domain.SettlementReport, error) {
	if id != "run-1" {
		return domain.SettlementReport{}, fmt.Errorf("settlement run %s: %w", id, domain.ErrNotFound)
	}
	return domain.SettlementReport{RunID: id}, nil
}

type stubPricing struct{}

func (stubPricing) QuotePrice(_ context.Context, _ string, list decimal.Decimal) (domain.Quote, error) {
	return domain.Quote{ListPrice: list, FinalPrice: list, Source: domain.PriceList}, nil
}

func (stubPricing) QuoteDeal(_ context.Context, unit domain.UnitRef, _ string, list decimal.Decimal) (domain.Quote, error) {
	if unit.ID == "governed" && list.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: unit is priced by an mou", domain.ErrPricingConflict)
	}
	return domain.Quote{ListPrice: list, FinalPrice: list, Source: domain.PriceList}, nil
}

func (stubPricing) RecordReferral(_ context.Context, referrer, _ string, _ *string) (*domain.Client, error) {
	return &domain.Client{ID: referrer, PartnerCategory: domain.PartnerStandard, ReferralCount: 1}, nil
}

func (stubPricing) CreateMou(_ context.Context, in service.CreateMouInput) (*domain.Mou, error) {
	return &domain.Mou{ID: "mou-1", Unit: in.Unit, DealValue: in.DealValue, Status: domain.MouDraft}, nil
}

func (stubPricing) GetMou(_ context.Context, id string) (*domain.Mou, error) {
	return nil, fmt.Errorf("mou %s: %w", id, domain.ErrNotFound)
}

func (stubPricing) TransitionMou(_ context.Context, id string, next domain.MouStatus) (*domain.Mou, error) {
	return &domain.Mou{ID: id, Status: next}, nil
}

func (stubPricing) ScheduleMouPayments(_ context.Context, id string) ([]*domain.Payment, error) {
	return nil, fmt.Errorf("%w: mou %s is draft", domain.ErrInvalidTransition, id)
}

type dirFiles string

func (d dirFiles) Path(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid name")
	}
	return filepath.Join(string(d), name), nil
}

type fixture struct {
	router     http.Handler
	payments   *stubPayments
	ledger     *stubLedger
	settlement *stubSettlement
}

func newFixture(t *testing.T, authMiddleware func(http.Handler) http.Handler) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{payments: &stubPayments{}, ledger: &stubLedger{}, settlement: &stubSettlement{}}
	h := NewHandler(Deps{
		SplitModels:      stubModels{},
		Payments:         f.payments,
		Ledger:           f.ledger,
		Settlement:       f.settlement,
		Pricing:          stubPricing{},
		Files:            dirFiles(t.TempDir()),
		DefaultThreshold: 48,
		Log:              log,
	})
	f.router = h.InitRouterWithAuth(authMiddleware)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec, resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp.Status)
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t, nil)

	rec, resp := f.do(t, http.MethodPost, "/payments", `{
		"unit": {"kind": "phase", "id": "ph-1"},
		"gross_amount": "100000",
		"category": "software",
		"auto_split": true,
		"department_id": "dept-a"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, f.payments.created)
	assert.True(t, f.payments.created.GrossAmount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, "dept-a", *f.payments.created.DepartmentID)
	assert.True(t, f.payments.created.AutoSplit)
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown category", `{"unit":{"kind":"phase","id":"x"},"gross_amount":"10","category":"hardware"}`, http.StatusBadRequest},
		{"unknown unit kind", `{"unit":{"kind":"project","id":"x"},"gross_amount":"10","category":"software"}`, http.StatusBadRequest},
		{"missing amount", `{"unit":{"kind":"phase","id":"x"},"category":"software"}`, http.StatusBadRequest},
		{"discount above 100", `{"unit":{"kind":"phase","id":"x"},"gross_amount":"10","category":"software","department_discount_percent":"150"}`, http.StatusBadRequest},
		{"negative discount", `{"unit":{"kind":"phase","id":"x"},"gross_amount":"10","category":"software","department_discount_percent":"-1"}`, http.StatusBadRequest},
		{"broken json", `{"unit":`, http.StatusBadRequest},
		{"non-positive amount", `{"unit":{"kind":"phase","id":"x"},"gross_amount":"-1","category":"software"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := f.do(t, http.MethodPost, "/payments", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, "error", resp.Status)
		})
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec, _ := f.do(t, http.MethodGet, "/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePaymentCascade(t *testing.T) {
	f := newFixture(t, nil)
	f.payments.deleteErr = fmt.Errorf("payment pay-1 has 3 entries: %w", domain.ErrHasLedgerEntries)

	rec, _ := f.do(t, http.MethodDelete, "/payments/pay-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, *f.payments.cascade)

	rec, _ = f.do(t, http.MethodDelete, "/payments/pay-1?cascade=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *f.payments.cascade)

	rec, _ = f.do(t, http.MethodDelete, "/payments/pay-1?cascade=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmAndStatusRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/payments/pay-1/confirm", `{"auto_split": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *f.payments.confirmAuto)

	rec, _ = f.do(t, http.MethodPost, "/payments/pay-1/confirm", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *f.payments.confirmAuto)

	rec, _ = f.do(t, http.MethodPost, "/payments/pay-1/status", `{"status": "pending"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/payments/pay-1/flag", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/payments/pay-1/flag", `{"reason": "disputed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/payments/pay-1/flag", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCalculateSplit(t *testing.T) {
	f := newFixture(t, nil)

	rec, resp := f.do(t, http.MethodPost, "/split/calculate", `{
		"gross_amount": "1000000",
		"category": "software",
		"adjustments": {"department_discount_percent": "10"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "1000000", data["total_amount"])
	assert.Equal(t, "100000", data["discount_amount"])

	rec, _ = f.do(t, http.MethodPost, "/split/calculate", `{
		"gross_amount": "1000",
		"category": "software",
		"adjustments": {"department_discount_percent": "25"}
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSplitModelRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/split-models", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/split-models/content", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/split-models/software", `{"shares":[{"recipient":"jicate","percentage":"60"},{"recipient":"department","percentage":"30"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/split-models/software", `{"shares":[{"recipient":"jicate","percentage":"60"},{"recipient":"department","percentage":"40"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/split-models/software", `{"shares":[{"recipient":"janitor","percentage":"100"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveLedgerRecordsOperator(t *testing.T) {
	withOperator := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), 77)))
		})
	}
	f := newFixture(t, withOperator)

	rec, resp := f.do(t, http.MethodPost, "/ledger/approve", `{"ids": ["e-1", "bad"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1 approved, 1 failed", resp.Message)
	require.NotNil(t, f.ledger.operator)
	assert.Equal(t, int64(77), *f.ledger.operator)

	rec, _ = f.do(t, http.MethodPost, "/ledger/approve", `{"ids": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/ledger/mark-paid", `{"ids": ["e-1"], "paid_at": "2026-03-01T10:00:00Z"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLedgerSummaryQuery(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/ledger/summary?group_by=department&status=approved&from=2026-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.GroupByDepartment, f.ledger.filter.GroupBy)
	require.NotNil(t, f.ledger.filter.Status)
	assert.Equal(t, domain.LedgerApproved, *f.ledger.filter.Status)
	require.NotNil(t, f.ledger.filter.From)

	rec, _ = f.do(t, http.MethodGet, "/ledger/summary?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/ledger/summary?group_by=client", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettlementRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/settlement/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48, f.settlement.threshold)

	rec, _ = f.do(t, http.MethodPost, "/settlement/run", `{"threshold_hours": 12}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 12, f.settlement.threshold)

	rec, _ = f.do(t, http.MethodPost, "/settlement/run", `{"threshold_hours": -3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/settlement/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/settlement/runs/run-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricingRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/pricing/deal-quote", `{"unit":{"kind":"phase","id":"governed"},"client_id":"c-1","list_price":"5000"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/pricing/quote", `{"client_id":"c-1","list_price":"5000"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/referrals", `{"referrer_client_id":"c-1","referred_client_id":"c-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/referrals", `{"referrer_client_id":"c-1","referred_client_id":"c-2"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/mous", `{"unit":{"kind":"program","id":"p-1"},"category":"training-corporate","deal_value":"90000"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/mous/mou-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/mous/mou-1/payments", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
	f := newFixture(t, deny)

	rec, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/payments/pay-1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc_report.json"), []byte(`{"run_id":"r"}`), 0o644))

	log := logrus.New()
	log.SetOutput(io.Discard)
	router := NewHandler(Deps{Files: dirFiles(dir), Log: log}).InitRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/abc_report.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="report.json"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/missing.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
