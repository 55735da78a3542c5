package service

import (
	"context"
	"testing"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntries(t *testing.T, f *paymentFixture) []domain.LedgerEntry {
	t.Helper()
	f.seed("pay-1", func(p *domain.Payment) { p.DepartmentID = strPtr("dept-a") })
	_, err := f.svc.ConfirmReceived(context.Background(), "pay-1", true)
	require.NoError(t, err)
	entries := f.ledger.all()
	require.Len(t, entries, 3)
	return entries
}

func TestApprovePartialSuccess(t *testing.T) {
	f := newPaymentFixture()
	entries := seedEntries(t, f)
	operator := int64(7)

	res := f.ledgerSvc.Approve(context.Background(), []string{entries[0].ID, entries[1].ID, "missing"}, &operator)
	require.Len(t, res.Updated, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "missing", res.Failures[0].ID)
	assert.ErrorIs(t, res.Failures[0].Err, domain.ErrNotFound)

	for _, e := range res.Updated {
		assert.Equal(t, domain.LedgerApproved, e.Status)
		require.NotNil(t, e.ApprovedBy)
		assert.Equal(t, operator, *e.ApprovedBy)
		require.NotNil(t, e.ApprovedAt)
		assert.Equal(t, f.now, *e.ApprovedAt)
	}

	again := f.ledgerSvc.Approve(context.Background(), []string{entries[0].ID, entries[2].ID}, &operator)
	require.Len(t, again.Updated, 1)
	require.Len(t, again.Failures, 1)
	assert.Equal(t, entries[0].ID, again.Failures[0].ID)
	assert.ErrorIs(t, again.Failures[0].Err, domain.ErrInvalidTransition)

	assert.Len(t, f.events.transitions, 2)
}

func TestMarkPaidRequiresApproval(t *testing.T) {
	f := newPaymentFixture()
	entries := seedEntries(t, f)
	ctx := context.Background()

	res := f.ledgerSvc.MarkPaid(ctx, []string{entries[0].ID}, nil, nil)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, domain.ErrInvalidTransition)

	f.ledgerSvc.Approve(ctx, []string{entries[0].ID}, nil)
	paidAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("IST", 19800))
	res = f.ledgerSvc.MarkPaid(ctx, []string{entries[0].ID}, &paidAt, nil)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, domain.LedgerPaid, res.Updated[0].Status)
	assert.Equal(t, paidAt.UTC(), *res.Updated[0].PaidAt)

	res = f.ledgerSvc.Approve(ctx, []string{entries[0].ID}, nil)
	require.Len(t, res.Failures, 1, "paid entries never move back")
}

func TestLedgerTransitionDeduplicatesIDs(t *testing.T) {
	f := newPaymentFixture()
	entries := seedEntries(t, f)

	res := f.ledgerSvc.Approve(context.Background(), []string{entries[0].ID, entries[0].ID}, nil)
	assert.Len(t, res.Updated, 1)
	assert.Empty(t, res.Failures)
}

func TestLedgerAmountsNeverChangeOnTransition(t *testing.T) {
	f := newPaymentFixture()
	entries := seedEntries(t, f)
	ctx := context.Background()

	ids := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	f.ledgerSvc.Approve(ctx, ids, nil)
	f.ledgerSvc.MarkPaid(ctx, ids, nil, nil)

	after := byRecipient(f.ledger.all())
	for _, e := range entries {
		assert.True(t, after[e.Recipient].Amount.Equal(e.Amount))
		assert.True(t, after[e.Recipient].Percentage.Equal(e.Percentage))
		assert.Equal(t, domain.LedgerPaid, after[e.Recipient].Status)
	}
}

func TestSummarizeLedger(t *testing.T) {
	f := newPaymentFixture()
	seedEntries(t, f)
	ctx := context.Background()

	rows, err := f.ledgerSvc.Summarize(ctx, domain.LedgerSummaryFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "department", rows[0].Key)

	rows, err = f.ledgerSvc.Summarize(ctx, domain.LedgerSummaryFilter{GroupBy: domain.GroupByDepartment})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "dept-a", rows[0].Key)
	assert.True(t, rows[0].TotalAmount.Equal(dec("40000")))

	_, err = f.ledgerSvc.Summarize(ctx, domain.LedgerSummaryFilter{GroupBy: "client"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	bad := domain.LedgerStatus("void")
	_, err = f.ledgerSvc.Summarize(ctx, domain.LedgerSummaryFilter{Status: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
