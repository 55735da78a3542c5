package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"revenue-ledger/internal/domain"
)

const ledgerColumns = `id, payment_id, recipient_category, recipient_id, amount, percentage,
	status, approved_by, approved_at, paid_at, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertMany writes all entries in one statement so a payment never ends up
// with part of its allocation.
func (r *LedgerRepository) InsertMany(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(entries)*8)
	)
	sb.WriteString(`INSERT INTO earnings_ledger
		(id, payment_id, recipient_category, recipient_id, amount, percentage, status, created_at) VALUES `)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args,
			e.ID,
			e.PaymentID,
			e.Recipient,
			nullString(e.RecipientID),
			e.Amount,
			e.Percentage,
			e.Status,
			e.CreatedAt,
		)
	}

	if _, err := conn(ctx, r.db).ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}
	return nil
}

func (r *LedgerRepository) CountByPayment(ctx context.Context, paymentID string) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM earnings_ledger WHERE payment_id = $1`, paymentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries for %s: %w", paymentID, err)
	}
	return n, nil
}

func (r *LedgerRepository) DeleteByPayment(ctx context.Context, paymentID string) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM earnings_ledger WHERE payment_id = $1`, paymentID)
	if err != nil {
		return 0, fmt.Errorf("delete ledger entries for %s: %w", paymentID, err)
	}
	return res.RowsAffected()
}

func (r *LedgerRepository) ListByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM earnings_ledger
		WHERE payment_id = $1
		ORDER BY created_at, recipient_category`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries for %s: %w", paymentID, err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LedgerRepository) GetForUpdate(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM earnings_ledger WHERE id = $1 FOR UPDATE`

	e, err := scanLedgerEntry(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger entry %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", id, err)
	}
	return e, nil
}

// SaveStatus persists the lifecycle columns. Amount and percentage are never
// part of the update. The row must still be in prev.
func (r *LedgerRepository) SaveStatus(ctx context.Context, e *domain.LedgerEntry, prev domain.LedgerStatus) error {
	query := `UPDATE earnings_ledger
		SET status = $1, approved_by = $2, approved_at = $3, paid_at = $4
		WHERE id = $5 AND status = $6`

	var approvedBy sql.NullInt64
	if e.ApprovedBy != nil {
		approvedBy = sql.NullInt64{Int64: *e.ApprovedBy, Valid: true}
	}

	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		e.Status, approvedBy, e.ApprovedAt, e.PaidAt, e.ID, prev,
	)
	if err != nil {
		return fmt.Errorf("update ledger entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ledger entry %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("ledger entry %s: %w", e.ID, domain.ErrConcurrentUpdate)
	}
	return nil
}

// Summarize aggregates entry amounts by recipient category or by the owning
// payment's department.
func (r *LedgerRepository) Summarize(ctx context.Context, f domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error) {
	keyExpr := "l.recipient_category"
	if f.GroupBy == domain.GroupByDepartment {
		keyExpr = "COALESCE(p.department_id, 'unassigned')"
	}

	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("l.status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("l.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("l.created_at < $%d", len(args)))
	}

	query := `SELECT ` + keyExpr + ` AS key, COUNT(*), COALESCE(SUM(l.amount), 0)
		FROM earnings_ledger l
		JOIN payments p ON p.id = l.payment_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY key ORDER BY key"

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerSummaryRow
	for rows.Next() {
		var row domain.LedgerSummaryRow
		if err := rows.Scan(&row.Key, &row.EntryCount, &row.TotalAmount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var (
		e           domain.LedgerEntry
		recipientID sql.NullString
		approvedBy  sql.NullInt64
		approvedAt  sql.NullTime
		paidAt      sql.NullTime
	)
	if err := row.Scan(
		&e.ID,
		&e.PaymentID,
		&e.Recipient,
		&recipientID,
		&e.Amount,
		&e.Percentage,
		&e.Status,
		&approvedBy,
		&approvedAt,
		&paidAt,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.RecipientID = stringPtr(recipientID)
	if approvedBy.Valid {
		v := approvedBy.Int64
		e.ApprovedBy = &v
	}
	e.ApprovedAt = timePtr(approvedAt)
	e.PaidAt = timePtr(paidAt)
	return &e, nil
}
