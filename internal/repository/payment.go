package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"revenue-ledger/internal/domain"
)

const paymentColumns = `id, unit_kind, unit_id, client_id, department_id, gross_amount, category, status,
	auto_split, department_discount_percent, is_first_milestone, held_for_review, hold_reason, notes,
	splits_calculated, created_at, due_at, paid_at, updated_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.ID,
		p.Unit.Kind,
		p.Unit.ID,
		nullString(p.ClientID),
		nullString(p.DepartmentID),
		p.GrossAmount,
		p.Category,
		p.Status,
		p.AutoSplit,
		p.DepartmentDiscountPercent,
		p.IsFirstMilestone,
		p.HeldForReview,
		nullString(p.HoldReason),
		p.Notes,
		p.SplitsCalculated,
		p.CreatedAt,
		p.DueAt,
		p.PaidAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetForUpdate locks the payment row until the surrounding transaction ends.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *PaymentRepository) getOne(ctx context.Context, query, id string) (*domain.Payment, error) {
	p, err := scanPayment(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return p, nil
}

// ListPendingCreatedBefore returns one page of pending payments older than
// before, ordered by (created_at, id). A nil cursor starts from the oldest row.
func (r *PaymentRepository) ListPendingCreatedBefore(ctx context.Context, before time.Time, after *domain.PaymentCursor, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`
	args := []any{domain.PaymentPending, before, limit}
	if after != nil {
		query = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1 AND created_at < $2 AND (created_at, id) > ($3, $4)
		ORDER BY created_at ASC, id ASC
		LIMIT $5`
		args = []any{domain.PaymentPending, before, after.CreatedAt, after.ID, limit}
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveState writes the mutable columns only if the row still has the status
// and split guard the caller read. Zero affected rows means another writer won.
func (r *PaymentRepository) SaveState(ctx context.Context, p *domain.Payment, prevStatus domain.PaymentStatus, prevSplits bool) error {
	query := `UPDATE payments
		SET status = $1, paid_at = $2, notes = $3, splits_calculated = $4,
			held_for_review = $5, hold_reason = $6, updated_at = $7
		WHERE id = $8 AND status = $9 AND splits_calculated = $10`

	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.Status,
		p.PaidAt,
		p.Notes,
		p.SplitsCalculated,
		p.HeldForReview,
		nullString(p.HoldReason),
		p.UpdatedAt,
		p.ID,
		prevStatus,
		prevSplits,
	)
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", p.ID, domain.ErrConcurrentUpdate)
	}
	return nil
}

func (r *PaymentRepository) Delete(ctx context.Context, id string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete payment %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p            domain.Payment
		clientID     sql.NullString
		departmentID sql.NullString
		holdReason   sql.NullString
		dueAt        sql.NullTime
		paidAt       sql.NullTime
	)
	if err := row.Scan(
		&p.ID,
		&p.Unit.Kind,
		&p.Unit.ID,
		&clientID,
		&departmentID,
		&p.GrossAmount,
		&p.Category,
		&p.Status,
		&p.AutoSplit,
		&p.DepartmentDiscountPercent,
		&p.IsFirstMilestone,
		&p.HeldForReview,
		&holdReason,
		&p.Notes,
		&p.SplitsCalculated,
		&p.CreatedAt,
		&dueAt,
		&paidAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ClientID = stringPtr(clientID)
	p.DepartmentID = stringPtr(departmentID)
	p.HoldReason = stringPtr(holdReason)
	p.DueAt = timePtr(dueAt)
	p.PaidAt = timePtr(paidAt)
	return &p, nil
}
