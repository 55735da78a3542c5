package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revenue-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

const mouColumns = `id, unit_kind, unit_id, client_id, department_id, category, deal_value, annual_maintenance,
	signing_percent, deployment_percent, acceptance_percent, status, expires_at, payments_scheduled,
	created_at, updated_at`

type MouRepository struct {
	db *sql.DB
}

func NewMouRepository(db *sql.DB) *MouRepository {
	return &MouRepository{db: db}
}

func (r *MouRepository) Create(ctx context.Context, m *domain.Mou) error {
	query := `INSERT INTO mous (` + mouColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		m.ID,
		m.Unit.Kind,
		m.Unit.ID,
		nullString(m.ClientID),
		nullString(m.DepartmentID),
		m.Category,
		m.DealValue,
		decimal.NullDecimal{Decimal: derefDecimal(m.AnnualMaintenance), Valid: m.AnnualMaintenance != nil},
		m.Terms.Signing,
		m.Terms.Deployment,
		m.Terms.Acceptance,
		m.Status,
		m.ExpiresAt,
		m.PaymentsScheduled,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mou %s: %w", m.ID, err)
	}
	return nil
}

func (r *MouRepository) Get(ctx context.Context, id string) (*domain.Mou, error) {
	return r.getOne(ctx, `SELECT `+mouColumns+` FROM mous WHERE id = $1`, id)
}

func (r *MouRepository) GetForUpdate(ctx context.Context, id string) (*domain.Mou, error) {
	return r.getOne(ctx, `SELECT `+mouColumns+` FROM mous WHERE id = $1 FOR UPDATE`, id)
}

func (r *MouRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Mou, error) {
	m, err := scanMou(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mou: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get mou: %w", err)
	}
	return m, nil
}

// FindGoverningByUnit returns the newest non-expired MoU for the unit.
func (r *MouRepository) FindGoverningByUnit(ctx context.Context, unit domain.UnitRef) (*domain.Mou, error) {
	query := `SELECT ` + mouColumns + ` FROM mous
		WHERE unit_kind = $1 AND unit_id = $2 AND status <> $3
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, unit.Kind, unit.ID, domain.MouExpired)
}

// Update writes status and the scheduling flag. Deal terms are fixed at creation.
func (r *MouRepository) Update(ctx context.Context, m *domain.Mou) error {
	query := `UPDATE mous SET status = $1, payments_scheduled = $2, updated_at = $3 WHERE id = $4`

	res, err := conn(ctx, r.db).ExecContext(ctx, query, m.Status, m.PaymentsScheduled, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update mou %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mou %s: %w", m.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("mou %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func scanMou(row rowScanner) (*domain.Mou, error) {
	var (
		m            domain.Mou
		clientID     sql.NullString
		departmentID sql.NullString
		maintenance  decimal.NullDecimal
		expiresAt    sql.NullTime
	)
	if err := row.Scan(
		&m.ID,
		&m.Unit.Kind,
		&m.Unit.ID,
		&clientID,
		&departmentID,
		&m.Category,
		&m.DealValue,
		&maintenance,
		&m.Terms.Signing,
		&m.Terms.Deployment,
		&m.Terms.Acceptance,
		&m.Status,
		&expiresAt,
		&m.PaymentsScheduled,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ClientID = stringPtr(clientID)
	m.DepartmentID = stringPtr(departmentID)
	if maintenance.Valid {
		v := maintenance.Decimal
		m.AnnualMaintenance = &v
	}
	m.ExpiresAt = timePtr(expiresAt)
	return &m, nil
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
