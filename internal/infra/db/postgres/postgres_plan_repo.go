package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
)

// Ensure interface compliance
var (
	_ repository.PlanRepository            = (*PostgresPlanRepo)(nil)
	_ repository.PaymentProviderRepository = (*PostgresProviderRepo)(nil)
)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

// FindByID loads a plan with its prices.
func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Plan, error) {
	const sql = `
SELECT id, name, duration, duration_unit, is_recurring, is_active, created_at
  FROM plans
 WHERE id = $1;
`
	row, err := pickRow(ctx, r.pool, tx, sql, id)
	if err != nil {
		return nil, err
	}
	var (
		p    model.Plan
		unit string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Duration, &unit, &p.IsRecurring, &p.IsActive, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("FindByID plan: %w", err)
	}
	p.DurationUnit = model.DurationUnit(unit)

	const pricesSQL = `
SELECT id, plan_id, currency, amount
  FROM prices
 WHERE plan_id = $1
 ORDER BY id;
`
	rows, err := queryRows(ctx, r.pool, tx, pricesSQL, id)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pr       model.Price
			currency string
		)
		if err := rows.Scan(&pr.ID, &pr.PlanID, &currency, &pr.Amount); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		pr.Currency = model.Currency(currency)
		p.Prices = append(p.Prices, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &p, nil
}

type PostgresProviderRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProviderRepo(pool *pgxpool.Pool) *PostgresProviderRepo {
	return &PostgresProviderRepo{pool: pool}
}

func (r *PostgresProviderRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentProvider, error) {
	return r.queryOne(ctx, tx, `SELECT id, name, is_active FROM payment_providers WHERE id = $1;`, id)
}

func (r *PostgresProviderRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.PaymentProvider, error) {
	return r.queryOne(ctx, tx, `SELECT id, name, is_active FROM payment_providers WHERE name = $1;`, name)
}

func (r *PostgresProviderRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.PaymentProvider, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	var p model.PaymentProvider
	if err := row.Scan(&p.ID, &p.Name, &p.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &p, nil
}
