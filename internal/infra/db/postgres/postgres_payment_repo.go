package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentColumns = `id, external_payment_id, status, currency, amount, payment_method, payment_method_id,
  subscription_id, payment_provider_id, user_id, plan_id, created_at, updated_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO payments (
  external_payment_id, status, currency, amount, payment_method, payment_method_id,
  subscription_id, payment_provider_id, user_id, plan_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q,
		p.ExternalPaymentID, string(p.Status), string(p.Currency), p.Amount, p.PaymentMethod, p.PaymentMethodID,
		p.SubscriptionID, p.PaymentProviderID, p.UserID, p.PlanID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&p.ID); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	const q = `
UPDATE payments SET
  external_payment_id=$2, status=$3, currency=$4, amount=$5, payment_method=$6, payment_method_id=$7,
  subscription_id=$8, payment_provider_id=$9, user_id=$10, plan_id=$11, updated_at=$12
WHERE id=$1;`
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	cmd, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.ExternalPaymentID, string(p.Status), string(p.Currency), p.Amount, p.PaymentMethod, p.PaymentMethodID,
		p.SubscriptionID, p.PaymentProviderID, p.UserID, p.PlanID, updated)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, externalID)
}

// filterSQL renders the WHERE clause of f starting at placeholder $1.
func filterSQL(f repository.PaymentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY(?)", statuses)
	}
	if f.ProviderID != 0 {
		add("payment_provider_id = ?", f.ProviderID)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= ?", f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add("created_at < ?", f.CreatedTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	where += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		where += " LIMIT $" + strconv.Itoa(len(args))
	}
	return where, args
}

func (r *paymentRepo) List(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]*model.Payment, error) {
	where, args := filterSQL(f)
	return r.queryMany(ctx, tx, `SELECT `+paymentColumns+` FROM payments`+where, args...)
}

func (r *paymentRepo) ListExternalIDs(ctx context.Context, tx repository.Tx, f repository.PaymentFilter) ([]string, error) {
	where, args := filterSQL(f)
	q := `SELECT external_payment_id FROM (SELECT external_payment_id, created_at, id FROM payments` + where + `) p WHERE external_payment_id IS NOT NULL`
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// UpdateStatusIf atomically updates status only when the current status is one of from.
func (r *paymentRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id int64, from []model.PaymentStatus, to model.PaymentStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	const q = `
UPDATE payments
   SET status = $2,
       updated_at = NOW()
 WHERE id = $1
   AND status = ANY($3)`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), statuses)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) FindLastSucceededBySubscription(ctx context.Context, tx repository.Tx, subscriptionID int64) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
 WHERE subscription_id=$1 AND status='succeeded' AND payment_method_id IS NOT NULL
 ORDER BY created_at DESC, id DESC
 LIMIT 1`
	return r.queryOne(ctx, tx, q, subscriptionID)
}

func (r *paymentRepo) FindLatestRenewal(ctx context.Context, tx repository.Tx, subscriptionID int64, since time.Time) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments
 WHERE subscription_id=$1 AND created_at >= $2
 ORDER BY created_at DESC, id DESC
 LIMIT 1`
	return r.queryOne(ctx, tx, q, subscriptionID, since)
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...any) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...any) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status, currency string
	if err := row.Scan(&p.ID, &p.ExternalPaymentID, &status, &currency, &p.Amount, &p.PaymentMethod, &p.PaymentMethodID,
		&p.SubscriptionID, &p.PaymentProviderID, &p.UserID, &p.PlanID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	p.Currency = model.Currency(currency)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}
