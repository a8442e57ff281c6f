package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists billing data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed billing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func pqError(err error) *pq.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr
	}
	return nil
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullDate(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- plans ---

func (p *PostgresStore) CreatePlan(ctx context.Context, pl *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (id, academy_id, name, price, duration_months, description)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pl.ID, pl.AcademyID, pl.Name, pl.Price, pl.DurationMonths, pl.Description)
	return err
}

func scanPlan(row rowScanner) (*Plan, error) {
	pl := &Plan{}
	if err := row.Scan(&pl.ID, &pl.AcademyID, &pl.Name, &pl.Price, &pl.DurationMonths, &pl.Description); err != nil {
		return nil, err
	}
	return pl, nil
}

func (p *PostgresStore) GetPlan(ctx context.Context, academyID, id string) (*Plan, error) {
	pl, err := scanPlan(p.db.QueryRowContext(ctx, `
		SELECT id, academy_id, name, price, duration_months, description
		FROM plans WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	return pl, err
}

func (p *PostgresStore) UpdatePlan(ctx context.Context, pl *Plan) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE plans SET name = $1, price = $2, duration_months = $3, description = $4
		WHERE id = $5 AND academy_id = $6`,
		pl.Name, pl.Price, pl.DurationMonths, pl.Description, pl.ID, pl.AcademyID)
	if err != nil {
		return err
	}
	return affected(res, ErrPlanNotFound)
}

func (p *PostgresStore) DeletePlan(ctx context.Context, academyID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1 AND academy_id = $2`, id, academyID)
	if e := pqError(err); e != nil && e.Code == "23503" {
		return ErrProtected
	}
	if err != nil {
		return err
	}
	return affected(res, ErrPlanNotFound)
}

func (p *PostgresStore) ListPlans(ctx context.Context, academyID string) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, academy_id, name, price, duration_months, description
		FROM plans WHERE academy_id = $1 ORDER BY name`, academyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

// --- subscriptions ---

const subscriptionColumns = `id, academy_id, student_id, plan_id, start_date, status, created_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	s := &Subscription{}
	if err := row.Scan(&s.ID, &s.AcademyID, &s.StudentID, &s.PlanID, &s.StartDate, &s.Status, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartDate = s.StartDate.UTC()
	return s, nil
}

func (p *PostgresStore) StartSubscription(ctx context.Context, sub *Subscription, first *Invoice) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'canceled'
		WHERE academy_id = $1 AND student_id = $2 AND status = 'active'`,
		sub.AcademyID, sub.StudentID); err != nil {
		return fmt.Errorf("cancel active subscription: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.AcademyID, sub.StudentID, sub.PlanID, sub.StartDate, sub.Status, sub.CreatedAt)
	if e := pqError(err); e != nil && e.Constraint == "subscriptions_one_active_per_student" {
		return ErrConcurrentStart
	}
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if first != nil {
		if err := insertInvoice(ctx, tx, first); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetSubscription(ctx context.Context, academyID, id string) (*Subscription, error) {
	s, err := scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (p *PostgresStore) SetSubscriptionStatus(ctx context.Context, academyID, id string, status SubscriptionStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = $1 WHERE id = $2 AND academy_id = $3`, status, id, academyID)
	if e := pqError(err); e != nil && e.Constraint == "subscriptions_one_active_per_student" {
		return ErrAlreadyActive
	}
	if err != nil {
		return err
	}
	return affected(res, ErrSubscriptionNotFound)
}

func (p *PostgresStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListSubscriptions(ctx context.Context, academyID string, f SubscriptionFilter) ([]*Subscription, error) {
	return p.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE academy_id = $1
		  AND ($2 = '' OR student_id = $2)
		  AND ($3 = '' OR plan_id = $3)
		  AND ($4 = '' OR status = $4)
		  AND ($5::DATE IS NULL OR start_date >= $5)
		  AND ($6::DATE IS NULL OR start_date <= $6)
		ORDER BY start_date DESC, created_at DESC`,
		academyID, f.StudentID, f.PlanID, string(f.Status), nullDate(f.StartFrom), nullDate(f.StartTo))
}

func (p *PostgresStore) ActiveSubscription(ctx context.Context, academyID, studentID string) (*Subscription, error) {
	s, err := scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE academy_id = $1 AND student_id = $2 AND status = 'active'`, academyID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (p *PostgresStore) ListActiveSubscriptionsAllAcademies(ctx context.Context) ([]*Subscription, error) {
	return p.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' ORDER BY academy_id, id`)
}

// --- invoices ---

const invoiceColumns = `id, academy_id, subscription_id, amount, due_date, paid_date, created_at`

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var paid sql.NullTime
	if err := row.Scan(&inv.ID, &inv.AcademyID, &inv.SubscriptionID, &inv.Amount, &inv.DueDate, &paid, &inv.CreatedAt); err != nil {
		return nil, err
	}
	inv.DueDate = inv.DueDate.UTC()
	if paid.Valid {
		d := paid.Time.UTC()
		inv.PaidDate = &d
	}
	return inv, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertInvoice(ctx context.Context, db execer, inv *Invoice) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.AcademyID, inv.SubscriptionID, inv.Amount, inv.DueDate, inv.PaidDate, inv.CreatedAt)
	if e := pqError(err); e != nil && e.Code == "23505" {
		return ErrDuplicateInvoice
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	return insertInvoice(ctx, p.db, inv)
}

func (p *PostgresStore) GetInvoice(ctx context.Context, academyID, id string) (*Invoice, error) {
	inv, err := scanInvoice(p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND academy_id = $2`, id, academyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func (p *PostgresStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE invoices SET amount = $1, due_date = $2, paid_date = $3
		WHERE id = $4 AND academy_id = $5`,
		inv.Amount, inv.DueDate, inv.PaidDate, inv.ID, inv.AcademyID)
	if e := pqError(err); e != nil && e.Code == "23505" {
		return ErrDuplicateInvoice
	}
	if err != nil {
		return err
	}
	return affected(res, ErrInvoiceNotFound)
}

func (p *PostgresStore) LatestInvoice(ctx context.Context, academyID, subscriptionID string) (*Invoice, error) {
	inv, err := scanInvoice(p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE academy_id = $1 AND subscription_id = $2
		ORDER BY due_date DESC LIMIT 1`, academyID, subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return inv, err
}

func (p *PostgresStore) ListInvoices(ctx context.Context, academyID string, f InvoiceFilter) ([]*Invoice, error) {
	var paid sql.NullBool
	if f.Paid != nil {
		paid = sql.NullBool{Bool: *f.Paid, Valid: true}
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT i.id, i.academy_id, i.subscription_id, i.amount, i.due_date, i.paid_date, i.created_at
		FROM invoices i JOIN subscriptions s ON s.id = i.subscription_id
		WHERE i.academy_id = $1
		  AND ($2 = '' OR i.subscription_id = $2)
		  AND ($3 = '' OR s.student_id = $3)
		  AND ($4 = '' OR s.plan_id = $4)
		  AND ($5::BOOLEAN IS NULL OR (i.paid_date IS NOT NULL) = $5)
		  AND ($6::DATE IS NULL OR i.due_date >= $6)
		  AND ($7::DATE IS NULL OR i.due_date <= $7)
		  AND ($8::DATE IS NULL OR i.paid_date >= $8)
		  AND ($9::DATE IS NULL OR i.paid_date <= $9)
		ORDER BY i.due_date, i.id`,
		academyID, f.SubscriptionID, f.StudentID, f.PlanID, paid,
		nullDate(f.DueFrom), nullDate(f.DueTo), nullDate(f.PaidFrom), nullDate(f.PaidTo))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
