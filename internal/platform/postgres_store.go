package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists platform data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed platform store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// --- plans ---

const planColumns = `id, name, slug, description, monthly_price, annual_price, max_students,
	max_instructors, max_disciplines, max_classes, features, stripe_monthly_price_id,
	stripe_annual_price_id, active, popular, sort_order, created_at`

func scanPlan(row rowScanner) (*Plan, error) {
	p := &Plan{}
	var features []byte
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.MonthlyPrice, &p.AnnualPrice,
		&p.MaxStudents, &p.MaxInstructors, &p.MaxDisciplines, &p.MaxClasses, &features,
		&p.StripeMonthlyPriceID, &p.StripeAnnualPriceID, &p.Active, &p.Popular, &p.Order, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) CreatePlanIfAbsent(ctx context.Context, p *Plan) (bool, error) {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING`,
		p.ID, p.Name, p.Slug, p.Description, p.MonthlyPrice, p.AnnualPrice, p.MaxStudents,
		p.MaxInstructors, p.MaxDisciplines, p.MaxClasses, features, p.StripeMonthlyPriceID,
		p.StripeAnnualPriceID, p.Active, p.Popular, p.Order, p.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM platform_plans WHERE id = $1`, id))
}

func (s *PostgresStore) GetPlanBySlug(ctx context.Context, slug string) (*Plan, error) {
	return scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM platform_plans WHERE slug = $1`, slug))
}

func (s *PostgresStore) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM platform_plans
		WHERE ($1 = FALSE OR active)
		ORDER BY sort_order, name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- subscriptions ---

const subscriptionColumns = `id, academy_id, plan_id, status, cycle, trial_ends_at, next_due_at,
	stripe_customer_id, stripe_subscription_id, created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var trialEnds, nextDue sql.NullTime
	err := row.Scan(&sub.ID, &sub.AcademyID, &sub.PlanID, &sub.Status, &sub.Cycle, &trialEnds,
		&nextDue, &sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.TrialEndsAt = timePtr(trialEnds)
	sub.NextDueAt = timePtr(nextDue)
	return sub, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.AcademyID, sub.PlanID, sub.Status, sub.Cycle, nullTime(sub.TrialEndsAt),
		nullTime(sub.NextDueAt), sub.StripeCustomerID, sub.StripeSubscriptionID, sub.CreatedAt, sub.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrSubscriptionExists
	}
	return err
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE platform_subscriptions SET plan_id = $1, status = $2, cycle = $3, trial_ends_at = $4,
			next_due_at = $5, stripe_customer_id = $6, stripe_subscription_id = $7, updated_at = $8
		WHERE id = $9`,
		sub.PlanID, sub.Status, sub.Cycle, nullTime(sub.TrialEndsAt), nullTime(sub.NextDueAt),
		sub.StripeCustomerID, sub.StripeSubscriptionID, sub.UpdatedAt, sub.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM platform_subscriptions WHERE id = $1`, id))
}

func (s *PostgresStore) GetSubscriptionByAcademy(ctx context.Context, academyID string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM platform_subscriptions WHERE academy_id = $1`, academyID))
}

func (s *PostgresStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM platform_subscriptions WHERE stripe_subscription_id = $1`,
		stripeSubscriptionID))
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM platform_subscriptions
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR plan_id = $2)
		ORDER BY created_at DESC, id DESC`, string(f.Status), f.PlanID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- payments ---

const paymentColumns = `id, subscription_id, amount, status, due_at, paid_at, method, external_id, created_at`

func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.SubscriptionID, p.Amount, p.Status, p.DueAt, nullTime(p.PaidAt), p.Method, p.ExternalID, p.CreatedAt)
	return err
}

func (s *PostgresStore) PaymentExists(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM platform_payments WHERE external_id = $1)`, externalID).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) ClaimWebhookEvent(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stripe_webhook_events (event_id, type, processed_at) VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stripe_webhook_events WHERE event_id = $1`, eventID)
	return err
}

func (s *PostgresStore) ListPayments(ctx context.Context, subscriptionID string) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM platform_payments
		WHERE subscription_id = $1 ORDER BY created_at DESC, id DESC`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Payment
	for rows.Next() {
		p := &Payment{}
		var paidAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.Amount, &p.Status, &p.DueAt, &paidAt,
			&p.Method, &p.ExternalID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PaidAt = timePtr(paidAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	if e.Data == nil {
		data = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO platform_events (id, subscription_id, type, description, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SubscriptionID, e.Type, e.Description, data, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, subscriptionID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, type, description, data, created_at FROM platform_events
		WHERE ($1 = '' OR subscription_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.Type, &e.Description, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, err
		}
		if len(e.Data) == 0 {
			e.Data = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
