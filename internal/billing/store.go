package billing

import (
	"context"
	"time"
)

// SubscriptionFilter narrows ListSubscriptions. Zero values match all.
type SubscriptionFilter struct {
	StudentID string
	PlanID    string
	Status    SubscriptionStatus
	StartFrom time.Time
	StartTo   time.Time
}

// InvoiceFilter narrows ListInvoices. Zero values match all; date bounds
// are inclusive.
type InvoiceFilter struct {
	SubscriptionID string
	StudentID      string
	PlanID         string
	Paid           *bool
	DueFrom        time.Time
	DueTo          time.Time
	PaidFrom       time.Time
	PaidTo         time.Time
}

// Store persists plans, subscriptions and invoices. Every method is scoped
// by academy except the explicitly named all-academies reads used by the
// invoice job.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, academyID, id string) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	// DeletePlan fails with ErrProtected while subscriptions reference it.
	DeletePlan(ctx context.Context, academyID, id string) error
	ListPlans(ctx context.Context, academyID string) ([]*Plan, error)

	// StartSubscription cancels the student's active subscription, inserts
	// sub and, when first is non-nil, its first invoice, all atomically.
	// A concurrent start for the same student yields ErrConcurrentStart.
	StartSubscription(ctx context.Context, sub *Subscription, first *Invoice) error
	GetSubscription(ctx context.Context, academyID, id string) (*Subscription, error)
	// SetSubscriptionStatus moves sub to status. Activating while another
	// subscription of the student is active yields ErrAlreadyActive.
	SetSubscriptionStatus(ctx context.Context, academyID, id string, status SubscriptionStatus) error
	ListSubscriptions(ctx context.Context, academyID string, f SubscriptionFilter) ([]*Subscription, error)
	ActiveSubscription(ctx context.Context, academyID, studentID string) (*Subscription, error)
	ListActiveSubscriptionsAllAcademies(ctx context.Context) ([]*Subscription, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, academyID, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	// LatestInvoice returns the subscription's invoice with the latest due
	// date, or ErrInvoiceNotFound.
	LatestInvoice(ctx context.Context, academyID, subscriptionID string) (*Invoice, error)
	// ListInvoices returns invoices ordered by due date.
	ListInvoices(ctx context.Context, academyID string, f InvoiceFilter) ([]*Invoice, error)
}
