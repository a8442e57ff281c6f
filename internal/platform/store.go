package platform

import (
	"context"
	"time"
)

// SubscriptionFilter narrows ListSubscriptions. Zero values match all.
type SubscriptionFilter struct {
	Status Status
	PlanID string
}

// Store persists the plan catalogue, subscriptions, payments and events.
// Platform data spans academies, so nothing here is tenant-scoped.
type Store interface {
	// CreatePlanIfAbsent inserts p unless a plan with its slug exists and
	// reports whether it inserted.
	CreatePlanIfAbsent(ctx context.Context, p *Plan) (bool, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*Plan, error)
	// ListPlans orders by Order then name.
	ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error)

	// CreateSubscription fails with ErrSubscriptionExists when the academy
	// already has one.
	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetSubscriptionByAcademy(ctx context.Context, academyID string) (*Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]*Subscription, error)

	CreatePayment(ctx context.Context, p *Payment) error
	// PaymentExists reports whether a payment with externalID is recorded.
	PaymentExists(ctx context.Context, externalID string) (bool, error)
	// ListPayments returns the subscription's payments newest first.
	ListPayments(ctx context.Context, subscriptionID string) ([]*Payment, error)

	// ClaimWebhookEvent records a Stripe event ID and reports false when it
	// was already recorded. ReleaseWebhookEvent forgets it again so a
	// failed delivery can be retried.
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string, at time.Time) (bool, error)
	ReleaseWebhookEvent(ctx context.Context, eventID string) error

	CreateEvent(ctx context.Context, e *Event) error
	// ListEvents returns events newest first, for one subscription or for
	// all when subscriptionID is empty.
	ListEvents(ctx context.Context, subscriptionID string, limit int) ([]*Event, error)
}
