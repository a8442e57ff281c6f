package platform

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// CheckoutRequest describes a subscription-mode checkout session.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Payments creates customers and checkout sessions at the payment provider.
type Payments interface {
	CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (string, error)
	// CreateCheckoutSession returns the hosted checkout URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// StripePayments implements Payments with the Stripe API.
type StripePayments struct {
	api *client.API
}

// NewStripePayments creates a Stripe client for secretKey. backends may be
// nil to use Stripe's hosted API.
func NewStripePayments(secretKey string, backends *stripe.Backends) *StripePayments {
	return &StripePayments{api: client.New(secretKey, backends)}
}

func (p *StripePayments) CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{Name: stripe.String(name)}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer: %w", err)
	}
	return c.ID, nil
}

func (p *StripePayments) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(req.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout: %w", err)
	}
	return sess.URL, nil
}

var _ Payments = (*StripePayments)(nil)
