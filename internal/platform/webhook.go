package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/traces"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/otel/attribute"
)

// HandleWebhook verifies and applies a Stripe event. Unknown event types
// and events for unknown subscriptions are acknowledged without effect.
// Redelivered events are recognised by their Stripe event ID and skipped.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	if s.webhookSecret == "" {
		return ErrPaymentsNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		metrics.StripeWebhooksTotal.WithLabelValues("unknown", "invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	typ := string(event.Type)
	ctx, span := traces.StartSpan(ctx, "platform.webhook", attribute.String("stripe.event_type", typ))
	result := "processed"
	defer func() {
		if err != nil {
			result = "error"
		}
		metrics.StripeWebhooksTotal.WithLabelValues(typ, result).Inc()
		traces.End(span, err)
	}()

	fresh, err := s.store.ClaimWebhookEvent(ctx, event.ID, typ, s.clock.Now())
	if err != nil {
		return fmt.Errorf("claim stripe event: %w", err)
	}
	if !fresh {
		logging.L(ctx).Info("stripe event already applied", "event_id", event.ID, "type", typ)
		result = "duplicate"
		return nil
	}
	defer func() {
		if err != nil {
			if rerr := s.store.ReleaseWebhookEvent(ctx, event.ID); rerr != nil {
				logging.L(ctx).Error("release stripe event", "event_id", event.ID, "error", rerr)
			}
		}
	}()

	var handled bool
	switch typ {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return err
		}
		handled, err = s.checkoutCompleted(ctx, &sess)
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err = json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return err
		}
		handled, err = s.invoicePaid(ctx, &inv)
	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err = json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return err
		}
		handled, err = s.invoiceFailed(ctx, &inv)
	case "customer.subscription.deleted":
		var ss stripe.Subscription
		if err = json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return err
		}
		handled, err = s.subscriptionDeleted(ctx, &ss)
	}
	if err == nil && !handled {
		result = "ignored"
	}
	return err
}

func (s *Service) byStripeID(ctx context.Context, stripeSub *stripe.Subscription) (*Subscription, bool, error) {
	if stripeSub == nil {
		return nil, false, nil
	}
	sub, err := s.store.GetSubscriptionByStripeID(ctx, stripeSub.ID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		logging.L(ctx).Warn("stripe event for unknown subscription", "stripe_subscription_id", stripeSub.ID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// sessionPaid reports whether a checkout session already produced a payment.
// Stripe may send a second event for the same session.
func (s *Service) sessionPaid(ctx context.Context, sessionID string) (bool, error) {
	dup, err := s.store.PaymentExists(ctx, sessionID)
	if err == nil && dup {
		logging.L(ctx).Info("checkout session already applied", "session_id", sessionID)
	}
	return dup, err
}

func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, sess.Metadata["subscription_id"])
	if errors.Is(err, ErrSubscriptionNotFound) {
		logging.L(ctx).Warn("checkout for unknown subscription", "session_id", sess.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if dup, err := s.sessionPaid(ctx, sess.ID); err != nil || dup {
		return dup, err
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}

	cycle := Cycle(sess.Metadata["cycle"])
	if !cycle.Valid() {
		cycle = CycleMonthly
	}
	now := s.clock.Now()
	next := now.Add(cycle.Period())
	sub.Cycle = cycle
	sub.NextDueAt = &next
	if sess.Subscription != nil {
		sub.StripeSubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil && sub.StripeCustomerID == "" {
		sub.StripeCustomerID = sess.Customer.ID
	}
	if sub.Status == StatusActive {
		sub.UpdatedAt = now
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return false, err
		}
	} else if err := s.move(ctx, sub, StatusActive, EventReactivation,
		fmt.Sprintf("Assinatura ativada com ciclo %s", cycle)); err != nil {
		return false, err
	}
	if _, err := s.academies.SetActive(ctx, sub.AcademyID, true); err != nil {
		return false, err
	}

	amount, _ := plan.Price(cycle)
	if err := s.store.CreatePayment(ctx, &Payment{
		ID:             idgen.WithPrefix("ppay_"),
		SubscriptionID: sub.ID,
		Amount:         amount,
		Status:         PaymentPaid,
		DueAt:          next,
		PaidAt:         &now,
		Method:         "card",
		ExternalID:     sess.ID,
		CreatedAt:      now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func cents(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

func (s *Service) invoicePaid(ctx context.Context, inv *stripe.Invoice) (bool, error) {
	sub, ok, err := s.byStripeID(ctx, inv.Subscription)
	if err != nil || !ok {
		return false, err
	}
	now := s.clock.Now()
	amount := cents(inv.AmountPaid)
	if err := s.store.CreatePayment(ctx, &Payment{
		ID:             idgen.WithPrefix("ppay_"),
		SubscriptionID: sub.ID,
		Amount:         amount,
		Status:         PaymentPaid,
		DueAt:          now,
		PaidAt:         &now,
		Method:         "card",
		ExternalID:     inv.ID,
		CreatedAt:      now,
	}); err != nil {
		return false, err
	}

	next := now.Add(sub.Cycle.Period())
	sub.NextDueAt = &next
	if sub.Status == StatusSuspended {
		if err := s.move(ctx, sub, StatusActive, EventReactivation, "Assinatura reativada após pagamento"); err != nil {
			return false, err
		}
		if _, err := s.academies.SetActive(ctx, sub.AcademyID, true); err != nil {
			return false, err
		}
	} else {
		sub.UpdatedAt = now
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return false, err
		}
	}
	return true, s.event(ctx, sub, EventPayment, "Pagamento recorrente confirmado",
		map[string]string{"amount": amount.StringFixed(2), "invoice": inv.ID})
}

func (s *Service) invoiceFailed(ctx context.Context, inv *stripe.Invoice) (bool, error) {
	sub, ok, err := s.byStripeID(ctx, inv.Subscription)
	if err != nil || !ok {
		return false, err
	}
	now := s.clock.Now()
	amount := cents(inv.AmountDue)
	if err := s.store.CreatePayment(ctx, &Payment{
		ID:             idgen.WithPrefix("ppay_"),
		SubscriptionID: sub.ID,
		Amount:         amount,
		Status:         PaymentFailed,
		DueAt:          now,
		Method:         "card",
		ExternalID:     inv.ID,
		CreatedAt:      now,
	}); err != nil {
		return false, err
	}
	if err := s.event(ctx, sub, EventPaymentFailure, "Falha no pagamento da assinatura",
		map[string]string{"amount": amount.StringFixed(2), "invoice": inv.ID}); err != nil {
		return false, err
	}
	if sub.Status == StatusActive && sub.NextDueAt != nil && now.After(*sub.NextDueAt) {
		if err := s.move(ctx, sub, StatusSuspended, EventSuspension, "Assinatura suspensa por falta de pagamento"); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, ss *stripe.Subscription) (bool, error) {
	sub, ok, err := s.byStripeID(ctx, ss)
	if err != nil || !ok {
		return false, err
	}
	if sub.Status == StatusCanceled {
		return true, nil
	}
	return true, s.move(ctx, sub, StatusCanceled, EventCancellation, "Assinatura cancelada no Stripe")
}
