//go:build integration

package platform

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Platform(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	testutil.SeedAcademy(t, db, "ac1")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	store := NewPostgresStore(db)

	for _, p := range DefaultPlans() {
		p.CreatedAt = now
		ok, err := store.CreatePlanIfAbsent(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := store.CreatePlanIfAbsent(ctx, DefaultPlans()[0])
	require.NoError(t, err)
	assert.False(t, ok)

	plans, err := store.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "basico", plans[0].Slug)
	assert.True(t, plans[0].Features.WhatsApp)
	assert.True(t, decimal.RequireFromString("49.90").Equal(plans[0].MonthlyPrice))

	pro, err := store.GetPlanBySlug(ctx, "profissional")
	require.NoError(t, err)
	assert.Equal(t, 200, pro.MaxStudents)
	_, err = store.GetPlan(ctx, "pln_missing")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	trialEnds := now.AddDate(0, 0, 30)
	sub := &Subscription{ID: "psub_1", AcademyID: "ac1", PlanID: pro.ID, Status: StatusTrial, Cycle: CycleMonthly,
		TrialEndsAt: &trialEnds, NextDueAt: &trialEnds, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateSubscription(ctx, sub))
	dup := *sub
	dup.ID = "psub_2"
	assert.ErrorIs(t, store.CreateSubscription(ctx, &dup), ErrSubscriptionExists)

	sub.Status = StatusActive
	sub.StripeSubscriptionID = "sub_stripe_1"
	sub.StripeCustomerID = "cus_1"
	require.NoError(t, store.UpdateSubscription(ctx, sub))

	got, err := store.GetSubscriptionByStripeID(ctx, "sub_stripe_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "cus_1", got.StripeCustomerID)
	require.NotNil(t, got.TrialEndsAt)
	assert.True(t, trialEnds.Equal(*got.TrialEndsAt))

	got, err = store.GetSubscriptionByAcademy(ctx, "ac1")
	require.NoError(t, err)
	assert.Equal(t, "psub_1", got.ID)
	_, err = store.GetSubscriptionByStripeID(ctx, "")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	active, err := store.ListSubscriptions(ctx, SubscriptionFilter{Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	none, err := store.ListSubscriptions(ctx, SubscriptionFilter{Status: StatusTrial})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "ppay_1", SubscriptionID: "psub_1",
		Amount: pro.MonthlyPrice, Status: PaymentPaid, DueAt: now, PaidAt: &now, Method: "card",
		ExternalID: "cs_1", CreatedAt: now}))
	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "ppay_2", SubscriptionID: "psub_1",
		Amount: pro.MonthlyPrice, Status: PaymentFailed, DueAt: now, Method: "card",
		ExternalID: "in_1", CreatedAt: now.Add(time.Minute)}))

	seen, err := store.PaymentExists(ctx, "cs_1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = store.PaymentExists(ctx, "cs_2")
	require.NoError(t, err)
	assert.False(t, seen)

	fresh, err := store.ClaimWebhookEvent(ctx, "evt_1", "invoice.payment_failed", now)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = store.ClaimWebhookEvent(ctx, "evt_1", "invoice.payment_failed", now)
	require.NoError(t, err)
	assert.False(t, fresh)
	require.NoError(t, store.ReleaseWebhookEvent(ctx, "evt_1"))
	fresh, err = store.ClaimWebhookEvent(ctx, "evt_1", "invoice.payment_failed", now)
	require.NoError(t, err)
	assert.True(t, fresh)

	payments, err := store.ListPayments(ctx, "psub_1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "ppay_2", payments[0].ID)
	assert.Nil(t, payments[0].PaidAt)

	require.NoError(t, store.CreateEvent(ctx, &Event{ID: "pev_1", SubscriptionID: "psub_1", Type: EventCreation,
		Description: "criada", Data: map[string]string{"plan": "profissional"}, CreatedAt: now}))
	require.NoError(t, store.CreateEvent(ctx, &Event{ID: "pev_2", SubscriptionID: "psub_1", Type: EventReactivation,
		CreatedAt: now.Add(time.Minute)}))

	events, err := store.ListEvents(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventReactivation, events[0].Type)
	assert.Nil(t, events[0].Data)

	events, err = store.ListEvents(ctx, "psub_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "profissional", events[1].Data["plan"])
}
