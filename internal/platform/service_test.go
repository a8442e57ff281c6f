package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/auth"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// stepClock is a settable clock.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePayments struct {
	customers []string
	sessions  []CheckoutRequest
	err       error
}

func (p *fakePayments) CreateCustomer(_ context.Context, name, email string, _ map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.customers = append(p.customers, name+"|"+email)
	return "cus_test", nil
}

func (p *fakePayments) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.sessions = append(p.sessions, req)
	return "https://checkout.stripe.test/c/pay/cs_test", nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	tenants  *tenant.Service
	payments *fakePayments
	keys     *auth.Manager
	clock    *stepClock
}

const testWebhookSecret = "whsec_test"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &stepClock{now: testNow}
	store := NewMemoryStore()
	tenants := tenant.NewService(tenant.NewMemoryStore(), clk)
	payments := &fakePayments{}
	keys := auth.NewManager(auth.NewMemoryStore())
	svc := NewService(store, tenants, 30, clk).
		WithPayments(payments, testWebhookSecret, "https://app.dojo.test/").
		WithKeys(keys)
	_, err := svc.SeedPlans(context.Background())
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, tenants: tenants, payments: payments, keys: keys, clock: clk}
}

func (f *fixture) signup(t *testing.T, name, plan string) *SignupResult {
	t.Helper()
	res, err := f.svc.Signup(context.Background(), SignupInput{
		Name:       name,
		OwnerEmail: validation.Slugify(name) + "@example.com",
		Plan:       plan,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) events(t *testing.T, subID string) []EventType {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), subID, 0)
	require.NoError(t, err)
	out := make([]EventType, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e.Type
	}
	return out
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusTrial, StatusActive))
	assert.True(t, CanTransition(StatusTrial, StatusExpired))
	assert.True(t, CanTransition(StatusSuspended, StatusActive))
	assert.True(t, CanTransition(StatusCanceled, StatusActive))
	assert.False(t, CanTransition(StatusActive, StatusTrial))
	assert.False(t, CanTransition(StatusActive, StatusExpired))
	assert.False(t, CanTransition(StatusCanceled, StatusSuspended))
	assert.False(t, CanTransition(StatusActive, StatusActive))
}

func TestSeedPlans_Idempotent(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.SeedPlans(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	plans, err := f.svc.ListPlans(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []string{"basico", "profissional", "enterprise"}, []string{plans[0].Slug, plans[1].Slug, plans[2].Slug})
	assert.True(t, plans[1].Popular)
	assert.Equal(t, "49.9", plans[0].MonthlyPrice.String())
	assert.Equal(t, 50, plans[0].MaxStudents)
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t, "Dojo Central", "profissional")

	assert.Equal(t, "dojo-central", res.Academy.Slug)
	assert.Equal(t, "dojo-central@example.com", res.Academy.OwnerID)
	assert.Equal(t, StatusTrial, res.Subscription.Status)
	assert.Equal(t, CycleMonthly, res.Subscription.Cycle)
	require.NotNil(t, res.Subscription.TrialEndsAt)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *res.Subscription.TrialEndsAt)
	assert.Equal(t, "profissional", res.Plan.Slug)
	assert.Equal(t, []EventType{EventCreation, EventTrialStart}, f.events(t, res.Subscription.ID))

	key, err := f.keys.ValidateKey(context.Background(), res.APIKey)
	require.NoError(t, err)
	assert.Equal(t, res.Academy.ID, key.AcademyID)

	// same name gets a suffixed slug
	again, err := f.svc.Signup(context.Background(), SignupInput{
		Name: "Dojo Central", OwnerEmail: "Outro@Example.com", Plan: "basico",
	})
	require.NoError(t, err)
	assert.Equal(t, "dojo-central-1", again.Academy.Slug)
	assert.Equal(t, "outro@example.com", again.Academy.OwnerID)

	_, err = f.svc.Signup(context.Background(), SignupInput{
		Name: "Dojo Leste", OwnerEmail: "outro@example.com", Plan: "basico",
	})
	assert.ErrorIs(t, err, tenant.ErrOwnerTaken)
}

func TestSignup_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Signup(context.Background(), SignupInput{Name: "X", OwnerEmail: "x@example.com", Plan: "gold"})
	assert.ErrorIs(t, err, ErrPlanNotFound)

	_, err = f.svc.Signup(context.Background(), SignupInput{Name: "X", OwnerEmail: "not-an-email", Plan: "basico"})
	var verrs validation.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, "Dojo Central", "basico")

	_, err := f.svc.Checkout(ctx, res.Academy.ID, CycleMonthly)
	assert.ErrorIs(t, err, ErrPriceNotConfigured)

	plan, err := f.store.GetPlanBySlug(ctx, "basico")
	require.NoError(t, err)
	plan.StripeMonthlyPriceID = "price_m"
	plan.StripeAnnualPriceID = "price_a"
	f.store.plans[plan.ID] = plan

	url, err := f.svc.Checkout(ctx, res.Academy.ID, CycleAnnual)
	require.NoError(t, err)
	assert.Contains(t, url, "checkout.stripe.test")
	require.Len(t, f.payments.sessions, 1)
	req := f.payments.sessions[0]
	assert.Equal(t, "cus_test", req.CustomerID)
	assert.Equal(t, "price_a", req.PriceID)
	assert.Equal(t, "https://app.dojo.test/pagamento/sucesso/?academia=dojo-central", req.SuccessURL)
	assert.Equal(t, map[string]string{
		"academy_id": res.Academy.ID, "subscription_id": res.Subscription.ID, "cycle": "annual",
	}, req.Metadata)

	// the customer is created once
	_, err = f.svc.Checkout(ctx, res.Academy.ID, "")
	require.NoError(t, err)
	assert.Len(t, f.payments.customers, 1)
	assert.Equal(t, "price_m", f.payments.sessions[1].PriceID)

	_, err = f.svc.Checkout(ctx, res.Academy.ID, "weekly")
	assert.ErrorIs(t, err, ErrInvalidCycle)
}

func TestCheckout_NotConfigured(t *testing.T) {
	clk := &stepClock{now: testNow}
	svc := NewService(NewMemoryStore(), tenant.NewService(tenant.NewMemoryStore(), clk), 30, clk)
	_, err := svc.Checkout(context.Background(), "acd_1", CycleMonthly)
	assert.ErrorIs(t, err, ErrPaymentsNotConfigured)
}

func TestAdminTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, "Dojo Central", "basico")
	subID := res.Subscription.ID

	sub, err := f.svc.Suspend(ctx, subID, "fraude")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, sub.Status)
	a, err := f.tenants.Get(ctx, res.Academy.ID)
	require.NoError(t, err)
	assert.False(t, a.Active)

	_, err = f.svc.Suspend(ctx, subID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	sub, err = f.svc.Reactivate(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	a, err = f.tenants.Get(ctx, res.Academy.ID)
	require.NoError(t, err)
	assert.True(t, a.Active)

	sub, err = f.svc.Cancel(ctx, subID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)

	assert.Equal(t, []EventType{
		EventCreation, EventTrialStart, EventSuspension, EventReactivation, EventCancellation,
	}, f.events(t, subID))

	events, err := f.store.ListEvents(ctx, subID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Assinatura suspensa: fraude", events[2].Description)
}

func TestChangePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, "Dojo Central", "basico")

	sub, err := f.svc.ChangePlan(ctx, res.Subscription.ID, "enterprise")
	require.NoError(t, err)
	assert.Equal(t, "pln_enterprise", sub.PlanID)

	_, err = f.svc.ChangePlan(ctx, res.Subscription.ID, "profissional")
	require.NoError(t, err)

	_, err = f.svc.ChangePlan(ctx, res.Subscription.ID, "profissional")
	assert.ErrorIs(t, err, ErrSamePlan)

	assert.Equal(t, []EventType{EventCreation, EventTrialStart, EventUpgrade, EventDowngrade}, f.events(t, res.Subscription.ID))
}

func TestCheckLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.signup(t, "Dojo Central", "basico")
	id := res.Academy.ID

	assert.NoError(t, f.svc.CheckLimit(ctx, id, roster.ResourceStudents, 49))
	err := f.svc.CheckLimit(ctx, id, roster.ResourceStudents, 50)
	assert.ErrorIs(t, err, ErrPlanLimit)
	assert.ErrorIs(t, err, roster.ErrLimitReached)
	assert.ErrorIs(t, f.svc.CheckLimit(ctx, id, roster.ResourceDisciplines, 2), ErrPlanLimit)
	assert.NoError(t, f.svc.CheckLimit(ctx, "acd_legacy", roster.ResourceStudents, 10_000))

	f.clock.Advance(31 * 24 * time.Hour)
	assert.ErrorIs(t, f.svc.CheckLimit(ctx, id, roster.ResourceStudents, 0), ErrPlanLimit)
}

func TestCheckLimit_WiredIntoRoster(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t, "Dojo Central", "basico")
	rs := roster.NewService(roster.NewMemoryStore(), f.clock).WithLimits(f.svc)
	ctx := tenant.WithAcademy(context.Background(), res.Academy)

	for i := range 2 {
		_, err := rs.CreateDiscipline(ctx, roster.DisciplineInput{Name: []string{"Judô", "Karatê"}[i]})
		require.NoError(t, err)
	}
	_, err := rs.CreateDiscipline(ctx, roster.DisciplineInput{Name: "Muay Thai"})
	assert.ErrorIs(t, err, roster.ErrLimitReached)
}

func TestExpireTrials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.signup(t, "Dojo Central", "basico")
	f.clock.Advance(10 * 24 * time.Hour)
	late := f.signup(t, "Dojo Norte", "basico")

	n, err := f.svc.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(21 * 24 * time.Hour)
	n, err = f.svc.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sub, err := f.store.GetSubscription(ctx, early.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, sub.Status)
	assert.Contains(t, f.events(t, sub.ID), EventTrialEnd)

	sub, err = f.store.GetSubscription(ctx, late.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTrial, sub.Status)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monthly := f.signup(t, "Dojo Central", "profissional")
	annual := f.signup(t, "Dojo Norte", "enterprise")
	f.signup(t, "Dojo Sul", "basico")

	for _, r := range []*SignupResult{monthly, annual} {
		sub, err := f.store.GetSubscription(ctx, r.Subscription.ID)
		require.NoError(t, err)
		sub.Status = StatusActive
		if r == annual {
			sub.Cycle = CycleAnnual
		}
		require.NoError(t, f.store.UpdateSubscription(ctx, sub))
	}
	f.clock.Advance(28 * 24 * time.Hour)

	d, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, AcademyTotals{Total: 3, Active: 3}, d.Academies)
	assert.Equal(t, 2, d.Subscriptions[StatusActive])
	assert.Equal(t, 1, d.Subscriptions[StatusTrial])
	assert.Equal(t, 0, d.Subscriptions[StatusCanceled])
	// 99.90 + 1999.00/12
	assert.Equal(t, "266.48", d.EstimatedMRR.StringFixed(2))
	require.Len(t, d.TrialsExpiring, 1)
	assert.Equal(t, "Dojo Sul", d.TrialsExpiring[0].AcademyName)
	assert.NotEmpty(t, d.RecentEvents)
}

func TestListAcademies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "Dojo Central", "basico")
	_, err := f.tenants.Create(ctx, tenant.CreateInput{Name: "Legacy Dojo"})
	require.NoError(t, err)

	rows, err := f.svc.ListAcademies(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var withSub int
	for _, r := range rows {
		if r.Subscription != nil {
			withSub++
			assert.Equal(t, "basico", r.Plan.Slug)
		}
	}
	assert.Equal(t, 1, withSub)
}
