package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/auth"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/idgen"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
	"github.com/shopspring/decimal"
)

// TrialWarningDays is how close to its end a trial shows on the dashboard.
const TrialWarningDays = 3

// Academies is the part of the tenant service the platform drives.
type Academies interface {
	Create(ctx context.Context, in tenant.CreateInput) (*tenant.Academy, error)
	Get(ctx context.Context, id string) (*tenant.Academy, error)
	SetActive(ctx context.Context, academyID string, active bool) (*tenant.Academy, error)
	ListAllAcademies(ctx context.Context, activeOnly bool) ([]*tenant.Academy, error)
}

// KeyIssuer issues the owner's first staff API key at signup.
type KeyIssuer interface {
	GenerateKey(ctx context.Context, academyID, userID, name string) (string, *auth.APIKey, error)
}

// Service runs the platform's plans, subscriptions and payments.
type Service struct {
	store         Store
	academies     Academies
	payments      Payments
	keys          KeyIssuer
	webhookSecret string
	baseURL       string
	trialDays     int
	clock         clock.Clock
}

// NewService creates a platform service. New academies get trialDays of
// free use.
func NewService(store Store, academies Academies, trialDays int, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, academies: academies, trialDays: trialDays, clock: clk, baseURL: "http://localhost:8080"}
}

// WithPayments enables checkout and webhooks. baseURL is where checkout
// redirects back to.
func (s *Service) WithPayments(p Payments, webhookSecret, baseURL string) *Service {
	s.payments = p
	s.webhookSecret = webhookSecret
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithKeys issues an owner API key on signup.
func (s *Service) WithKeys(k KeyIssuer) *Service {
	s.keys = k
	return s
}

func (s *Service) event(ctx context.Context, sub *Subscription, typ EventType, desc string, data map[string]string) error {
	e := &Event{
		ID:             idgen.WithPrefix("pev_"),
		SubscriptionID: sub.ID,
		Type:           typ,
		Description:    desc,
		Data:           data,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return fmt.Errorf("record %s event: %w", typ, err)
	}
	return nil
}

// move applies a status change through the transition table and records it.
func (s *Service) move(ctx context.Context, sub *Subscription, to Status, typ EventType, desc string) error {
	if !CanTransition(sub.Status, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sub.Status, to)
	}
	from := sub.Status
	sub.Status = to
	sub.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}
	logging.L(ctx).Info("platform subscription status changed",
		"subscription_id", sub.ID, "academy_id", sub.AcademyID, "from", from, "to", to)
	return s.event(ctx, sub, typ, desc, map[string]string{"from": string(from), "to": string(to)})
}

// --- plans ---

// SeedPlans inserts the default catalogue, skipping plans whose slug
// already exists, and returns how many it created.
func (s *Service) SeedPlans(ctx context.Context) (int, error) {
	created := 0
	now := s.clock.Now()
	for _, p := range DefaultPlans() {
		p.CreatedAt = now
		ok, err := s.store.CreatePlanIfAbsent(ctx, p)
		if err != nil {
			return created, fmt.Errorf("seed plan %s: %w", p.Slug, err)
		}
		if ok {
			created++
		}
	}
	logging.L(ctx).Info("platform plans seeded", "created", created)
	return created, nil
}

// ListPlans lists the catalogue.
func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	return s.store.ListPlans(ctx, activeOnly)
}

// --- signup ---

// SignupInput is the public registration form.
type SignupInput struct {
	Name           string `json:"name" validate:"required,max=100"`
	Slug           string `json:"slug" validate:"omitempty,max=64"`
	TaxID          string `json:"taxId" validate:"max=18"`
	Phone          string `json:"phone" validate:"max=20"`
	Address        string `json:"address" validate:"max=255"`
	WhatsAppNumber string `json:"whatsappNumber" validate:"omitempty,phone"`
	OwnerEmail     string `json:"ownerEmail" validate:"required,email"`
	Plan           string `json:"plan" validate:"required"`
}

// SignupResult is the new academy with its trial. APIKey is shown once.
type SignupResult struct {
	Academy      *tenant.Academy `json:"academy"`
	Subscription *Subscription   `json:"subscription"`
	Plan         *Plan           `json:"plan"`
	APIKey       string          `json:"apiKey,omitempty"`
}

// Signup registers an academy on a plan with a trial subscription.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	plan, err := s.store.GetPlanBySlug(ctx, strings.TrimSpace(in.Plan))
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotFound
	}
	owner := strings.ToLower(strings.TrimSpace(in.OwnerEmail))

	academy, err := s.academies.Create(ctx, tenant.CreateInput{
		Name:           in.Name,
		Slug:           in.Slug,
		TaxID:          in.TaxID,
		OwnerID:        owner,
		Phone:          in.Phone,
		Address:        in.Address,
		WhatsAppNumber: in.WhatsAppNumber,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	trialEnds := now.AddDate(0, 0, s.trialDays)
	sub := &Subscription{
		ID:          idgen.WithPrefix("psub_"),
		AcademyID:   academy.ID,
		PlanID:      plan.ID,
		Status:      StatusTrial,
		Cycle:       CycleMonthly,
		TrialEndsAt: &trialEnds,
		NextDueAt:   &trialEnds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create platform subscription: %w", err)
	}
	if err := s.event(ctx, sub, EventCreation,
		fmt.Sprintf("Academia criada com plano %s em período trial", plan.Name),
		map[string]string{"plan": plan.Slug}); err != nil {
		return nil, err
	}
	if err := s.event(ctx, sub, EventTrialStart,
		fmt.Sprintf("Trial de %d dias iniciado", s.trialDays),
		map[string]string{"trial_ends_at": trialEnds.Format(time.RFC3339)}); err != nil {
		return nil, err
	}

	res := &SignupResult{Academy: academy, Subscription: sub, Plan: plan}
	if s.keys != nil {
		raw, _, err := s.keys.GenerateKey(ctx, academy.ID, owner, "owner")
		if err != nil {
			return nil, fmt.Errorf("issue owner key: %w", err)
		}
		res.APIKey = raw
	}
	logging.L(ctx).Info("academy signed up", "academy_id", academy.ID, "plan", plan.Slug, "trial_ends_at", trialEnds)
	return res, nil
}

// --- tenant view ---

// Overview is an academy's subscription with its plan and payments.
type Overview struct {
	Subscription *Subscription `json:"subscription"`
	Plan         *Plan         `json:"plan"`
	Payments     []*Payment    `json:"payments"`
	Events       []*Event      `json:"events"`
}

// SubscriptionFor returns the academy's platform subscription overview.
func (s *Service) SubscriptionFor(ctx context.Context, academyID string) (*Overview, error) {
	sub, err := s.store.GetSubscriptionByAcademy(ctx, academyID)
	if err != nil {
		return nil, err
	}
	return s.overview(ctx, sub)
}

func (s *Service) overview(ctx context.Context, sub *Subscription) (*Overview, error) {
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, sub.ID, 20)
	if err != nil {
		return nil, err
	}
	return &Overview{Subscription: sub, Plan: plan, Payments: payments, Events: events}, nil
}

// --- checkout ---

// Checkout opens a Stripe Checkout session for the academy's plan on cycle
// and returns its URL. A Stripe customer is created on first use.
func (s *Service) Checkout(ctx context.Context, academyID string, cycle Cycle) (string, error) {
	if s.payments == nil {
		return "", ErrPaymentsNotConfigured
	}
	if cycle == "" {
		cycle = CycleMonthly
	}
	if !cycle.Valid() {
		return "", ErrInvalidCycle
	}
	sub, err := s.store.GetSubscriptionByAcademy(ctx, academyID)
	if err != nil {
		return "", err
	}
	if sub.Status == StatusActive {
		return "", ErrAlreadyActive
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return "", err
	}
	_, priceID := plan.Price(cycle)
	if priceID == "" {
		return "", fmt.Errorf("%w: %s %s", ErrPriceNotConfigured, plan.Slug, cycle)
	}
	academy, err := s.academies.Get(ctx, academyID)
	if err != nil {
		return "", err
	}

	if sub.StripeCustomerID == "" {
		id, err := s.payments.CreateCustomer(ctx, academy.Name, academy.OwnerID, map[string]string{
			"academy_id":   academy.ID,
			"academy_slug": academy.Slug,
		})
		if err != nil {
			return "", err
		}
		sub.StripeCustomerID = id
		sub.UpdatedAt = s.clock.Now()
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return "", err
		}
	}

	url, err := s.payments.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID: sub.StripeCustomerID,
		PriceID:    priceID,
		SuccessURL: fmt.Sprintf("%s/pagamento/sucesso/?academia=%s", s.baseURL, academy.Slug),
		CancelURL:  fmt.Sprintf("%s/pagamento/cancelado/?academia=%s", s.baseURL, academy.Slug),
		Metadata: map[string]string{
			"academy_id":      academy.ID,
			"subscription_id": sub.ID,
			"cycle":           string(cycle),
		},
	})
	if err != nil {
		return "", err
	}
	logging.L(ctx).Info("checkout session created", "academy_id", academyID, "cycle", cycle)
	return url, nil
}

// --- superadmin ---

// ChangePlan moves a subscription to another plan, recording an upgrade
// or a downgrade by monthly price.
func (s *Service) ChangePlan(ctx context.Context, subscriptionID, planSlug string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	next, err := s.store.GetPlanBySlug(ctx, planSlug)
	if err != nil {
		return nil, err
	}
	if next.ID == current.ID {
		return nil, ErrSamePlan
	}
	typ := EventUpgrade
	if next.MonthlyPrice.LessThan(current.MonthlyPrice) {
		typ = EventDowngrade
	}
	sub.PlanID = next.ID
	sub.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.event(ctx, sub, typ, fmt.Sprintf("Plano alterado de %s para %s", current.Name, next.Name),
		map[string]string{"from": current.Slug, "to": next.Slug}); err != nil {
		return nil, err
	}
	return sub, nil
}

// Suspend suspends a subscription and deactivates its academy.
func (s *Service) Suspend(ctx context.Context, subscriptionID, reason string) (*Subscription, error) {
	return s.adminMove(ctx, subscriptionID, StatusSuspended, EventSuspension, describe("Assinatura suspensa", reason), false)
}

// Reactivate reactivates a suspended, expired or canceled subscription and
// its academy.
func (s *Service) Reactivate(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return s.adminMove(ctx, subscriptionID, StatusActive, EventReactivation, "Assinatura reativada", true)
}

// Cancel cancels a subscription and deactivates its academy.
func (s *Service) Cancel(ctx context.Context, subscriptionID, reason string) (*Subscription, error) {
	return s.adminMove(ctx, subscriptionID, StatusCanceled, EventCancellation, describe("Assinatura cancelada", reason), false)
}

func describe(base, reason string) string {
	if reason = strings.TrimSpace(reason); reason != "" {
		return base + ": " + reason
	}
	return base
}

func (s *Service) adminMove(ctx context.Context, subscriptionID string, to Status, typ EventType, desc string, active bool) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := s.move(ctx, sub, to, typ, desc); err != nil {
		return nil, err
	}
	if _, err := s.academies.SetActive(ctx, sub.AcademyID, active); err != nil {
		return nil, fmt.Errorf("set academy active=%t: %w", active, err)
	}
	return sub, nil
}

// --- limits ---

// CheckLimit fails with ErrPlanLimit when the academy's plan caps resource
// at or below current, or when its subscription no longer allows new
// records. Academies without a platform subscription are unlimited.
func (s *Service) CheckLimit(ctx context.Context, academyID, resource string, current int) error {
	sub, err := s.store.GetSubscriptionByAcademy(ctx, academyID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !sub.Status.Usable() {
		return fmt.Errorf("%w: subscription is %s", ErrPlanLimit, sub.Status)
	}
	if sub.Status == StatusTrial && sub.TrialEndsAt != nil && s.clock.Now().After(*sub.TrialEndsAt) {
		return fmt.Errorf("%w: trial ended", ErrPlanLimit)
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	if limit := plan.Limit(resource); limit > 0 && current >= limit {
		return fmt.Errorf("%w: plan %s allows %d %s", ErrPlanLimit, plan.Name, limit, resource)
	}
	return nil
}

// --- trials ---

// ExpireTrials moves every trial past its end to expired and returns how
// many it moved. Failures on one subscription are logged and skipped.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	trials, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{Status: StatusTrial})
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	expired := 0
	for _, sub := range trials {
		if sub.TrialEndsAt == nil || !now.After(*sub.TrialEndsAt) {
			continue
		}
		if err := s.move(ctx, sub, StatusExpired, EventTrialEnd, "Período trial encerrado"); err != nil {
			logging.L(ctx).Error("expire trial failed", "subscription_id", sub.ID, "academy_id", sub.AcademyID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// --- dashboard ---

// AcademyTotals counts academies by active flag.
type AcademyTotals struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// ExpiringTrial is a trial ending within TrialWarningDays.
type ExpiringTrial struct {
	SubscriptionID string    `json:"subscriptionId"`
	AcademyID      string    `json:"academyId"`
	AcademyName    string    `json:"academyName"`
	TrialEndsAt    time.Time `json:"trialEndsAt"`
}

// Dashboard is the superadmin overview.
type Dashboard struct {
	Academies      AcademyTotals   `json:"academies"`
	Subscriptions  map[Status]int  `json:"subscriptions"`
	EstimatedMRR   decimal.Decimal `json:"estimatedMrr"`
	TrialsExpiring []ExpiringTrial `json:"trialsExpiring"`
	RecentEvents   []*Event        `json:"recentEvents"`
}

// Dashboard summarises academies, subscriptions and estimated monthly
// recurring revenue across the platform.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	academies, err := s.academies.ListAllAcademies(ctx, false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(academies))
	d := &Dashboard{Subscriptions: make(map[Status]int, len(Statuses)), EstimatedMRR: decimal.Zero}
	for _, a := range academies {
		names[a.ID] = a.Name
		d.Academies.Total++
		if a.Active {
			d.Academies.Active++
		} else {
			d.Academies.Inactive++
		}
	}

	plans, err := s.store.ListPlans(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}

	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{})
	if err != nil {
		return nil, err
	}
	for _, st := range Statuses {
		d.Subscriptions[st] = 0
	}
	horizon := s.clock.Now().AddDate(0, 0, TrialWarningDays)
	for _, sub := range subs {
		d.Subscriptions[sub.Status]++
		switch sub.Status {
		case StatusActive:
			if p, ok := byID[sub.PlanID]; ok {
				d.EstimatedMRR = d.EstimatedMRR.Add(p.MonthlyRevenue(sub.Cycle))
			}
		case StatusTrial:
			if sub.TrialEndsAt != nil && !sub.TrialEndsAt.After(horizon) {
				d.TrialsExpiring = append(d.TrialsExpiring, ExpiringTrial{
					SubscriptionID: sub.ID,
					AcademyID:      sub.AcademyID,
					AcademyName:    names[sub.AcademyID],
					TrialEndsAt:    *sub.TrialEndsAt,
				})
			}
		}
	}
	for st, n := range d.Subscriptions {
		metrics.PlatformSubscriptions.WithLabelValues(string(st)).Set(float64(n))
	}

	if d.RecentEvents, err = s.store.ListEvents(ctx, "", 10); err != nil {
		return nil, err
	}
	return d, nil
}

// AcademyRow is one line of the superadmin academy list.
type AcademyRow struct {
	Academy      *tenant.Academy `json:"academy"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Plan         *Plan           `json:"plan,omitempty"`
}

// ListAcademies lists every academy with its platform subscription.
func (s *Service) ListAcademies(ctx context.Context) ([]AcademyRow, error) {
	academies, err := s.academies.ListAllAcademies(ctx, false)
	if err != nil {
		return nil, err
	}
	plans, err := s.store.ListPlans(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	out := make([]AcademyRow, 0, len(academies))
	for _, a := range academies {
		row := AcademyRow{Academy: a}
		sub, err := s.store.GetSubscriptionByAcademy(ctx, a.ID)
		switch {
		case err == nil:
			row.Subscription = sub
			row.Plan = byID[sub.PlanID]
		case !errors.Is(err, ErrSubscriptionNotFound):
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
