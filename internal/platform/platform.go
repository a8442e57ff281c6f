// Package platform sells the academy software itself: the SaaS plan
// catalogue, each academy's platform subscription and its payments, and
// an append-only event history per subscription.
//
// Payments are taken through Stripe Checkout. The webhook handler moves
// subscriptions between statuses; every move goes through the transition
// table below.
package platform

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/dojo/internal/roster"
	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound          = errors.New("platform: plan not found")
	ErrSubscriptionNotFound  = errors.New("platform: subscription not found")
	ErrSubscriptionExists    = errors.New("platform: academy already has a subscription")
	ErrInvalidTransition     = errors.New("platform: invalid subscription status transition")
	ErrInvalidCycle          = errors.New("platform: cycle must be monthly or annual")
	ErrAlreadyActive         = errors.New("platform: subscription is already active")
	ErrSamePlan              = errors.New("platform: subscription is already on that plan")
	ErrPaymentsNotConfigured = errors.New("platform: payments not configured")
	ErrPriceNotConfigured    = errors.New("platform: plan has no price for that cycle")
	ErrInvalidSignature      = errors.New("platform: invalid webhook signature")

	// ErrPlanLimit is returned by CheckLimit and matches roster.ErrLimitReached.
	ErrPlanLimit = fmt.Errorf("platform: %w", roster.ErrLimitReached)
)

// Status is a platform subscription status.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCanceled  Status = "canceled"
	StatusExpired   Status = "expired"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusTrial, StatusActive, StatusSuspended, StatusCanceled, StatusExpired}

var transitions = map[Status][]Status{
	StatusTrial:     {StatusActive, StatusSuspended, StatusCanceled, StatusExpired},
	StatusActive:    {StatusSuspended, StatusCanceled},
	StatusSuspended: {StatusActive, StatusCanceled},
	StatusExpired:   {StatusActive, StatusCanceled},
	StatusCanceled:  {StatusActive},
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Usable reports whether the academy may keep adding records.
func (s Status) Usable() bool {
	return s == StatusTrial || s == StatusActive
}

// Cycle is the billing period of a subscription.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleAnnual  Cycle = "annual"
)

// Valid reports whether c is a known cycle.
func (c Cycle) Valid() bool {
	return c == CycleMonthly || c == CycleAnnual
}

// Period is how far one payment moves the next due date.
func (c Cycle) Period() time.Duration {
	if c == CycleAnnual {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Features are the plan's feature switches.
type Features struct {
	WhatsApp        bool `json:"whatsapp"`
	Graduation      bool `json:"graduation"`
	AdvancedReports bool `json:"advancedReports"`
	AutoBackup      bool `json:"autoBackup"`
	PrioritySupport bool `json:"prioritySupport"`
	APIAccess       bool `json:"apiAccess"`
}

// Plan is a SaaS plan academies subscribe to.
type Plan struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Slug                 string          `json:"slug"`
	Description          string          `json:"description"`
	MonthlyPrice         decimal.Decimal `json:"monthlyPrice"`
	AnnualPrice          decimal.Decimal `json:"annualPrice"`
	MaxStudents          int             `json:"maxStudents"`
	MaxInstructors       int             `json:"maxInstructors"`
	MaxDisciplines       int             `json:"maxDisciplines"`
	MaxClasses           int             `json:"maxClasses"`
	Features             Features        `json:"features"`
	StripeMonthlyPriceID string          `json:"-"`
	StripeAnnualPriceID  string          `json:"-"`
	Active               bool            `json:"active"`
	Popular              bool            `json:"popular"`
	Order                int             `json:"order"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// Limit returns the plan's cap for a roster resource, or 0 for none.
func (p *Plan) Limit(resource string) int {
	switch resource {
	case roster.ResourceStudents:
		return p.MaxStudents
	case roster.ResourceInstructors:
		return p.MaxInstructors
	case roster.ResourceDisciplines:
		return p.MaxDisciplines
	case roster.ResourceClasses:
		return p.MaxClasses
	}
	return 0
}

// Price returns the plan price and Stripe price ID for a cycle.
func (p *Plan) Price(c Cycle) (decimal.Decimal, string) {
	if c == CycleAnnual {
		return p.AnnualPrice, p.StripeAnnualPriceID
	}
	return p.MonthlyPrice, p.StripeMonthlyPriceID
}

// MonthlyRevenue is the plan's contribution to MRR on cycle c.
func (p *Plan) MonthlyRevenue(c Cycle) decimal.Decimal {
	if c == CycleAnnual {
		return p.AnnualPrice.Div(decimal.NewFromInt(12)).Round(2)
	}
	return p.MonthlyPrice
}

// Subscription is an academy's platform subscription. One per academy.
type Subscription struct {
	ID                   string     `json:"id"`
	AcademyID            string     `json:"academyId"`
	PlanID               string     `json:"planId"`
	Status               Status     `json:"status"`
	Cycle                Cycle      `json:"cycle"`
	TrialEndsAt          *time.Time `json:"trialEndsAt,omitempty"`
	NextDueAt            *time.Time `json:"nextDueAt,omitempty"`
	StripeCustomerID     string     `json:"-"`
	StripeSubscriptionID string     `json:"-"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// PaymentStatus is the state of a platform payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment is one charge against a platform subscription.
type Payment struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscriptionId"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	DueAt          time.Time       `json:"dueAt"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	Method         string          `json:"method"`
	ExternalID     string          `json:"externalId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// EventType classifies subscription history entries.
type EventType string

const (
	EventCreation       EventType = "creation"
	EventUpgrade        EventType = "upgrade"
	EventDowngrade      EventType = "downgrade"
	EventSuspension     EventType = "suspension"
	EventReactivation   EventType = "reactivation"
	EventCancellation   EventType = "cancellation"
	EventPayment        EventType = "payment"
	EventPaymentFailure EventType = "payment_failure"
	EventTrialStart     EventType = "trial_start"
	EventTrialEnd       EventType = "trial_end"
)

// Event is an append-only subscription history entry.
type Event struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscriptionId"`
	Type           EventType         `json:"type"`
	Description    string            `json:"description"`
	Data           map[string]string `json:"data,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// DefaultPlans is the catalogue seeded on a fresh install.
func DefaultPlans() []*Plan {
	return []*Plan{
		{
			ID: "pln_basico", Name: "Básico", Slug: "basico",
			Description:  "Ideal para academias pequenas que estão começando",
			MonthlyPrice: decimal.RequireFromString("49.90"), AnnualPrice: decimal.RequireFromString("499.00"),
			MaxStudents: 50, MaxInstructors: 3, MaxDisciplines: 2, MaxClasses: 10,
			Features: Features{WhatsApp: true, Graduation: true},
			Active:   true, Order: 1,
		},
		{
			ID: "pln_profissional", Name: "Profissional", Slug: "profissional",
			Description:  "Para academias em crescimento com mais recursos",
			MonthlyPrice: decimal.RequireFromString("99.90"), AnnualPrice: decimal.RequireFromString("999.00"),
			MaxStudents: 200, MaxInstructors: 10, MaxDisciplines: 5, MaxClasses: 50,
			Features: Features{WhatsApp: true, Graduation: true, AdvancedReports: true, AutoBackup: true},
			Active:   true, Popular: true, Order: 2,
		},
		{
			ID: "pln_enterprise", Name: "Enterprise", Slug: "enterprise",
			Description:  "Solução completa para grandes academias e redes",
			MonthlyPrice: decimal.RequireFromString("199.90"), AnnualPrice: decimal.RequireFromString("1999.00"),
			MaxStudents: 1000, MaxInstructors: 50, MaxDisciplines: 20, MaxClasses: 200,
			Features: Features{WhatsApp: true, Graduation: true, AdvancedReports: true, AutoBackup: true, PrioritySupport: true, APIAccess: true},
			Active:   true, Order: 3,
		},
	}
}
