// Package billing runs an academy's student billing: plans, subscriptions and
// the monthly invoice cycle.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound         = errors.New("billing: plan not found")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrInvoiceNotFound      = errors.New("billing: invoice not found")
	ErrDuplicateInvoice     = errors.New("billing: invoice already exists for this due date")
	ErrProtected            = errors.New("billing: plan has subscriptions and cannot be deleted")
	ErrConcurrentStart      = errors.New("billing: another subscription was started for this student concurrently")
	ErrAlreadyActive        = errors.New("billing: student already has an active subscription")
	ErrInvalidTransition    = errors.New("billing: invalid subscription status change")
	ErrInvalidAmount        = errors.New("billing: price must not be negative")
	ErrInvalidRange         = errors.New("billing: start date is after end date")
)

// SubscriptionStatus is the lifecycle state of a student subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusFrozen   SubscriptionStatus = "frozen"
	StatusCanceled SubscriptionStatus = "canceled"
)

// InvoiceStatus is derived from the payment and due dates; it is never stored.
type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
	InvoicePending InvoiceStatus = "pending"
)

// Plan is a price an academy charges every DurationMonths months.
type Plan struct {
	ID             string          `json:"id"`
	AcademyID      string          `json:"academyId"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	DurationMonths int             `json:"durationMonths"`
	Description    string          `json:"description,omitempty"`
}

// Subscription ties a student to a plan. A student has at most one active
// subscription.
type Subscription struct {
	ID        string             `json:"id"`
	AcademyID string             `json:"academyId"`
	StudentID string             `json:"studentId"`
	PlanID    string             `json:"planId"`
	StartDate time.Time          `json:"startDate"`
	Status    SubscriptionStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Invoice is one charge of a subscription.
type Invoice struct {
	ID             string          `json:"id"`
	AcademyID      string          `json:"academyId"`
	SubscriptionID string          `json:"subscriptionId"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        time.Time       `json:"dueDate"`
	PaidDate       *time.Time      `json:"paidDate,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// InvoiceView is an invoice with its status on a given day.
type InvoiceView struct {
	*Invoice
	Status InvoiceStatus `json:"status"`
}

// View returns inv with its status as of today.
func View(inv *Invoice, today time.Time) InvoiceView {
	return InvoiceView{Invoice: inv, Status: InvoiceStatusAt(inv, today)}
}

// SkipReason explains why the generator left a subscription alone.
type SkipReason string

const (
	SkipNoInvoice SkipReason = "no_invoice"
	SkipUnpaid    SkipReason = "unpaid"
	SkipTooEarly  SkipReason = "too_early"
	SkipExists    SkipReason = "exists"
)

// GenerationReport summarises a GenerateDueInvoices run.
type GenerationReport struct {
	Date     time.Time          `json:"date"`
	Checked  int                `json:"checked"`
	Created  int                `json:"created"`
	Skipped  map[SkipReason]int `json:"skipped"`
	Failures map[string]string  `json:"failures,omitempty"` // academy ID -> first error
	Invoices []*Invoice         `json:"-"`
}

// FinancialStatus is a student's standing on the billing board.
type FinancialStatus string

const (
	FinanceNoPlan   FinancialStatus = "no_plan"
	FinanceUpToDate FinancialStatus = "up_to_date"
	FinancePending  FinancialStatus = "pending"
	FinanceOverdue  FinancialStatus = "overdue"
)

// StudentFinance is one row of the billing board.
type StudentFinance struct {
	StudentID    string          `json:"studentId"`
	StudentName  string          `json:"studentName"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Status       FinancialStatus `json:"status"`
	Pending      []InvoiceView   `json:"pending"`
}

// FinancialReport lists invoices due in a range with received and
// receivable totals.
type FinancialReport struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Status     InvoiceStatus   `json:"status,omitempty"`
	PlanID     string          `json:"planId,omitempty"`
	Invoices   []InvoiceView   `json:"invoices"`
	Received   decimal.Decimal `json:"received"`
	Receivable decimal.Decimal `json:"receivable"`
	Total      decimal.Decimal `json:"total"`
}
