package billing

import (
	"time"

	"github.com/mbd888/dojo/internal/clock"
)

// InvoiceStatusAt derives an invoice's status on today: paid when a payment
// date is set, overdue when today is past the due date, pending otherwise.
func InvoiceStatusAt(inv *Invoice, today time.Time) InvoiceStatus {
	if inv.PaidDate != nil {
		return InvoicePaid
	}
	if clock.DateOf(today).After(inv.DueDate) {
		return InvoiceOverdue
	}
	return InvoicePending
}

// FirstDueDate is the due date of a new subscription's first invoice. It
// falls in today's month, or the next one when the subscription starts
// after the student's due day, clamped to the month's last day.
func FirstDueDate(today, start time.Time, dueDay int) time.Time {
	year, month := today.Year(), today.Month()
	if start.Day() > dueDay {
		month++
	}
	return clock.ClampedDate(year, month, dueDay)
}

// NextDueDate adds a plan's duration to the previous due date.
func NextDueDate(prev time.Time, months int) time.Time {
	return clock.AddMonths(prev, months)
}

// dueThisMonth reports whether an invoice due on next may be created today:
// today's (year, month) has reached next's.
func dueThisMonth(today, next time.Time) bool {
	return clock.MonthIndex(today) >= clock.MonthIndex(next)
}
