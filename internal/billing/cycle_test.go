package billing

import (
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestInvoiceStatusAt(t *testing.T) {
	due := clock.Date(2025, 3, 10)
	paid := clock.Date(2025, 3, 12)

	tests := []struct {
		name  string
		inv   *Invoice
		today time.Time
		want  InvoiceStatus
	}{
		{"paid late is still paid", &Invoice{DueDate: due, PaidDate: &paid}, clock.Date(2025, 4, 1), InvoicePaid},
		{"due today is pending", &Invoice{DueDate: due}, due, InvoicePending},
		{"day after due is overdue", &Invoice{DueDate: due}, clock.Date(2025, 3, 11), InvoiceOverdue},
		{"before due is pending", &Invoice{DueDate: due}, clock.Date(2025, 3, 1), InvoicePending},
		{"time of day ignored", &Invoice{DueDate: due}, due.Add(23 * time.Hour), InvoicePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InvoiceStatusAt(tt.inv, tt.today))
		})
	}
}

func TestFirstDueDate(t *testing.T) {
	tests := []struct {
		name   string
		today  time.Time
		start  time.Time
		dueDay int
		want   time.Time
	}{
		{"start before due day", clock.Date(2025, 3, 10), clock.Date(2025, 3, 5), 15, clock.Date(2025, 3, 15)},
		{"start on due day", clock.Date(2025, 3, 10), clock.Date(2025, 3, 15), 15, clock.Date(2025, 3, 15)},
		{"start after due day rolls over", clock.Date(2025, 3, 10), clock.Date(2025, 3, 20), 15, clock.Date(2025, 4, 15)},
		{"clamped to february", clock.Date(2025, 2, 3), clock.Date(2025, 2, 3), 31, clock.Date(2025, 2, 28)},
		{"leap february", clock.Date(2024, 2, 3), clock.Date(2024, 2, 3), 30, clock.Date(2024, 2, 29)},
		{"december rolls into next year", clock.Date(2025, 12, 20), clock.Date(2025, 12, 20), 10, clock.Date(2026, 1, 10)},
		{"rolled month clamped", clock.Date(2025, 1, 31), clock.Date(2025, 1, 31), 30, clock.Date(2025, 2, 28)},
		{"uses today's month not start's", clock.Date(2025, 5, 2), clock.Date(2025, 3, 1), 10, clock.Date(2025, 5, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstDueDate(tt.today, tt.start, tt.dueDay))
		})
	}
}

func TestNextDueDate(t *testing.T) {
	assert.Equal(t, clock.Date(2025, 4, 10), NextDueDate(clock.Date(2025, 3, 10), 1))
	assert.Equal(t, clock.Date(2025, 2, 28), NextDueDate(clock.Date(2025, 1, 31), 1))
	assert.Equal(t, clock.Date(2026, 1, 15), NextDueDate(clock.Date(2025, 10, 15), 3))
	assert.Equal(t, clock.Date(2026, 3, 31), NextDueDate(clock.Date(2025, 3, 31), 12))
}

func TestDueThisMonth(t *testing.T) {
	next := clock.Date(2025, 4, 28)
	assert.False(t, dueThisMonth(clock.Date(2025, 3, 31), next))
	assert.True(t, dueThisMonth(clock.Date(2025, 4, 1), next))
	assert.True(t, dueThisMonth(clock.Date(2025, 5, 1), next))
	assert.True(t, dueThisMonth(clock.Date(2026, 1, 1), clock.Date(2025, 12, 5)))
}
