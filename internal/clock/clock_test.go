package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, Date(2024, time.February, 29), AddMonths(Date(2024, time.January, 31), 1))
	assert.Equal(t, Date(2023, time.February, 28), AddMonths(Date(2023, time.January, 31), 1))
	assert.Equal(t, Date(2025, time.January, 15), AddMonths(Date(2024, time.December, 15), 1))
	assert.Equal(t, Date(2024, time.July, 15), AddMonths(Date(2024, time.January, 15), 6))
	assert.Equal(t, Date(2023, time.December, 31), AddMonths(Date(2024, time.March, 31), -3))
}

func TestClampedDate(t *testing.T) {
	assert.Equal(t, Date(2024, time.April, 30), ClampedDate(2024, time.April, 31))
	assert.Equal(t, Date(2025, time.January, 10), ClampedDate(2024, time.Month(13), 10))
}

func TestDaysIn(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2100, time.February))
	assert.Equal(t, 31, DaysIn(2024, time.December))
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name     string
		from, to time.Time
		want     Delta
	}{
		{"same day", Date(2024, 7, 15), Date(2024, 7, 15), Delta{}},
		{"days only", Date(2024, 7, 15), Date(2024, 7, 20), Delta{Days: 5}},
		{"month and days", Date(2024, 7, 15), Date(2024, 8, 20), Delta{Months: 1, Days: 5}},
		{"short month", Date(2024, 1, 31), Date(2024, 3, 1), Delta{Months: 1, Days: 1}},
		{"years", Date(2022, 3, 10), Date(2024, 5, 12), Delta{Years: 2, Months: 2, Days: 2}},
		{"negative", Date(2024, 7, 15), Date(2024, 7, 10), Delta{Days: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Between(tt.from, tt.to))
		})
	}
}

func TestToday_UsesClockDate(t *testing.T) {
	c := Fixed(time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, Date(2024, 3, 5), Today(c))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, time.February, 29), d)

	_, err = ParseDate("2023-02-29")
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = ParseDate("29/02/2024")
	assert.ErrorIs(t, err, ErrInvalidDate)

	none, err := ParseOptionalDate("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
