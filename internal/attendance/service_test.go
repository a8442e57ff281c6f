package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/realtime"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToday = clock.Date(2025, 3, 10)

type published struct {
	academyID string
	eventType realtime.EventType
	data      map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(academyID string, t realtime.EventType, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{academyID, t, data})
}

type fixture struct {
	svc    *Service
	roster *roster.Service
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fixed(testToday.Add(15 * time.Hour))
	rs := roster.NewService(roster.NewMemoryStore(), clk)
	pub := &recordingPublisher{}
	svc := NewService(NewMemoryStore(), rs.Store(), clk).WithPublisher(pub)
	return &fixture{svc: svc, roster: rs, pub: pub}
}

func (f *fixture) student(t *testing.T, academyID, name string) *roster.Student {
	t.Helper()
	ctx := tenant.WithAcademy(context.Background(), &tenant.Academy{ID: academyID, Active: true})
	st, err := f.roster.CreateStudent(ctx, roster.StudentInput{FullName: name, BirthDate: "2000-01-01", Contact: "+5511999990000"})
	require.NoError(t, err)
	return st
}

func TestMark_GetOrCreate(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ac1", "Ana")
	ctx := context.Background()

	first, created, err := f.svc.Mark(ctx, "ac1", st.ID, nil, time.Time{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testToday, first.Date)

	second, created, err := f.svc.Mark(ctx, "ac1", st.ID, nil, testToday)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	marks, err := f.svc.List(ctx, "ac1", Filter{})
	require.NoError(t, err)
	assert.Len(t, marks, 1)

	require.Len(t, f.pub.events, 1, "only the first mark is broadcast")
	assert.Equal(t, "ac1", f.pub.events[0].academyID)
	assert.Equal(t, realtime.EventAttendanceMarked, f.pub.events[0].eventType)
	assert.Equal(t, st.ID, f.pub.events[0].data["studentId"])
}

func TestMark_OneRowPerDayRegardlessOfClass(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ac1", "Ana")
	ctx := tenant.WithAcademy(context.Background(), &tenant.Academy{ID: "ac1", Active: true})
	d, err := f.roster.CreateDiscipline(ctx, roster.DisciplineInput{Name: "Judo"})
	require.NoError(t, err)
	cls, err := f.roster.CreateClass(ctx, roster.ClassInput{DisciplineID: d.ID})
	require.NoError(t, err)

	_, created, err := f.svc.Mark(ctx, "ac1", st.ID, &cls.ID, testToday)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = f.svc.Mark(ctx, "ac1", st.ID, nil, testToday)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMark_ConcurrentSingleRow(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ac1", "Ana")

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := f.svc.Mark(context.Background(), "ac1", st.ID, nil, testToday)
			if err == nil && created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
}

func TestMark_Errors(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ac2", "Bruno")
	ctx := context.Background()

	_, _, err := f.svc.Mark(ctx, "ac1", st.ID, nil, testToday)
	assert.ErrorIs(t, err, roster.ErrStudentNotFound)

	_, _, err = f.svc.Mark(ctx, "ac2", st.ID, nil, testToday.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrFutureDate)

	missing := "cls_missing"
	_, _, err = f.svc.Mark(ctx, "ac2", st.ID, &missing, testToday)
	assert.ErrorIs(t, err, roster.ErrClassNotFound)
}

func TestCountSinceAndLast(t *testing.T) {
	f := newFixture(t)
	st := f.student(t, "ac1", "Ana")
	ctx := context.Background()

	last, err := f.svc.LastAttendance(ctx, "ac1", st.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, d := range []time.Time{testToday.AddDate(0, 0, -40), testToday.AddDate(0, 0, -5), testToday.AddDate(0, 0, -1)} {
		_, _, err := f.svc.Mark(ctx, "ac1", st.ID, nil, d)
		require.NoError(t, err)
	}
	n, err := f.svc.CountSince(ctx, "ac1", st.ID, testToday.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	last, err = f.svc.LastAttendance(ctx, "ac1", st.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, testToday.AddDate(0, 0, -1), *last)

	n, err = f.svc.CountSince(ctx, "ac2", st.ID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFrequency(t *testing.T) {
	f := newFixture(t)
	ana := f.student(t, "ac1", "Ana")
	bia := f.student(t, "ac1", "Bia")
	caio := f.student(t, "ac1", "Caio")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, _, err := f.svc.Mark(ctx, "ac1", ana.ID, nil, testToday.AddDate(0, 0, -i))
		require.NoError(t, err)
	}
	_, _, err := f.svc.Mark(ctx, "ac1", bia.ID, nil, testToday)
	require.NoError(t, err)
	// outside the default window
	_, _, err = f.svc.Mark(ctx, "ac1", caio.ID, nil, testToday.AddDate(0, 0, -45))
	require.NoError(t, err)

	report, err := f.svc.Frequency(ctx, "ac1", time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, testToday, report.To)
	assert.Equal(t, testToday.AddDate(0, 0, -30), report.From)
	require.Len(t, report.Rows, 3)
	assert.Equal(t, "Caio", report.Rows[0].StudentName)
	assert.Equal(t, 0, report.Rows[0].Count)
	assert.Equal(t, "Ana", report.Rows[2].StudentName)
	assert.Equal(t, 4, report.Total)

	_, err = f.svc.Frequency(ctx, "ac1", testToday, testToday.AddDate(0, 0, -1), "")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRollCallAndCalendar(t *testing.T) {
	f := newFixture(t)
	ana := f.student(t, "ac1", "Ana")
	f.student(t, "ac1", "Bia")
	ctx := context.Background()

	_, _, err := f.svc.Mark(ctx, "ac1", ana.ID, nil, testToday)
	require.NoError(t, err)
	_, _, err = f.svc.Mark(ctx, "ac1", ana.ID, nil, clock.Date(2025, 3, 3))
	require.NoError(t, err)

	entries, err := f.svc.RollCall(ctx, "ac1", time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Present)
	assert.False(t, entries[1].Present)

	first, days, err := f.svc.Calendar(ctx, "ac1", ana.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, clock.Date(2025, 3, 1), first)
	assert.Equal(t, []int{3, 10}, days)

	_, days, err = f.svc.Calendar(ctx, "ac1", ana.ID, 2025, time.February)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestNonTeachingDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.AddDay(ctx, "ac1", DayInput{Date: "2025-04-21", Description: "Tiradentes"})
	require.NoError(t, err)
	_, err = f.svc.AddDay(ctx, "ac1", DayInput{Date: "2025-04-21", Description: "again"})
	assert.ErrorIs(t, err, ErrDuplicateDay)
	_, err = f.svc.AddDay(ctx, "ac2", DayInput{Date: "2025-04-21", Description: "Tiradentes"})
	require.NoError(t, err)

	days, err := f.svc.ListDays(ctx, "ac1")
	require.NoError(t, err)
	assert.Len(t, days, 1)

	assert.ErrorIs(t, f.svc.DeleteDay(ctx, "ac2", d.ID), ErrDayNotFound)
	require.NoError(t, f.svc.DeleteDay(ctx, "ac1", d.ID))
}
